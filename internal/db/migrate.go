package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the schema scripts in lexical order. When dir points
// at an existing directory its scripts replace the embedded ones, which lets
// an operator hotfix the schema without rebuilding.
func RunMigrations(db *sql.DB, dir string) error {
	fsys, err := migrationSource(dir)
	if err != nil {
		return err
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(script) == 0 {
			continue
		}
		if _, err := db.Exec(string(script)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

func migrationSource(dir string) (fs.FS, error) {
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return os.DirFS(dir), nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat migrations dir: %w", err)
		}
	}
	return fs.Sub(embeddedMigrations, "migrations")
}
