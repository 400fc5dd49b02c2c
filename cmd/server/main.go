package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"github.com/formation-gds/coursedesk/internal/api"
	"github.com/formation-gds/coursedesk/internal/db"
	"github.com/formation-gds/coursedesk/internal/middleware"
	"github.com/formation-gds/coursedesk/internal/services"
	"github.com/formation-gds/coursedesk/internal/utils"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	addr := utils.SafeEnv("COURSEDESK_ADDR", ":8080")
	commit := os.Getenv("COURSEDESK_COMMIT")
	buildTime := os.Getenv("COURSEDESK_BUILD_TIME")

	store, err := openStore()
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	channel := services.NewTelegramPublisher(&http.Client{Timeout: 15 * time.Second})
	router := api.NewRouter(store, channel)

	if email, password := os.Getenv("COURSEDESK_ADMIN_EMAIL"), os.Getenv("COURSEDESK_ADMIN_PASSWORD"); email != "" && password != "" {
		if err := router.SeedAdmin(email, password); err != nil {
			log.Fatalf("seed admin: %v", err)
		}
	}

	mux := http.NewServeMux()
	router.Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "CourseDesk API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	handler := middleware.NoStore(middleware.SecureHeaders(middleware.CORS(middleware.LocaleMiddleware(middleware.WithAuth(mux)))))

	log.Printf("CourseDesk server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openStore selects the backend from COURSEDESK_STORE: memory (default),
// sqlite or mongo.
func openStore() (api.Store, error) {
	switch utils.SafeEnv("COURSEDESK_STORE", "memory") {
	case "sqlite":
		path := utils.SafeEnv("COURSEDESK_SQLITE_PATH", "coursedesk.db")
		conn, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(conn, os.Getenv("COURSEDESK_MIGRATIONS_DIR")); err != nil {
			return nil, err
		}
		log.Printf("using sqlite store at %s", path)
		store, err := db.NewSQLiteStore(conn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mongo":
		uri := utils.SafeEnv("COURSEDESK_MONGO_URI", "mongodb://localhost:27017")
		name := utils.SafeEnv("COURSEDESK_MONGO_DB", "coursedesk")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		client, err := db.ConnectMongo(ctx, uri)
		if err != nil {
			return nil, err
		}
		log.Printf("using mongo store %s/%s", uri, name)
		store, err := db.NewMongoStore(ctx, client.Database(name))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		log.Printf("using in-memory store; data is lost on restart")
		return api.NewMemoryStore(), nil
	}
}
