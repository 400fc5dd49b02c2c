package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/formation-gds/coursedesk/internal/api"
	"github.com/formation-gds/coursedesk/internal/services"
)

// SQLiteStore persists the moderation data in a single SQLite file. All time
// columns are RFC 3339 text; list-valued columns are JSON text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

var _ api.Store = (*SQLiteStore)(nil)

// Fixed-width layout so lexical ordering on the column matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func encodeTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := decodeTime(ns.String)
	return &t
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStrings(ns sql.NullString) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

func decodeStructure(ns sql.NullString) map[string]api.Chapter {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out map[string]api.Chapter
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

const questionColumns = `doc_id, legacy_id, course_id, question_text, variable_used,
	chapter_number, lesson_number, status, date_submitted, time_submitted,
	submitted_at, approved_at, approved_by, answer, answered_at, answered_by,
	telegram_message_id`

func scanQuestion(row interface{ Scan(...any) error }) (*api.Question, error) {
	var q api.Question
	var legacy, variable, dateSub, timeSub, approvedAt, approvedBy, answer, answeredAt, answeredBy sql.NullString
	var submittedAt string
	err := row.Scan(&q.DocID, &legacy, &q.CourseID, &q.QuestionText, &variable,
		&q.ChapterNumber, &q.LessonNumber, &q.Status, &dateSub, &timeSub,
		&submittedAt, &approvedAt, &approvedBy, &answer, &answeredAt, &answeredBy,
		&q.TelegramMessageID)
	if err != nil {
		return nil, err
	}
	q.ID = legacy.String
	q.VariableUsed = variable.String
	q.DateSubmitted = dateSub.String
	q.TimeSubmitted = timeSub.String
	q.Timestamp = decodeTime(submittedAt)
	q.ApprovedAt = decodeTimePtr(approvedAt)
	q.ApprovedBy = approvedBy.String
	q.Answer = answer.String
	q.AnsweredAt = decodeTimePtr(answeredAt)
	q.AnsweredBy = answeredBy.String
	return &q, nil
}

func (s *SQLiteStore) InsertQuestion(q *api.Question) (*api.Question, error) {
	_, err := s.db.Exec(`INSERT INTO questions (`+questionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.DocID, q.ID, q.CourseID, q.QuestionText, q.VariableUsed,
		q.ChapterNumber, q.LessonNumber, q.Status, q.DateSubmitted, q.TimeSubmitted,
		encodeTime(q.Timestamp), encodeTimePtr(q.ApprovedAt), q.ApprovedBy,
		q.Answer, encodeTimePtr(q.AnsweredAt), q.AnsweredBy, q.TelegramMessageID)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	out := *q
	return &out, nil
}

func (s *SQLiteStore) GetQuestion(docID string) (*api.Question, error) {
	row := s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE doc_id = ?`, docID)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (s *SQLiteStore) FindQuestionByLegacyID(id string) (*api.Question, error) {
	row := s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE legacy_id = ? AND legacy_id != '' LIMIT 1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (s *SQLiteStore) UpdateQuestion(q *api.Question) error {
	res, err := s.db.Exec(`UPDATE questions SET legacy_id = ?, course_id = ?, question_text = ?,
		variable_used = ?, chapter_number = ?, lesson_number = ?, status = ?,
		date_submitted = ?, time_submitted = ?, submitted_at = ?, approved_at = ?,
		approved_by = ?, answer = ?, answered_at = ?, answered_by = ?, telegram_message_id = ?
		WHERE doc_id = ?`,
		q.ID, q.CourseID, q.QuestionText, q.VariableUsed, q.ChapterNumber,
		q.LessonNumber, q.Status, q.DateSubmitted, q.TimeSubmitted,
		encodeTime(q.Timestamp), encodeTimePtr(q.ApprovedAt), q.ApprovedBy,
		q.Answer, encodeTimePtr(q.AnsweredAt), q.AnsweredBy, q.TelegramMessageID, q.DocID)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("question not found")
	}
	return nil
}

func (s *SQLiteStore) DeleteQuestion(docID string) error {
	res, err := s.db.Exec(`DELETE FROM questions WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("question not found")
	}
	return nil
}

func (s *SQLiteStore) ListQuestions(courseIDs []string, limit int) ([]*api.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions`
	var args []any
	if len(courseIDs) > 0 {
		placeholders := strings.Repeat("?,", len(courseIDs))
		query += ` WHERE course_id IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range courseIDs {
			args = append(args, strings.ToLower(id))
		}
	}
	query += ` ORDER BY submitted_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	out := []*api.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCourse(id string) (*api.Course, error) {
	row := s.db.QueryRow(`SELECT course_id, course_name, structure, instructor_ids,
		telegram_bot_token, telegram_channel_id, active, auto_created, created_at
		FROM courses WHERE course_id = ?`, id)
	c, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func scanCourse(row interface{ Scan(...any) error }) (*api.Course, error) {
	var c api.Course
	var structure, instructors, botToken, channelID sql.NullString
	var createdAt string
	err := row.Scan(&c.CourseID, &c.CourseName, &structure, &instructors,
		&botToken, &channelID, &c.Active, &c.AutoCreated, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Structure = decodeStructure(structure)
	c.InstructorIDs = decodeStrings(instructors)
	c.TelegramBotToken = botToken.String
	c.TelegramChannelID = channelID.String
	c.CreatedAt = decodeTime(createdAt)
	return &c, nil
}

func (s *SQLiteStore) UpsertCourse(c *api.Course) error {
	structure, err := encodeJSON(c.Structure)
	if err != nil {
		return fmt.Errorf("encode structure: %w", err)
	}
	instructors, err := encodeJSON(c.InstructorIDs)
	if err != nil {
		return fmt.Errorf("encode instructors: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO courses (course_id, course_name, structure, instructor_ids,
		telegram_bot_token, telegram_channel_id, active, auto_created, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(course_id) DO UPDATE SET
			course_name = excluded.course_name,
			structure = excluded.structure,
			instructor_ids = excluded.instructor_ids,
			telegram_bot_token = excluded.telegram_bot_token,
			telegram_channel_id = excluded.telegram_channel_id,
			active = excluded.active,
			auto_created = excluded.auto_created,
			created_at = excluded.created_at`,
		c.CourseID, c.CourseName, structure, instructors,
		c.TelegramBotToken, c.TelegramChannelID, c.Active, c.AutoCreated, encodeTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCourse(id string) error {
	if _, err := s.db.Exec(`DELETE FROM courses WHERE course_id = ?`, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCourses() ([]*api.Course, error) {
	rows, err := s.db.Query(`SELECT course_id, course_name, structure, instructor_ids,
		telegram_bot_token, telegram_channel_id, active, auto_created, created_at
		FROM courses ORDER BY course_id`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()
	out := []*api.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetUser(uid string) (*api.User, error) {
	row := s.db.QueryRow(`SELECT uid, email, display_name, photo_url, role,
		assigned_courses, active, created_at, last_login_at FROM users WHERE uid = ?`, uid)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func scanUser(row interface{ Scan(...any) error }) (*api.User, error) {
	var u api.User
	var displayName, photoURL, assigned, lastLogin sql.NullString
	var createdAt string
	err := row.Scan(&u.UID, &u.Email, &displayName, &photoURL, &u.Role,
		&assigned, &u.Active, &createdAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	u.DisplayName = displayName.String
	u.PhotoURL = photoURL.String
	u.AssignedCourses = decodeStrings(assigned)
	u.CreatedAt = decodeTime(createdAt)
	u.LastLoginAt = decodeTimePtr(lastLogin)
	return &u, nil
}

func (s *SQLiteStore) ListUsers() ([]*api.User, error) {
	rows, err := s.db.Query(`SELECT uid, email, display_name, photo_url, role,
		assigned_courses, active, created_at, last_login_at FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	out := []*api.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertUser(u *api.User) error {
	assigned, err := encodeJSON(u.AssignedCourses)
	if err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO users (uid, email, display_name, photo_url, role,
		assigned_courses, active, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			photo_url = excluded.photo_url,
			role = excluded.role,
			assigned_courses = excluded.assigned_courses,
			active = excluded.active,
			created_at = excluded.created_at,
			last_login_at = excluded.last_login_at`,
		u.UID, u.Email, u.DisplayName, u.PhotoURL, u.Role,
		assigned, u.Active, encodeTime(u.CreatedAt), encodeTimePtr(u.LastLoginAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(uid string) error {
	if _, err := s.db.Exec(`DELETE FROM users WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCredentialByEmail(email string) (*api.Credential, error) {
	row := s.db.QueryRow(`SELECT uid, email, pass_hash, created_at FROM credentials WHERE email = ?`, email)
	var c api.Credential
	var createdAt string
	err := row.Scan(&c.UID, &c.Email, &c.PassHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c.CreatedAt = decodeTime(createdAt)
	return &c, nil
}

func (s *SQLiteStore) AddCredential(c *api.Credential) error {
	_, err := s.db.Exec(`INSERT INTO credentials (uid, email, pass_hash, created_at) VALUES (?, ?, ?, ?)`,
		c.UID, c.Email, c.PassHash, encodeTime(c.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return services.NewConflictError("email exists")
		}
		return fmt.Errorf("add credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCredentialByUID(uid string) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// AddAudit is best-effort: an audit write never fails the operation it records.
func (s *SQLiteStore) AddAudit(e api.AuditEntry) {
	_, err := s.db.Exec(`INSERT INTO audit_log (at, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		encodeTime(e.Time), e.Actor, e.Action, e.Target, e.Note)
	if err != nil {
		log.Printf("sqlite store: add audit: %v", err)
	}
}

func (s *SQLiteStore) ListAudit() []api.AuditEntry {
	rows, err := s.db.Query(`SELECT at, actor, action, target, note FROM audit_log ORDER BY id`)
	if err != nil {
		log.Printf("sqlite store: list audit: %v", err)
		return nil
	}
	defer rows.Close()
	var out []api.AuditEntry
	for rows.Next() {
		var e api.AuditEntry
		var at string
		var actor, target, note sql.NullString
		if err := rows.Scan(&at, &actor, &e.Action, &target, &note); err != nil {
			log.Printf("sqlite store: scan audit: %v", err)
			return out
		}
		e.Time = decodeTime(at)
		e.Actor = actor.String
		e.Target = target.String
		e.Note = note.String
		out = append(out, e)
	}
	return out
}
