package db

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/formation-gds/coursedesk/internal/api"
	"github.com/formation-gds/coursedesk/internal/services"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := RunMigrations(conn, ""); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := NewSQLiteStore(conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestQuestionRoundTripAndLegacyLookup(t *testing.T) {
	store := newTestStore(t)
	approvedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &api.Question{
		ID: "legacy-1", DocID: "D1", CourseID: "lig", QuestionText: "What is b1?",
		VariableUsed: "b1", ChapterNumber: 2, LessonNumber: 3, Status: "approved",
		DateSubmitted: "3/1/2026", TimeSubmitted: "10:00:00 AM",
		Timestamp: approvedAt.Add(-time.Hour), ApprovedAt: &approvedAt, ApprovedBy: "CS1",
	}
	if _, err := store.InsertQuestion(in); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetQuestion("D1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.ID != "legacy-1" || got.Status != "approved" || got.VariableUsed != "b1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(approvedAt) {
		t.Fatalf("approvedAt mismatch: %v", got.ApprovedAt)
	}

	byLegacy, err := store.FindQuestionByLegacyID("legacy-1")
	if err != nil || byLegacy == nil || byLegacy.DocID != "D1" {
		t.Fatalf("legacy lookup: %v %v", byLegacy, err)
	}
	if missing, err := store.FindQuestionByLegacyID("nope"); err != nil || missing != nil {
		t.Fatalf("expected nil for unknown legacy id, got %v %v", missing, err)
	}
}

func TestListQuestionsOrderScopeAndLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, course := range []string{"lig", "anova", "lig"} {
		_, err := store.InsertQuestion(&api.Question{
			DocID: string(rune('A' + i)), CourseID: course, QuestionText: "q",
			Status: "pending", Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	all, err := store.ListQuestions(nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].DocID != "C" || all[2].DocID != "A" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	scoped, err := store.ListQuestions([]string{"LIG"}, 0)
	if err != nil || len(scoped) != 2 {
		t.Fatalf("scoped list: %d %v", len(scoped), err)
	}

	capped, err := store.ListQuestions(nil, 1)
	if err != nil || len(capped) != 1 || capped[0].DocID != "C" {
		t.Fatalf("capped list: %+v %v", capped, err)
	}
}

func TestDeleteQuestionMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.DeleteQuestion("missing")
	se, ok := services.AsServiceError(err)
	if !ok || se.Code != services.ErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestCourseUpsertPreservesStructure(t *testing.T) {
	store := newTestStore(t)
	c := &api.Course{
		CourseID: "lig", CourseName: "Linear Regression",
		Structure: map[string]api.Chapter{
			"cH1": {Title: "Foundations", Lessons: map[string]string{"L1": "Variables"}},
		},
		InstructorIDs: []string{"IN1"}, Active: true, CreatedAt: time.Now(),
	}
	if err := store.UpsertCourse(c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	c.CourseName = "Linear Regression II"
	if err := store.UpsertCourse(c); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetCourse("lig")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.CourseName != "Linear Regression II" {
		t.Fatalf("upsert did not replace name: %q", got.CourseName)
	}
	if got.Structure["cH1"].Lessons["L1"] != "Variables" || got.InstructorIDs[0] != "IN1" {
		t.Fatalf("json columns lost data: %+v", got)
	}
}

func TestCredentialUniqueEmail(t *testing.T) {
	store := newTestStore(t)
	cred := &api.Credential{UID: "U1", Email: "a@example.com", PassHash: []byte("h"), CreatedAt: time.Now()}
	if err := store.AddCredential(cred); err != nil {
		t.Fatalf("add: %v", err)
	}
	dup := &api.Credential{UID: "U2", Email: "a@example.com", PassHash: []byte("h"), CreatedAt: time.Now()}
	err := store.AddCredential(dup)
	se, ok := services.AsServiceError(err)
	if !ok || se.Code != services.ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := store.GetCredentialByEmail("a@example.com")
	if err != nil || got == nil || got.UID != "U1" {
		t.Fatalf("lookup: %v %v", got, err)
	}
}

func TestUserUpsertAndAudit(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	u := &api.User{UID: "U1", Email: "a@example.com", Role: "instructor", AssignedCourses: []string{"lig"}, Active: false, CreatedAt: now}
	if err := store.UpsertUser(u); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u.Active = true
	u.LastLoginAt = &now
	if err := store.UpsertUser(u); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := store.GetUser("U1")
	if err != nil || got == nil || !got.Active || got.LastLoginAt == nil {
		t.Fatalf("get user: %+v %v", got, err)
	}

	store.AddAudit(api.AuditEntry{Time: now, Actor: "U1", Action: "activate_user", Target: "U1"})
	entries := store.ListAudit()
	if len(entries) != 1 || entries[0].Action != "activate_user" {
		t.Fatalf("audit: %+v", entries)
	}
}
