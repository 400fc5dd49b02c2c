package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/formation-gds/coursedesk/internal/middleware"
	"github.com/formation-gds/coursedesk/internal/services"
)

type fakeChannel struct {
	publishErr error
	published  []string
	testErr    error
}

func (f *fakeChannel) Publish(ctx context.Context, botToken, chatID string, q *services.Question, answer string, info services.LessonInfo) (int64, error) {
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	f.published = append(f.published, answer)
	return 42, nil
}

func (f *fakeChannel) TestConnection(ctx context.Context, botToken, chatID string) error {
	return f.testErr
}

func newTestServer(t *testing.T, channel services.ChannelClient) (*httptest.Server, Store) {
	t.Helper()
	store := NewMemoryStore()
	rt := NewRouter(store, channel)
	mux := http.NewServeMux()
	rt.Register(mux)
	srv := httptest.NewServer(middleware.WithAuth(middleware.LocaleMiddleware(mux)))
	t.Cleanup(srv.Close)
	return srv, store
}

func seedUser(t *testing.T, store Store, uid, email, password, role string, assigned []string, active bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := store.AddCredential(&Credential{UID: uid, Email: email, PassHash: hash, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	if err := store.UpsertUser(&User{UID: uid, Email: email, Role: role, AssignedCourses: assigned, Active: active, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func login(t *testing.T, base, email, password string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/auth/login", "", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d body %v", email, resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	if tok == "" {
		t.Fatalf("login %s: no token in %v", email, body)
	}
	return tok
}

func TestCaptureIsUnauthenticatedAndDefaults(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChannel{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{
		"courseId":     "LIG",
		"questionText": "What does coefficient b1 represent?",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("capture status %d body %v", resp.StatusCode, body)
	}
	if body["docId"] == "" || body["docId"] == nil {
		t.Fatalf("expected generated docId, got %v", body)
	}
	if body["status"] != "pending" {
		t.Fatalf("expected pending status, got %v", body["status"])
	}
	if body["courseId"] != "lig" {
		t.Fatalf("expected lowercased course id, got %v", body["courseId"])
	}
}

func TestFeedRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChannel{})
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/questions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestModerationFlowApproveAnswerPublish(t *testing.T) {
	channel := &fakeChannel{}
	srv, store := newTestServer(t, channel)
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	seedUser(t, store, "IN1", "prof@example.com", "pw", "instructor", []string{"lig"}, true)
	token := login(t, srv.URL, "support@example.com", "pw")
	instructor := login(t, srv.URL, "prof@example.com", "pw")

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{
		"courseId": "lig", "questionText": "Why is R squared low?", "chapterNumber": 2, "lessonNumber": 3,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("capture status %d", resp.StatusCode)
	}
	docID, _ := created["docId"].(string)

	resp, approved := doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/approve", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d body %v", resp.StatusCode, approved)
	}
	if approved["status"] != "approved" {
		t.Fatalf("expected approved, got %v", approved["status"])
	}

	// Approval auto-created the course; configure its channel before answering.
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/courses/lig", token, map[string]any{
		"courseName": "Linear Regression", "telegramBotToken": "tok", "telegramChannelId": "@chan", "active": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("course update status %d", resp.StatusCode)
	}

	resp, answered := doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/answer", instructor, map[string]string{"answer": "Add more predictors."})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status %d body %v", resp.StatusCode, answered)
	}
	if answered["status"] != "answered" {
		t.Fatalf("expected answered, got %v", answered["status"])
	}
	if answered["telegramMessageId"] != float64(42) {
		t.Fatalf("expected published message id 42, got %v", answered["telegramMessageId"])
	}
	if len(channel.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(channel.published))
	}
}

func TestAnswerPublishFailureLeavesQuestionApproved(t *testing.T) {
	channel := &fakeChannel{publishErr: services.NewBadGatewayError("telegram: chat not found")}
	srv, store := newTestServer(t, channel)
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	seedUser(t, store, "IN1", "prof@example.com", "pw", "instructor", []string{"lig"}, true)
	token := login(t, srv.URL, "support@example.com", "pw")
	instructor := login(t, srv.URL, "prof@example.com", "pw")

	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "lig", "questionText": "q"})
	docID, _ := created["docId"].(string)
	doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/approve", token, nil)
	doJSON(t, http.MethodPut, srv.URL+"/api/courses/lig", token, map[string]any{
		"courseName": "LIG", "telegramBotToken": "tok", "telegramChannelId": "@chan", "active": true,
	})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/answer", instructor, map[string]string{"answer": "late answer"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body %v", resp.StatusCode, body)
	}

	q, err := store.GetQuestion(docID)
	if err != nil || q == nil {
		t.Fatalf("question gone: %v", err)
	}
	if q.Status != "approved" || q.Answer != "" {
		t.Fatalf("publish failure must not persist the answer, got status=%s answer=%q", q.Status, q.Answer)
	}
}

func TestAnswerRequiresAssignedInstructor(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	seedUser(t, store, "IN1", "other@example.com", "pw", "instructor", []string{"anova"}, true)
	support := login(t, srv.URL, "support@example.com", "pw")
	other := login(t, srv.URL, "other@example.com", "pw")

	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "lig", "questionText": "q"})
	docID, _ := created["docId"].(string)
	doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/approve", support, nil)

	// Answering belongs to instructors; moderators only approve.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/answer", support, map[string]string{"answer": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("support answer: expected 403, got %d", resp.StatusCode)
	}

	// An instructor assigned to a different course is equally forbidden.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/answer", other, map[string]string{"answer": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unassigned instructor answer: expected 403, got %d", resp.StatusCode)
	}

	q, err := store.GetQuestion(docID)
	if err != nil || q == nil {
		t.Fatalf("question gone: %v", err)
	}
	if q.Status != "approved" || q.AnsweredBy != "" {
		t.Fatalf("forbidden answer must not change the record, got status=%s answeredBy=%q", q.Status, q.AnsweredBy)
	}
}

func TestCourseAutoCreatedOnApproval(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	token := login(t, srv.URL, "support@example.com", "pw")

	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "LIG", "questionText": "q"})
	docID, _ := created["docId"].(string)
	doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/approve", token, nil)

	c, err := store.GetCourse("lig")
	if err != nil || c == nil {
		t.Fatalf("expected auto-created course, got %v err %v", c, err)
	}
	if !c.AutoCreated || c.CourseName != "LIG Course" {
		t.Fatalf("unexpected placeholder course: %+v", c)
	}
}

func TestInstructorScopingAndStats(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	seedUser(t, store, "IN1", "prof@example.com", "pw", "instructor", []string{"lig"}, true)
	seedUser(t, store, "IN2", "new@example.com", "pw", "instructor", nil, true)

	doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "lig", "questionText": "a"})
	doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "anova", "questionText": "b"})

	support := login(t, srv.URL, "support@example.com", "pw")
	assigned := login(t, srv.URL, "prof@example.com", "pw")
	unassigned := login(t, srv.URL, "new@example.com", "pw")

	_, body := doJSON(t, http.MethodGet, srv.URL+"/api/questions", support, nil)
	if got := len(body["questions"].([]any)); got != 2 {
		t.Fatalf("support sees %d questions, want 2", got)
	}
	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/questions", assigned, nil)
	if got := len(body["questions"].([]any)); got != 1 {
		t.Fatalf("assigned instructor sees %d questions, want 1", got)
	}
	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/questions", unassigned, nil)
	if got := len(body["questions"].([]any)); got != 0 {
		t.Fatalf("unassigned instructor sees %d questions, want 0", got)
	}

	_, stats := doJSON(t, http.MethodGet, srv.URL+"/api/stats", unassigned, nil)
	if stats["totalQuestions"] != float64(0) {
		t.Fatalf("unassigned instructor stats must be zero, got %v", stats)
	}
	_, stats = doJSON(t, http.MethodGet, srv.URL+"/api/stats", support, nil)
	if stats["totalQuestions"] != float64(2) || stats["pendingCount"] != float64(2) {
		t.Fatalf("support stats wrong: %v", stats)
	}
}

func TestInstructorCannotApproveOrManage(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "IN1", "prof@example.com", "pw", "instructor", []string{"lig"}, true)
	token := login(t, srv.URL, "prof@example.com", "pw")

	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "lig", "questionText": "q"})
	docID, _ := created["docId"].(string)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/questions/"+docID+"/approve", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("instructor approve: expected 403, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/users", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("instructor user list: expected 403, got %d", resp.StatusCode)
	}
}

func TestLoginPendingAndInactiveMessages(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChannel{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", map[string]string{"email": "new@example.com", "password": "pw"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d body %v", resp.StatusCode, body)
	}

	// First sign-in provisions an inactive profile and denies with the
	// pending-approval message.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{"email": "new@example.com", "password": "pw"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %v", resp.StatusCode, body)
	}
	msg := errMessage(body)
	if !strings.Contains(msg, "approval") {
		t.Fatalf("expected pending-approval message, got %q", msg)
	}

	// Second sign-in finds the existing inactive profile.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{"email": "new@example.com", "password": "pw"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	msg = errMessage(body)
	if !strings.Contains(msg, "inactive") {
		t.Fatalf("expected inactive message, got %q", msg)
	}
}

func errMessage(body map[string]any) string {
	if e, ok := body["error"].(map[string]any); ok {
		if m, ok := e["message"].(string); ok {
			return m
		}
	}
	return ""
}

func TestDualIdentifierDelete(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	token := login(t, srv.URL, "support@example.com", "pw")

	// A record written by the legacy producer carries its own logical id.
	if _, err := store.InsertQuestion(&Question{ID: "legacy-7", DocID: "D7", CourseID: "lig", QuestionText: "q", Status: "pending", Timestamp: time.Now()}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/questions/legacy-7", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete by legacy id: status %d", resp.StatusCode)
	}
	if q, _ := store.GetQuestion("D7"); q != nil {
		t.Fatalf("expected record removed, still present: %+v", q)
	}
}

func TestBulkDeleteReportsCounts(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	token := login(t, srv.URL, "support@example.com", "pw")

	var ids []string
	for i := 0; i < 3; i++ {
		_, created := doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "lig", "questionText": fmt.Sprintf("q%d", i)})
		ids = append(ids, created["docId"].(string))
	}
	ids = append(ids, "missing-1")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/questions/bulk-delete", token, map[string]any{"ids": ids})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk delete status %d", resp.StatusCode)
	}
	if body["deleted"] != float64(3) || body["failed"] != float64(1) {
		t.Fatalf("unexpected counts: %v", body)
	}
}

func TestStructureImportExportRoundTrip(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	token := login(t, srv.URL, "support@example.com", "pw")

	doJSON(t, http.MethodPost, srv.URL+"/api/courses", token, map[string]any{"courseId": "lig", "courseName": "Linear Regression"})

	structure := map[string]any{
		"cH1": map[string]any{"title": "Foundations", "lessons": map[string]string{"L1": "Variables", "L2": "Models"}},
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/courses/lig/structure/import", token, structure)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status %d body %v", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/courses/lig/structure/export", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer res.Body.Close()
	var exported map[string]struct {
		Title   string            `json:"title"`
		Lessons map[string]string `json:"lessons"`
	}
	if err := json.NewDecoder(res.Body).Decode(&exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if exported["cH1"].Title != "Foundations" || exported["cH1"].Lessons["L2"] != "Models" {
		t.Fatalf("round trip mismatch: %+v", exported)
	}
}

func TestUserCreateAndToggle(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	token := login(t, srv.URL, "support@example.com", "pw")

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/users", token, map[string]any{
		"email": "Prof@Example.com", "displayName": "Prof", "password": "pw", "role": "instructor", "assignedCourses": []string{"LIG"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d body %v", resp.StatusCode, created)
	}
	uid, _ := created["uid"].(string)
	if uid == "" {
		t.Fatalf("no uid in %v", created)
	}

	// The created account can sign in immediately; no pending state.
	profToken := login(t, srv.URL, "prof@example.com", "pw")
	if profToken == "" {
		t.Fatal("expected working login for created user")
	}

	resp, toggled := doJSON(t, http.MethodPost, srv.URL+"/api/users/"+uid+"/toggle", token, nil)
	if resp.StatusCode != http.StatusOK || toggled["active"] != false {
		t.Fatalf("toggle: status %d body %v", resp.StatusCode, toggled)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{"email": "prof@example.com", "password": "pw"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("deactivated login: expected 403, got %d body %v", resp.StatusCode, body)
	}
}

func TestSeedAdminIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	rt := NewRouter(store, nil)
	if err := rt.SeedAdmin("admin@example.com", "pw"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := rt.SeedAdmin("other@example.com", "pw"); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	users, err := store.ListUsers()
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Email != "admin@example.com" {
		t.Fatalf("expected single seeded admin, got %+v", users)
	}
}

func TestQuestionStreamSendsSnapshot(t *testing.T) {
	srv, store := newTestServer(t, &fakeChannel{})
	seedUser(t, store, "CS1", "support@example.com", "pw", "client_support", nil, true)
	token := login(t, srv.URL, "support@example.com", "pw")

	doJSON(t, http.MethodPost, srv.URL+"/api/questions", "", map[string]any{"courseId": "lig", "questionText": "q"})

	// The SSE consumer passes the token as a query parameter.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/questions/stream?token="+token, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(res.Body)
	var data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
			break
		}
	}
	var snapshot struct {
		Questions []*services.Question `json:"questions"`
	}
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Questions) != 1 {
		t.Fatalf("expected one question in snapshot, got %d", len(snapshot.Questions))
	}
}
