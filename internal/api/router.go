package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/formation-gds/coursedesk/internal/middleware"
	"github.com/formation-gds/coursedesk/internal/services"
	"github.com/formation-gds/coursedesk/internal/utils"
)

type Router struct {
	store     Store
	auth      *services.AuthService
	questions *services.QuestionService
	courses   *services.CourseService
	users     *services.UserService
	stats     *services.StatsService
	channel   services.ChannelClient
	watch     *watchHub
}

// NewRouter wires the service layer over the given store. channel may be nil
// when Telegram publishing is disabled; answering then persists without
// publishing even for courses that carry channel credentials.
func NewRouter(store Store, channel services.ChannelClient) *Router {
	signer := func(uid string, role services.Role, email string, ttl time.Duration) (string, error) {
		return middleware.SignToken(uid, string(role), email, ttl)
	}
	courses := services.NewCourseService(newCourseStoreAdapter(store))
	var pub services.Publisher
	if channel != nil {
		pub = channel
	}
	return &Router{
		store:     store,
		auth:      services.NewAuthService(newAuthStoreAdapter(store), signer),
		questions: services.NewQuestionService(newQuestionStoreAdapter(store), courses, pub),
		courses:   courses,
		users:     services.NewUserService(newUserStoreAdapter(store)),
		stats:     services.NewStatsService(newStatsStoreAdapter(store)),
		channel:   channel,
		watch:     newWatchHub(),
	}
}

// SeedAdmin bootstraps the first client_support account. It is a no-op once
// any client_support profile exists, so restarts never duplicate the seed.
func (rt *Router) SeedAdmin(email, password string) error {
	users, err := rt.store.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		if services.Role(u.Role) == services.RoleClientSupport {
			return nil
		}
	}
	_, err = rt.users.Create(email, "Administrator", password, services.RoleClientSupport, nil, "bootstrap")
	return err
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister) // POST
	mux.HandleFunc("/api/auth/login", rt.handleLogin)       // POST
	mux.HandleFunc("/api/questions", rt.handleQuestions)    // GET list, POST capture
	mux.HandleFunc("/api/questions/stream", rt.handleQuestionStream)
	mux.HandleFunc("/api/questions/bulk-delete", rt.handleBulkDelete) // POST
	mux.HandleFunc("/api/questions/", rt.handleQuestionScoped)        // {id}/approve, {id}/answer, DELETE {id}
	mux.HandleFunc("/api/courses", rt.handleCourses)                  // GET list, POST create
	mux.HandleFunc("/api/courses/", rt.handleCourseScoped)            // PUT/DELETE {id}, structure, telegram
	mux.HandleFunc("/api/users", rt.handleUsers)                      // GET list, POST create
	mux.HandleFunc("/api/users/", rt.handleUserScoped)                // PUT/DELETE {id}, {id}/toggle
	mux.HandleFunc("/api/instructors", rt.handleInstructors)          // GET
	mux.HandleFunc("/api/stats", rt.handleStats)                      // GET
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]string{"code": "internal", "message": err.Error()}})
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case services.ErrorInvalid:
		status = http.StatusBadRequest
	case services.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case services.ErrorForbidden:
		status = http.StatusForbidden
	case services.ErrorNotFound:
		status = http.StatusNotFound
	case services.ErrorConflict:
		status = http.StatusConflict
	case services.ErrorBadGateway:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": string(se.Code), "message": se.Message}})
}

// requireRole returns the caller's claims when authenticated with one of the
// allowed roles; otherwise it writes the error response and returns ok=false.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...services.Role) (*middleware.Claims, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeErr(w, services.NewUnauthorizedError("authentication required"))
		return nil, false
	}
	if len(roles) == 0 {
		return claims, true
	}
	for _, role := range roles {
		if services.Role(claims.Role) == role {
			return claims, true
		}
	}
	writeErr(w, services.NewForbiddenError("insufficient role"))
	return nil, false
}

// POST /api/auth/register
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, services.NewInvalidError("invalid json"))
		return
	}
	if _, err := rt.auth.Register(req.Email, req.Password); err != nil {
		writeErr(w, err)
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "message": utils.T(locale, "auth.pending")})
}

// POST /api/auth/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, services.NewInvalidError("invalid json"))
		return
	}
	res, err := rt.auth.SignIn(req.Email, req.Password)
	if err != nil {
		// Denial messages are user-facing and localized; other failures keep
		// the service wording.
		locale := middleware.LocaleFromContext(r.Context())
		if se, ok := services.AsServiceError(err); ok {
			switch se {
			case services.ErrPendingApproval:
				writeErr(w, &services.ServiceError{Code: se.Code, Message: utils.T(locale, "auth.pending")})
				return
			case services.ErrAccountInactive:
				writeErr(w, &services.ServiceError{Code: se.Code, Message: utils.T(locale, "auth.inactive")})
				return
			}
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user": res.User})
}

// GET /api/questions — role-scoped feed. POST /api/questions — capture intake,
// unauthenticated: the producer widget embedded in course pages has no session.
func (rt *Router) handleQuestions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, ok := requireRole(w, r)
		if !ok {
			return
		}
		qs, err := rt.listForClaims(claims)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
	case http.MethodPost:
		var q services.Question
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			writeErr(w, services.NewInvalidError("invalid json"))
			return
		}
		created, err := rt.questions.Submit(&q)
		if err != nil {
			writeErr(w, err)
			return
		}
		rt.watch.notify()
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) listForClaims(claims *middleware.Claims) ([]*services.Question, error) {
	role := services.Role(claims.Role)
	var assigned []string
	if role == services.RoleInstructor {
		u, err := rt.store.GetUser(claims.UID)
		if err != nil {
			return nil, err
		}
		if u != nil {
			assigned = u.AssignedCourses
		}
	}
	return rt.questions.ListFor(role, assigned)
}

// POST /api/questions/bulk-delete
func (rt *Router) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r, services.RoleClientSupport)
	if !ok {
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, services.NewInvalidError("invalid json"))
		return
	}
	res, err := rt.questions.BulkDelete(req.IDs, claims.UID)
	if err != nil {
		writeErr(w, err)
		return
	}
	rt.watch.notify()
	writeJSON(w, http.StatusOK, res)
}

// answerAllowed checks that the question's course is among the instructor's
// assignments. The question id may be either identifier form.
func (rt *Router) answerAllowed(uid, questionID string) error {
	q, err := rt.store.FindQuestionByLegacyID(questionID)
	if err != nil {
		return err
	}
	if q == nil {
		if q, err = rt.store.GetQuestion(questionID); err != nil {
			return err
		}
	}
	if q == nil {
		return services.NewNotFoundError("question not found")
	}
	u, err := rt.store.GetUser(uid)
	if err != nil {
		return err
	}
	if u != nil {
		for _, c := range u.AssignedCourses {
			if strings.EqualFold(c, q.CourseID) {
				return nil
			}
		}
	}
	return services.NewForbiddenError("question is outside your assigned courses")
}

// /api/questions/{id}/approve, /api/questions/{id}/answer, DELETE /api/questions/{id}
func (rt *Router) handleQuestionScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/questions/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "approve" && r.Method == http.MethodPost:
		claims, ok := requireRole(w, r, services.RoleClientSupport)
		if !ok {
			return
		}
		q, err := rt.questions.Approve(id, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		rt.watch.notify()
		writeJSON(w, http.StatusOK, q)
	case len(parts) == 2 && parts[1] == "answer" && r.Method == http.MethodPost:
		claims, ok := requireRole(w, r, services.RoleInstructor)
		if !ok {
			return
		}
		if err := rt.answerAllowed(claims.UID, id); err != nil {
			writeErr(w, err)
			return
		}
		var req struct {
			Answer string `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, services.NewInvalidError("invalid json"))
			return
		}
		q, err := rt.questions.Answer(r.Context(), id, req.Answer, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		rt.watch.notify()
		writeJSON(w, http.StatusOK, q)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		claims, ok := requireRole(w, r, services.RoleClientSupport)
		if !ok {
			return
		}
		if err := rt.questions.Delete(id, claims.UID); err != nil {
			writeErr(w, err)
			return
		}
		rt.watch.notify()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

// GET /api/courses — any authenticated user. POST — client_support.
func (rt *Router) handleCourses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := requireRole(w, r); !ok {
			return
		}
		cs, err := rt.courses.List()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"courses": cs})
	case http.MethodPost:
		claims, ok := requireRole(w, r, services.RoleClientSupport)
		if !ok {
			return
		}
		var c services.Course
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeErr(w, services.NewInvalidError("invalid json"))
			return
		}
		created, err := rt.courses.Create(&c, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// PUT/DELETE /api/courses/{id}, POST {id}/structure/import,
// GET {id}/structure/export, POST {id}/telegram/test
func (rt *Router) handleCourseScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/courses/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	claims, ok := requireRole(w, r, services.RoleClientSupport)
	if !ok {
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		var c services.Course
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeErr(w, services.NewInvalidError("invalid json"))
			return
		}
		updated, err := rt.courses.Update(id, &c, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := rt.courses.Delete(id, claims.UID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case len(parts) == 3 && parts[1] == "structure" && parts[2] == "import" && r.Method == http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeErr(w, services.NewInvalidError("unreadable body"))
			return
		}
		structure, err := rt.courses.ImportStructure(id, body, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chapters": len(structure)})
	case len(parts) == 3 && parts[1] == "structure" && parts[2] == "export" && r.Method == http.MethodGet:
		b, err := rt.courses.ExportStructure(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename="+id+"-structure.json")
		_, _ = w.Write(b)
	case len(parts) == 3 && parts[1] == "telegram" && parts[2] == "test" && r.Method == http.MethodPost:
		rt.handleTelegramTest(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// POST /api/courses/{id}/telegram/test — verifies channel credentials by
// sending a real message. The body may carry not-yet-saved credentials so the
// admin can test before persisting; otherwise the stored ones are used.
func (rt *Router) handleTelegramTest(w http.ResponseWriter, r *http.Request, id string) {
	if rt.channel == nil {
		writeErr(w, services.NewBadGatewayError("telegram disabled"))
		return
	}
	var req struct {
		BotToken  string `json:"telegramBotToken"`
		ChannelID string `json:"telegramChannelId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.BotToken == "" || req.ChannelID == "" {
		c, err := rt.courses.Get(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if c == nil {
			writeErr(w, services.NewNotFoundError("course not found"))
			return
		}
		if req.BotToken == "" {
			req.BotToken = c.TelegramBotToken
		}
		if req.ChannelID == "" {
			req.ChannelID = c.TelegramChannelID
		}
	}
	if req.BotToken == "" || req.ChannelID == "" {
		writeErr(w, services.NewInvalidError("telegram credentials required"))
		return
	}
	if err := rt.channel.TestConnection(r.Context(), req.BotToken, req.ChannelID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET/POST /api/users — client_support only.
func (rt *Router) handleUsers(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireRole(w, r, services.RoleClientSupport)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		us, err := rt.users.List()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": us})
	case http.MethodPost:
		var req struct {
			Email           string   `json:"email"`
			DisplayName     string   `json:"displayName"`
			Password        string   `json:"password"`
			Role            string   `json:"role"`
			AssignedCourses []string `json:"assignedCourses"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, services.NewInvalidError("invalid json"))
			return
		}
		u, err := rt.users.Create(req.Email, req.DisplayName, req.Password, services.Role(req.Role), req.AssignedCourses, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// PUT/DELETE /api/users/{uid}, POST /api/users/{uid}/toggle
func (rt *Router) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(rest, "/")
	uid := parts[0]
	if uid == "" {
		http.NotFound(w, r)
		return
	}
	claims, ok := requireRole(w, r, services.RoleClientSupport)
	if !ok {
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		var req struct {
			Role            *string   `json:"role"`
			AssignedCourses *[]string `json:"assignedCourses"`
			Active          *bool     `json:"active"`
			DisplayName     *string   `json:"displayName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, services.NewInvalidError("invalid json"))
			return
		}
		upd := services.UserUpdate{AssignedCourses: req.AssignedCourses, Active: req.Active, DisplayName: req.DisplayName}
		if req.Role != nil {
			role := services.Role(*req.Role)
			upd.Role = &role
		}
		u, err := rt.users.Update(uid, upd, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := rt.users.Delete(uid, claims.UID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case len(parts) == 2 && parts[1] == "toggle" && r.Method == http.MethodPost:
		u, err := rt.users.ToggleActive(uid, claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	default:
		http.NotFound(w, r)
	}
}

// GET /api/instructors — active instructors for the assignment picker.
func (rt *Router) handleInstructors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, services.RoleClientSupport); !ok {
		return
	}
	us, err := rt.users.ListActiveInstructors()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instructors": us})
}

// GET /api/stats — counters over the caller's visible question set.
func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r)
	if !ok {
		return
	}
	var scope []string
	if services.Role(claims.Role) == services.RoleInstructor {
		u, err := rt.store.GetUser(claims.UID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if u == nil || len(u.AssignedCourses) == 0 {
			// An unassigned instructor sees nothing, not everything.
			writeJSON(w, http.StatusOK, &services.Statistics{})
			return
		}
		scope = u.AssignedCourses
	} else if courseID := r.URL.Query().Get("course_id"); courseID != "" {
		scope = []string{courseID}
	}
	st, err := rt.stats.Overview(scope)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
