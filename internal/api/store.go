package api

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/formation-gds/coursedesk/internal/services"
)

// Storage records. DocID doubles as the document primary key in the Mongo
// backend, hence the _id mapping.

type Question struct {
	ID                string     `json:"id,omitempty" bson:"id,omitempty"`
	DocID             string     `json:"docId" bson:"_id"`
	CourseID          string     `json:"courseId" bson:"courseId"`
	QuestionText      string     `json:"questionText" bson:"questionText"`
	VariableUsed      string     `json:"variableUsed,omitempty" bson:"variableUsed,omitempty"`
	ChapterNumber     int        `json:"chapterNumber" bson:"chapterNumber"`
	LessonNumber      int        `json:"lessonNumber" bson:"lessonNumber"`
	Status            string     `json:"status" bson:"status"`
	DateSubmitted     string     `json:"dateSubmitted,omitempty" bson:"dateSubmitted,omitempty"`
	TimeSubmitted     string     `json:"timeSubmitted,omitempty" bson:"timeSubmitted,omitempty"`
	Timestamp         time.Time  `json:"timestamp" bson:"timestamp"`
	ApprovedAt        *time.Time `json:"approvedAt,omitempty" bson:"approvedAt,omitempty"`
	ApprovedBy        string     `json:"approvedBy,omitempty" bson:"approvedBy,omitempty"`
	Answer            string     `json:"answer,omitempty" bson:"answer,omitempty"`
	AnsweredAt        *time.Time `json:"answeredAt,omitempty" bson:"answeredAt,omitempty"`
	AnsweredBy        string     `json:"answeredBy,omitempty" bson:"answeredBy,omitempty"`
	TelegramMessageID int64      `json:"telegramMessageId,omitempty" bson:"telegramMessageId,omitempty"`
}

type Chapter struct {
	Title   string            `json:"title" bson:"title"`
	Lessons map[string]string `json:"lessons" bson:"lessons"`
}

type Course struct {
	CourseID          string             `json:"courseId" bson:"_id"`
	CourseName        string             `json:"courseName" bson:"courseName"`
	Structure         map[string]Chapter `json:"courseStructure" bson:"courseStructure"`
	InstructorIDs     []string           `json:"instructorIds" bson:"instructorIds"`
	TelegramBotToken  string             `json:"telegramBotToken,omitempty" bson:"telegramBotToken,omitempty"`
	TelegramChannelID string             `json:"telegramChannelId,omitempty" bson:"telegramChannelId,omitempty"`
	Active            bool               `json:"active" bson:"active"`
	AutoCreated       bool               `json:"autoCreated" bson:"autoCreated"`
	CreatedAt         time.Time          `json:"createdAt" bson:"createdAt"`
}

type User struct {
	UID             string     `json:"uid" bson:"_id"`
	Email           string     `json:"email" bson:"email"`
	DisplayName     string     `json:"displayName,omitempty" bson:"displayName,omitempty"`
	PhotoURL        string     `json:"photoURL,omitempty" bson:"photoURL,omitempty"`
	Role            string     `json:"role" bson:"role"`
	AssignedCourses []string   `json:"assignedCourses" bson:"assignedCourses"`
	Active          bool       `json:"active" bson:"active"`
	CreatedAt       time.Time  `json:"createdAt" bson:"createdAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty" bson:"lastLoginAt,omitempty"`
}

type Credential struct {
	UID       string    `json:"uid" bson:"_id"`
	Email     string    `json:"email" bson:"email"`
	PassHash  []byte    `json:"-" bson:"passHash"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type AuditEntry struct {
	Time   time.Time `json:"time" bson:"time"`
	Actor  string    `json:"actor" bson:"actor"`
	Action string    `json:"action" bson:"action"`
	Target string    `json:"target" bson:"target"`
	Note   string    `json:"note,omitempty" bson:"note,omitempty"`
}

type memoryStore struct {
	mu           sync.RWMutex
	questions    map[string]*Question
	courses      map[string]*Course
	users        map[string]*User
	credsByEmail map[string]*Credential
	audit        []AuditEntry
}

func NewMemoryStore() Store { return newMemoryStore() }

func newMemoryStore() *memoryStore {
	return &memoryStore{
		questions:    map[string]*Question{},
		courses:      map[string]*Course{},
		users:        map[string]*User{},
		credsByEmail: map[string]*Credential{},
	}
}

func (s *memoryStore) InsertQuestion(q *Question) (*Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *q
	s.questions[q.DocID] = &copy
	out := copy
	return &out, nil
}

func (s *memoryStore) GetQuestion(docID string) (*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.questions[docID]; ok {
		copy := *q
		return &copy, nil
	}
	return nil, nil
}

func (s *memoryStore) FindQuestionByLegacyID(id string) (*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.questions {
		if q.ID != "" && q.ID == id {
			copy := *q
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) UpdateQuestion(q *Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *q
	s.questions[q.DocID] = &copy
	return nil
}

func (s *memoryStore) DeleteQuestion(docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[docID]; !ok {
		return services.NewNotFoundError("question not found")
	}
	delete(s.questions, docID)
	return nil
}

// ListQuestions returns a snapshot ordered by submission instant descending,
// optionally filtered to courseIDs, truncated to limit (0 = no cap).
func (s *memoryStore) ListQuestions(courseIDs []string, limit int) ([]*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scope := map[string]bool{}
	for _, c := range courseIDs {
		scope[strings.ToLower(c)] = true
	}
	out := make([]*Question, 0, len(s.questions))
	for _, q := range s.questions {
		if len(scope) > 0 && !scope[strings.ToLower(q.CourseID)] {
			continue
		}
		copy := *q
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) GetCourse(id string) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.courses[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, nil
}

func (s *memoryStore) UpsertCourse(c *Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *c
	s.courses[c.CourseID] = &copy
	return nil
}

func (s *memoryStore) DeleteCourse(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.courses, id)
	return nil
}

func (s *memoryStore) ListCourses() ([]*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Course, 0, len(s.courses))
	for _, c := range s.courses {
		copy := *c
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

func (s *memoryStore) GetUser(uid string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[uid]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, nil
}

func (s *memoryStore) ListUsers() ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		copy := *u
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *memoryStore) UpsertUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *u
	s.users[u.UID] = &copy
	return nil
}

func (s *memoryStore) DeleteUser(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, uid)
	return nil
}

func (s *memoryStore) GetCredentialByEmail(email string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.credsByEmail[strings.ToLower(email)]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, nil
}

func (s *memoryStore) AddCredential(c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *c
	s.credsByEmail[strings.ToLower(c.Email)] = &copy
	return nil
}

func (s *memoryStore) DeleteCredentialByUID(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, c := range s.credsByEmail {
		if c.UID == uid {
			delete(s.credsByEmail, email)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) AddAudit(e AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *memoryStore) ListAudit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
