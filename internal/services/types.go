package services

import "time"

type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusApproved QuestionStatus = "approved"
	StatusAnswered QuestionStatus = "answered"
)

type Role string

const (
	RoleClientSupport Role = "client_support"
	RoleInstructor    Role = "instructor"
)

// Question is a learner-submitted query moving through pending/approved/answered.
// DocID is the authoritative storage identifier; ID is a legacy logical id some
// producers still write, kept for dual-identifier resolution.
type Question struct {
	ID                string         `json:"id,omitempty"`
	DocID             string         `json:"docId"`
	CourseID          string         `json:"courseId"`
	QuestionText      string         `json:"questionText"`
	VariableUsed      string         `json:"variableUsed,omitempty"`
	ChapterNumber     int            `json:"chapterNumber"`
	LessonNumber      int            `json:"lessonNumber"`
	Status            QuestionStatus `json:"status"`
	DateSubmitted     string         `json:"dateSubmitted,omitempty"`
	TimeSubmitted     string         `json:"timeSubmitted,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	ApprovedAt        *time.Time     `json:"approvedAt,omitempty"`
	ApprovedBy        string         `json:"approvedBy,omitempty"`
	Answer            string         `json:"answer,omitempty"`
	AnsweredAt        *time.Time     `json:"answeredAt,omitempty"`
	AnsweredBy        string         `json:"answeredBy,omitempty"`
	TelegramMessageID int64          `json:"telegramMessageId,omitempty"`
}

// Chapter keys follow cH<n>, lesson keys L<n>, both 1-based.
type Chapter struct {
	Title   string            `json:"title"`
	Lessons map[string]string `json:"lessons"`
}

type CourseStructure map[string]Chapter

type Course struct {
	CourseID          string          `json:"courseId"`
	CourseName        string          `json:"courseName"`
	Structure         CourseStructure `json:"courseStructure"`
	InstructorIDs     []string        `json:"instructorIds"`
	TelegramBotToken  string          `json:"telegramBotToken,omitempty"`
	TelegramChannelID string          `json:"telegramChannelId,omitempty"`
	Active            bool            `json:"active"`
	AutoCreated       bool            `json:"autoCreated"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// TelegramConfigured reports whether both channel credentials are present.
func (c *Course) TelegramConfigured() bool {
	return c != nil && c.TelegramBotToken != "" && c.TelegramChannelID != ""
}

// User is a staff or instructor profile. AssignedCourses is meaningful only for
// instructors; an empty list for client_support means "all courses".
type User struct {
	UID             string     `json:"uid"`
	Email           string     `json:"email"`
	DisplayName     string     `json:"displayName,omitempty"`
	PhotoURL        string     `json:"photoURL,omitempty"`
	Role            Role       `json:"role"`
	AssignedCourses []string   `json:"assignedCourses"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

// Credential is the identity-provider record backing a sign-in. It is distinct
// from the profile: a credential may exist before any profile does.
type Credential struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	PassHash  []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

type LessonInfo struct {
	ChapterTitle string `json:"chapterTitle"`
	LessonTitle  string `json:"lessonTitle"`
	FullTitle    string `json:"fullTitle"`
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}
