package api

// Store is the canonical persistence contract. Backends: the in-memory store
// in this package, SQLite and MongoDB in internal/db.
type Store interface {
	InsertQuestion(q *Question) (*Question, error)
	GetQuestion(docID string) (*Question, error)
	FindQuestionByLegacyID(id string) (*Question, error)
	UpdateQuestion(q *Question) error
	DeleteQuestion(docID string) error
	ListQuestions(courseIDs []string, limit int) ([]*Question, error)

	GetCourse(id string) (*Course, error)
	UpsertCourse(c *Course) error
	DeleteCourse(id string) error
	ListCourses() ([]*Course, error)

	GetUser(uid string) (*User, error)
	ListUsers() ([]*User, error)
	UpsertUser(u *User) error
	DeleteUser(uid string) error

	GetCredentialByEmail(email string) (*Credential, error)
	AddCredential(c *Credential) error
	DeleteCredentialByUID(uid string) error

	AddAudit(e AuditEntry)
	ListAudit() []AuditEntry
}

var _ Store = (*memoryStore)(nil)
