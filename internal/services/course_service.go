package services

import (
	"encoding/json"
	"strings"
	"time"
)

type CourseStore interface {
	GetCourse(id string) (*Course, error)
	UpsertCourse(c *Course) error
	DeleteCourse(id string) error
	ListCourses() ([]*Course, error)
	AddAudit(entry AuditEntry)
}

// CourseService owns the course directory, including the implicit stub
// creation triggered by questions that reference an unknown course.
type CourseService struct {
	store CourseStore
	now   func() time.Time
}

func NewCourseService(store CourseStore) *CourseService {
	return &CourseService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *CourseService) Get(id string) (*Course, error) {
	return s.store.GetCourse(strings.ToLower(strings.TrimSpace(id)))
}

func (s *CourseService) List() ([]*Course, error) {
	return s.store.ListCourses()
}

// EnsureCourse guarantees a course record exists for id and returns it.
// A missing course is written as a minimal auto-created stub. The write is a
// keyed upsert, so concurrent duplicate ensures are benign: last write wins
// and no uniqueness violation is possible.
func (s *CourseService) EnsureCourse(id string) (*Course, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return nil, NewInvalidError("course id required")
	}
	existing, err := s.store.GetCourse(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	stub := &Course{
		CourseID:      id,
		CourseName:    strings.ToUpper(id) + " Course",
		Structure:     CourseStructure{},
		InstructorIDs: []string{},
		Active:        true,
		AutoCreated:   true,
		CreatedAt:     s.now(),
	}
	if err := s.store.UpsertCourse(stub); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: "system", Action: "auto_create_course", Target: id})
	return stub, nil
}

// EnsureCoursesFor runs the consistency pass over a question batch: every
// distinct referenced course id must resolve to a record afterwards. Ensure
// failures for one id do not stop the rest of the batch.
func (s *CourseService) EnsureCoursesFor(questions []*Question) {
	seen := map[string]bool{}
	for _, q := range questions {
		if q == nil || q.CourseID == "" || seen[q.CourseID] {
			continue
		}
		seen[q.CourseID] = true
		_, _ = s.EnsureCourse(q.CourseID)
	}
}

func (s *CourseService) Create(c *Course, actor string) (*Course, error) {
	if c == nil {
		return nil, NewInvalidError("course required")
	}
	c.CourseID = strings.ToLower(strings.TrimSpace(c.CourseID))
	if c.CourseID == "" || strings.TrimSpace(c.CourseName) == "" {
		return nil, NewInvalidError("course id and name are required")
	}
	if c.Structure == nil {
		c.Structure = CourseStructure{}
	}
	if c.InstructorIDs == nil {
		c.InstructorIDs = []string{}
	}
	c.AutoCreated = false
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if err := s.store.UpsertCourse(c); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_course", Target: c.CourseID})
	return c, nil
}

// Update replaces the mutable fields of an existing course. The course id is
// immutable after creation.
func (s *CourseService) Update(id string, c *Course, actor string) (*Course, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	old, err := s.store.GetCourse(id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, NewNotFoundError("course not found")
	}
	if c == nil {
		return nil, NewInvalidError("course required")
	}
	if strings.TrimSpace(c.CourseName) == "" {
		return nil, NewInvalidError("course name is required")
	}
	updated := *c
	updated.CourseID = old.CourseID
	updated.CreatedAt = old.CreatedAt
	updated.AutoCreated = false
	if updated.Structure == nil {
		updated.Structure = old.Structure
	}
	if updated.InstructorIDs == nil {
		updated.InstructorIDs = old.InstructorIDs
	}
	if err := s.store.UpsertCourse(&updated); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "update_course", Target: id})
	return &updated, nil
}

// Delete removes a course. Questions are not cascaded; their course reference
// simply stops resolving.
func (s *CourseService) Delete(id, actor string) error {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return NewInvalidError("course id required")
	}
	if err := s.store.DeleteCourse(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_course", Target: id})
	return nil
}

// ImportStructure validates and installs a chapter/lesson outline from the
// JSON interchange format: top-level keys are cH-prefixed chapter keys, each
// holding a string title and a lessons object.
func (s *CourseService) ImportStructure(id string, data []byte, actor string) (CourseStructure, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	course, err := s.store.GetCourse(id)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, NewNotFoundError("course not found")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewInvalidError("invalid JSON structure: " + err.Error())
	}
	structure := CourseStructure{}
	for key, val := range raw {
		if !strings.HasPrefix(key, "cH") {
			return nil, NewInvalidError("invalid course structure format: bad chapter key " + key)
		}
		// Title must be present as a string; an empty string is still a title.
		var ch struct {
			Title   *string            `json:"title"`
			Lessons *map[string]string `json:"lessons"`
		}
		if err := json.Unmarshal(val, &ch); err != nil || ch.Title == nil || ch.Lessons == nil {
			return nil, NewInvalidError("invalid course structure format: chapter " + key + " needs a title and lessons")
		}
		structure[key] = Chapter{Title: *ch.Title, Lessons: *ch.Lessons}
	}
	updated := *course
	updated.Structure = structure
	if err := s.store.UpsertCourse(&updated); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "import_structure", Target: id})
	return structure, nil
}

// ExportStructure serializes the outline in the same interchange format,
// pretty-printed.
func (s *CourseService) ExportStructure(id string) ([]byte, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	course, err := s.store.GetCourse(id)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, NewNotFoundError("course not found")
	}
	structure := course.Structure
	if structure == nil {
		structure = CourseStructure{}
	}
	return json.MarshalIndent(structure, "", "  ")
}
