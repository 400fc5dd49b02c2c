package services

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const questionFeedLimit = 100

type QuestionStore interface {
	InsertQuestion(q *Question) (*Question, error)
	GetQuestion(docID string) (*Question, error)
	FindQuestionByLegacyID(id string) (*Question, error)
	UpdateQuestion(q *Question) error
	DeleteQuestion(docID string) error
	ListQuestions(courseIDs []string, limit int) ([]*Question, error)
	AddAudit(entry AuditEntry)
}

// CourseEnsurer guarantees a referenced course id resolves to a record.
type CourseEnsurer interface {
	EnsureCourse(id string) (*Course, error)
	EnsureCoursesFor(questions []*Question)
	Get(id string) (*Course, error)
}

// QuestionService is the lifecycle transition engine for the
// pending -> approved -> answered status machine.
type QuestionService struct {
	store     QuestionStore
	courses   CourseEnsurer
	publisher Publisher
	now       func() time.Time
	idGen     func(n int) string
}

func NewQuestionService(store QuestionStore, courses CourseEnsurer, publisher Publisher) *QuestionService {
	return &QuestionService{
		store:     store,
		courses:   courses,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     shortID,
	}
}

// Submit records a new question from the capture producer. The producer is
// trusted; missing fields are defaulted rather than rejected, except the
// question text and course id which are required for the record to be usable.
func (s *QuestionService) Submit(q *Question) (*Question, error) {
	if q == nil {
		return nil, NewInvalidError("question required")
	}
	q.CourseID = strings.ToLower(strings.TrimSpace(q.CourseID))
	if q.CourseID == "" {
		return nil, NewInvalidError("courseId required")
	}
	if strings.TrimSpace(q.QuestionText) == "" {
		return nil, NewInvalidError("questionText required")
	}
	if q.DocID == "" {
		q.DocID = s.idGen(20)
	}
	if q.Status == "" {
		q.Status = StatusPending
	}
	now := s.now()
	if q.Timestamp.IsZero() {
		q.Timestamp = now
	}
	if q.DateSubmitted == "" {
		q.DateSubmitted = now.Format("1/2/2006")
	}
	if q.TimeSubmitted == "" {
		q.TimeSubmitted = now.Format("3:04:05 PM")
	}
	return s.store.InsertQuestion(q)
}

// resolve maps either identifier form to the single record it names: first a
// lookup among records whose legacy id field matches, then the value treated
// as the storage identifier directly. Callers tolerate both forms
// transparently; this shim must stay.
func (s *QuestionService) resolve(anyID string) (*Question, error) {
	anyID = strings.TrimSpace(anyID)
	if anyID == "" {
		return nil, NewInvalidError("question id required")
	}
	q, err := s.store.FindQuestionByLegacyID(anyID)
	if err != nil {
		return nil, err
	}
	if q != nil {
		return q, nil
	}
	q, err = s.store.GetQuestion(anyID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, NewNotFoundError("question not found")
	}
	return q, nil
}

// Approve moves a pending question to approved, recording the approver and
// the approval instant. The referenced course is ensured first so the later
// lesson-info lookup can never miss.
func (s *QuestionService) Approve(questionID, approverID string) (*Question, error) {
	q, err := s.resolve(questionID)
	if err != nil {
		return nil, err
	}
	if q.Status != StatusPending {
		return nil, NewConflictError("question is not pending")
	}
	if _, err := s.courses.EnsureCourse(q.CourseID); err != nil {
		return nil, err
	}
	now := s.now()
	q.Status = StatusApproved
	q.ApprovedAt = &now
	q.ApprovedBy = approverID
	if err := s.store.UpdateQuestion(q); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: approverID, Action: "approve_question", Target: q.DocID})
	return q, nil
}

// Answer moves an approved question to answered. When the course has channel
// credentials the answer is published first; a failed publish leaves the
// question approved with nothing persisted.
func (s *QuestionService) Answer(ctx context.Context, questionID, answerText, answererID string) (*Question, error) {
	if strings.TrimSpace(answerText) == "" {
		return nil, NewInvalidError("answer text is missing")
	}
	q, err := s.resolve(questionID)
	if err != nil {
		return nil, err
	}
	if q.Status != StatusApproved {
		return nil, NewConflictError("question is not approved")
	}
	course, err := s.courses.EnsureCourse(q.CourseID)
	if err != nil {
		return nil, err
	}
	var messageID int64
	if course.TelegramConfigured() && s.publisher != nil {
		info := GetLessonInfo(course.Structure, q.ChapterNumber, q.LessonNumber)
		messageID, err = s.publisher.Publish(ctx, course.TelegramBotToken, course.TelegramChannelID, q, answerText, info)
		if err != nil {
			return nil, err
		}
	}
	now := s.now()
	q.Status = StatusAnswered
	q.Answer = answerText
	q.AnsweredAt = &now
	q.AnsweredBy = answererID
	if messageID != 0 {
		q.TelegramMessageID = messageID
	}
	if err := s.store.UpdateQuestion(q); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: answererID, Action: "answer_question", Target: q.DocID})
	return q, nil
}

// Delete removes a question through the same dual-identifier shim. When the
// legacy lookup misses, the id is handed to the store as a storage identifier
// without a prior read; the store decides whether a miss is an error.
func (s *QuestionService) Delete(questionID, actor string) error {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return NewInvalidError("question id required")
	}
	docID := questionID
	q, err := s.store.FindQuestionByLegacyID(questionID)
	if err != nil {
		return err
	}
	if q != nil {
		docID = q.DocID
	}
	if err := s.store.DeleteQuestion(docID); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_question", Target: docID})
	return nil
}

type BulkDeleteResult struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// BulkDelete tolerates per-item failures: remaining items are still processed
// and the aggregate counts are reported instead of aborting on first error.
func (s *QuestionService) BulkDelete(questionIDs []string, actor string) (*BulkDeleteResult, error) {
	if len(questionIDs) == 0 {
		return nil, NewInvalidError("question ids required")
	}
	res := &BulkDeleteResult{}
	for _, id := range questionIDs {
		if err := s.Delete(id, actor); err != nil {
			res.Failed++
			continue
		}
		res.Deleted++
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "bulk_delete_questions", Target: strconv.Itoa(len(questionIDs)), Note: strconv.Itoa(res.Failed) + " failed"})
	return res, nil
}

// ListFor returns the question snapshot visible to a principal: everything
// for client_support, assigned courses only for instructors, and nothing for
// an instructor with no assignments. The feed is newest-first, capped at the
// most recent 100 records, and the consistency pass auto-creates any course
// the batch references.
func (s *QuestionService) ListFor(role Role, assignedCourses []string) ([]*Question, error) {
	var scope []string
	if role != RoleClientSupport {
		if len(assignedCourses) == 0 {
			return []*Question{}, nil
		}
		scope = assignedCourses
	}
	questions, err := s.store.ListQuestions(scope, questionFeedLimit)
	if err != nil {
		return nil, err
	}
	s.courses.EnsureCoursesFor(questions)
	return questions, nil
}
