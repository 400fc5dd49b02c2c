package api

import "github.com/formation-gds/coursedesk/internal/services"

type questionStoreAdapter struct {
	store Store
}

func newQuestionStoreAdapter(store Store) services.QuestionStore {
	return &questionStoreAdapter{store: store}
}

func (a *questionStoreAdapter) InsertQuestion(q *services.Question) (*services.Question, error) {
	if q == nil {
		return nil, services.NewInvalidError("question required")
	}
	created, err := a.store.InsertQuestion(fromServiceQuestion(q))
	if err != nil {
		return nil, err
	}
	return toServiceQuestion(created), nil
}

func (a *questionStoreAdapter) GetQuestion(docID string) (*services.Question, error) {
	q, err := a.store.GetQuestion(docID)
	if err != nil {
		return nil, err
	}
	return toServiceQuestion(q), nil
}

func (a *questionStoreAdapter) FindQuestionByLegacyID(id string) (*services.Question, error) {
	q, err := a.store.FindQuestionByLegacyID(id)
	if err != nil {
		return nil, err
	}
	return toServiceQuestion(q), nil
}

func (a *questionStoreAdapter) UpdateQuestion(q *services.Question) error {
	if q == nil {
		return services.NewInvalidError("question required")
	}
	return a.store.UpdateQuestion(fromServiceQuestion(q))
}

func (a *questionStoreAdapter) DeleteQuestion(docID string) error {
	return a.store.DeleteQuestion(docID)
}

func (a *questionStoreAdapter) ListQuestions(courseIDs []string, limit int) ([]*services.Question, error) {
	qs, err := a.store.ListQuestions(courseIDs, limit)
	if err != nil {
		return nil, err
	}
	return toServiceQuestions(qs), nil
}

func (a *questionStoreAdapter) AddAudit(e services.AuditEntry) {
	a.store.AddAudit(toServiceAudit(e))
}

var _ services.QuestionStore = (*questionStoreAdapter)(nil)
