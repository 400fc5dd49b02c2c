package api

import "github.com/formation-gds/coursedesk/internal/services"

type statsStoreAdapter struct {
	store Store
}

func newStatsStoreAdapter(store Store) services.StatsStore {
	return &statsStoreAdapter{store: store}
}

func (a *statsStoreAdapter) ListQuestions(courseIDs []string, limit int) ([]*services.Question, error) {
	qs, err := a.store.ListQuestions(courseIDs, limit)
	if err != nil {
		return nil, err
	}
	return toServiceQuestions(qs), nil
}

func (a *statsStoreAdapter) ListUsers() ([]*services.User, error) {
	us, err := a.store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := make([]*services.User, 0, len(us))
	for _, u := range us {
		out = append(out, toServiceUser(u))
	}
	return out, nil
}

var _ services.StatsStore = (*statsStoreAdapter)(nil)
