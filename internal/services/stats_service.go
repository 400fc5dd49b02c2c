package services

import "time"

type StatsStore interface {
	ListQuestions(courseIDs []string, limit int) ([]*Question, error)
	ListUsers() ([]*User, error)
}

type Statistics struct {
	TotalQuestions    int     `json:"totalQuestions"`
	PendingCount      int     `json:"pendingCount"`
	ApprovedCount     int     `json:"approvedCount"`
	AnsweredCount     int     `json:"answeredCount"`
	TodayQuestions    int     `json:"todayQuestions"`
	ActiveInstructors int     `json:"activeInstructors"`
	AvgResponseHours  float64 `json:"avgResponseHours"`
	CompletionRate    float64 `json:"completionRate"`
}

// StatsService aggregates dashboard counters over the caller's visible
// question set.
type StatsService struct {
	store StatsStore
	now   func() time.Time
}

func NewStatsService(store StatsStore) *StatsService {
	return &StatsService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Overview computes counters for the given course scope; a nil scope means
// all courses.
func (s *StatsService) Overview(courseIDs []string) (*Statistics, error) {
	questions, err := s.store.ListQuestions(courseIDs, 0)
	if err != nil {
		return nil, err
	}
	st := &Statistics{TotalQuestions: len(questions)}
	today := s.now().Truncate(24 * time.Hour)
	var responseHours float64
	var responded int
	for _, q := range questions {
		switch q.Status {
		case StatusPending:
			st.PendingCount++
		case StatusApproved:
			st.ApprovedCount++
		case StatusAnswered:
			st.AnsweredCount++
		}
		if !q.Timestamp.Before(today) {
			st.TodayQuestions++
		}
		if q.AnsweredAt != nil && !q.Timestamp.IsZero() {
			responseHours += q.AnsweredAt.Sub(q.Timestamp).Hours()
			responded++
		}
	}
	if responded > 0 {
		st.AvgResponseHours = responseHours / float64(responded)
	}
	if st.TotalQuestions > 0 {
		st.CompletionRate = float64(st.AnsweredCount) / float64(st.TotalQuestions)
	}
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Role == RoleInstructor && u.Active {
			st.ActiveInstructors++
		}
	}
	return st, nil
}
