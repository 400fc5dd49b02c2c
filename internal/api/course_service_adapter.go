package api

import "github.com/formation-gds/coursedesk/internal/services"

type courseStoreAdapter struct {
	store Store
}

func newCourseStoreAdapter(store Store) services.CourseStore {
	return &courseStoreAdapter{store: store}
}

func (a *courseStoreAdapter) GetCourse(id string) (*services.Course, error) {
	c, err := a.store.GetCourse(id)
	if err != nil {
		return nil, err
	}
	return toServiceCourse(c), nil
}

func (a *courseStoreAdapter) UpsertCourse(c *services.Course) error {
	if c == nil {
		return services.NewInvalidError("course required")
	}
	return a.store.UpsertCourse(fromServiceCourse(c))
}

func (a *courseStoreAdapter) DeleteCourse(id string) error {
	return a.store.DeleteCourse(id)
}

func (a *courseStoreAdapter) ListCourses() ([]*services.Course, error) {
	cs, err := a.store.ListCourses()
	if err != nil {
		return nil, err
	}
	out := make([]*services.Course, 0, len(cs))
	for _, c := range cs {
		out = append(out, toServiceCourse(c))
	}
	return out, nil
}

func (a *courseStoreAdapter) AddAudit(e services.AuditEntry) {
	a.store.AddAudit(toServiceAudit(e))
}

var _ services.CourseStore = (*courseStoreAdapter)(nil)
