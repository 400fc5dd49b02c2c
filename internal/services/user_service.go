package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	GetUser(uid string) (*User, error)
	ListUsers() ([]*User, error)
	UpsertUser(u *User) error
	DeleteUser(uid string) error
	GetCredentialByEmail(email string) (*Credential, error)
	AddCredential(c *Credential) error
	DeleteCredentialByUID(uid string) error
	AddAudit(entry AuditEntry)
}

// UserService is the administrative surface over profiles: role, course
// assignments and the active flag.
type UserService struct {
	store UserStore
	now   func() time.Time
	idGen func(n int) string
}

func NewUserService(store UserStore) *UserService {
	return &UserService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: shortID,
	}
}

func (s *UserService) List() ([]*User, error) {
	return s.store.ListUsers()
}

// ListActiveInstructors returns the instructors selectable when assigning a
// course.
func (s *UserService) ListActiveInstructors() ([]*User, error) {
	all, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(all))
	for _, u := range all {
		if u.Role == RoleInstructor && u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

// Create writes both the credential and an active profile in one step, so an
// administrator can add a user directly instead of waiting for a first
// sign-in.
func (s *UserService) Create(email, displayName, password string, role Role, assignedCourses []string, actor string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	if role != RoleClientSupport && role != RoleInstructor {
		return nil, NewInvalidError("unknown role")
	}
	existing, err := s.store.GetCredentialByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("email exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := s.now()
	uid := s.idGen(20)
	if err := s.store.AddCredential(&Credential{UID: uid, Email: email, PassHash: hash, CreatedAt: now}); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = displayNameFromEmail(email)
	}
	if role != RoleInstructor {
		assignedCourses = []string{}
	}
	if assignedCourses == nil {
		assignedCourses = []string{}
	}
	u := &User{
		UID:             uid,
		Email:           email,
		DisplayName:     displayName,
		Role:            role,
		AssignedCourses: lowercaseAll(assignedCourses),
		Active:          true,
		CreatedAt:       now,
	}
	if err := s.store.UpsertUser(u); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: actor, Action: "create_user", Target: email})
	return u, nil
}

type UserUpdate struct {
	Role            *Role     `json:"role,omitempty"`
	AssignedCourses *[]string `json:"assignedCourses,omitempty"`
	Active          *bool     `json:"active,omitempty"`
	DisplayName     *string   `json:"displayName,omitempty"`
}

func (s *UserService) Update(uid string, upd UserUpdate, actor string) (*User, error) {
	u, err := s.store.GetUser(uid)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewNotFoundError("user not found")
	}
	if upd.Role != nil {
		if *upd.Role != RoleClientSupport && *upd.Role != RoleInstructor {
			return nil, NewInvalidError("unknown role")
		}
		u.Role = *upd.Role
	}
	if upd.AssignedCourses != nil {
		u.AssignedCourses = lowercaseAll(*upd.AssignedCourses)
	}
	if u.Role != RoleInstructor {
		u.AssignedCourses = []string{}
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.DisplayName != nil && strings.TrimSpace(*upd.DisplayName) != "" {
		u.DisplayName = *upd.DisplayName
	}
	if err := s.store.UpsertUser(u); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "update_user", Target: uid})
	return u, nil
}

func (s *UserService) ToggleActive(uid, actor string) (*User, error) {
	u, err := s.store.GetUser(uid)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewNotFoundError("user not found")
	}
	u.Active = !u.Active
	if err := s.store.UpsertUser(u); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "toggle_user_active", Target: uid})
	return u, nil
}

func (s *UserService) Delete(uid, actor string) error {
	if strings.TrimSpace(uid) == "" {
		return NewInvalidError("uid required")
	}
	if err := s.store.DeleteUser(uid); err != nil {
		return err
	}
	// Credential removal is best-effort: a stale credential without a profile
	// only ever resolves back into a pending-approval account.
	_ = s.store.DeleteCredentialByUID(uid)
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_user", Target: uid})
	return nil
}

func lowercaseAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
