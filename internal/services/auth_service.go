package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type AuthStore interface {
	GetCredentialByEmail(email string) (*Credential, error)
	AddCredential(c *Credential) error
	GetUser(uid string) (*User, error)
	UpsertUser(u *User) error
	AddAudit(entry AuditEntry)
}

type TokenSigner func(uid string, role Role, email string, ttl time.Duration) (string, error)

// Sign-in denial outcomes. Both force the caller to terminate the session;
// they differ only in the message shown.
var (
	ErrPendingApproval = &ServiceError{Code: ErrorForbidden, Message: "account created, waiting for administrator approval"}
	ErrAccountInactive = &ServiceError{Code: ErrorForbidden, Message: "account inactive, contact administrator"}
)

// AuthService bridges authenticated credentials to stored profiles. Profiles
// gate access: a credential alone never yields a session.
type AuthService struct {
	store     AuthStore
	now       func() time.Time
	idGen     func(n int) string
	signToken TokenSigner
	tokenTTL  time.Duration
}

type SignInResult struct {
	Token string
	User  *User
}

func NewAuthService(store AuthStore, signer TokenSigner) *AuthService {
	return &AuthService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     shortID,
		signToken: signer,
		tokenTTL:  30 * 24 * time.Hour,
	}
}

// Register creates a credential only. The profile is provisioned on first
// sign-in, inactive, so a fresh account always lands in the pending-approval
// state until an administrator activates it.
func (s *AuthService) Register(email, password string) (*Credential, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
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
	cred := &Credential{UID: s.idGen(20), Email: email, PassHash: hash, CreatedAt: s.now()}
	if err := s.store.AddCredential(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// SignIn authenticates a credential and resolves its profile.
//
// Found and active: the session principal. Found and inactive: denied with an
// "inactive" message. Not found: a minimal instructor profile is synthesized
// (inactive, no assignments) and the sign-in is denied with a pending-approval
// message; the principal waits for an administrator to flip the flag.
func (s *AuthService) SignIn(email, password string) (*SignInResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	cred, err := s.store.GetCredentialByEmail(email)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(cred.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}

	u, err := s.store.GetUser(cred.UID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if u == nil {
		profile := &User{
			UID:             cred.UID,
			Email:           cred.Email,
			DisplayName:     displayNameFromEmail(cred.Email),
			Role:            RoleInstructor,
			AssignedCourses: []string{},
			Active:          false,
			CreatedAt:       now,
			LastLoginAt:     &now,
		}
		if err := s.store.UpsertUser(profile); err != nil {
			return nil, err
		}
		s.store.AddAudit(AuditEntry{Time: now, Actor: cred.UID, Action: "auto_create_profile", Target: cred.Email})
		return nil, ErrPendingApproval
	}
	if !u.Active {
		return nil, ErrAccountInactive
	}

	u.LastLoginAt = &now
	if err := s.store.UpsertUser(u); err != nil {
		return nil, err
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.UID, u.Role, u.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &SignInResult{Token: token, User: u}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

func displayNameFromEmail(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
