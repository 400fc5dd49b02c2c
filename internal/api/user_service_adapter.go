package api

import "github.com/formation-gds/coursedesk/internal/services"

type userStoreAdapter struct {
	store Store
}

func newUserStoreAdapter(store Store) services.UserStore {
	return &userStoreAdapter{store: store}
}

func (a *userStoreAdapter) GetUser(uid string) (*services.User, error) {
	u, err := a.store.GetUser(uid)
	if err != nil {
		return nil, err
	}
	return toServiceUser(u), nil
}

func (a *userStoreAdapter) ListUsers() ([]*services.User, error) {
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

func (a *userStoreAdapter) UpsertUser(u *services.User) error {
	if u == nil {
		return services.NewInvalidError("user required")
	}
	return a.store.UpsertUser(fromServiceUser(u))
}

func (a *userStoreAdapter) DeleteUser(uid string) error {
	return a.store.DeleteUser(uid)
}

func (a *userStoreAdapter) GetCredentialByEmail(email string) (*services.Credential, error) {
	c, err := a.store.GetCredentialByEmail(email)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return &services.Credential{UID: c.UID, Email: c.Email, PassHash: c.PassHash, CreatedAt: c.CreatedAt}, nil
}

func (a *userStoreAdapter) AddCredential(c *services.Credential) error {
	if c == nil {
		return services.NewInvalidError("credential required")
	}
	return a.store.AddCredential(&Credential{UID: c.UID, Email: c.Email, PassHash: c.PassHash, CreatedAt: c.CreatedAt})
}

func (a *userStoreAdapter) DeleteCredentialByUID(uid string) error {
	return a.store.DeleteCredentialByUID(uid)
}

func (a *userStoreAdapter) AddAudit(e services.AuditEntry) {
	a.store.AddAudit(toServiceAudit(e))
}

var _ services.UserStore = (*userStoreAdapter)(nil)
