package api

import "github.com/formation-gds/coursedesk/internal/services"

type authStoreAdapter struct {
	store Store
}

func newAuthStoreAdapter(store Store) services.AuthStore {
	return &authStoreAdapter{store: store}
}

func (a *authStoreAdapter) GetCredentialByEmail(email string) (*services.Credential, error) {
	c, err := a.store.GetCredentialByEmail(email)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return &services.Credential{UID: c.UID, Email: c.Email, PassHash: c.PassHash, CreatedAt: c.CreatedAt}, nil
}

func (a *authStoreAdapter) AddCredential(c *services.Credential) error {
	if c == nil {
		return services.NewInvalidError("credential required")
	}
	return a.store.AddCredential(&Credential{UID: c.UID, Email: c.Email, PassHash: c.PassHash, CreatedAt: c.CreatedAt})
}

func (a *authStoreAdapter) GetUser(uid string) (*services.User, error) {
	u, err := a.store.GetUser(uid)
	if err != nil {
		return nil, err
	}
	return toServiceUser(u), nil
}

func (a *authStoreAdapter) UpsertUser(u *services.User) error {
	if u == nil {
		return services.NewInvalidError("user required")
	}
	return a.store.UpsertUser(fromServiceUser(u))
}

func (a *authStoreAdapter) AddAudit(e services.AuditEntry) {
	a.store.AddAudit(toServiceAudit(e))
}

var _ services.AuthStore = (*authStoreAdapter)(nil)
