package auth

import (
	"context"

	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// demoAccount pairs a fixed plaintext credential with its identity. The set
// is a small enumerated allowlist; nothing here persists.
type demoAccount struct {
	Email    string
	Password string
	Identity models.Identity
}

// FallbackProvider serves the fixed demo identity set when the persistent
// store is unreachable or not configured.
type FallbackProvider struct {
	accounts []demoAccount
}

func demoID(hex string) primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		panic("auth: bad demo identity id: " + hex)
	}
	return id
}

func NewFallbackProvider() *FallbackProvider {
	return &FallbackProvider{accounts: []demoAccount{
		{
			Email:    "admin@kitabi.com",
			Password: "admin123",
			Identity: models.Identity{
				ID: demoID("650000000000000000000001"), Email: "admin@kitabi.com",
				Role: models.RoleAdmin, Status: models.StatusActive,
			},
		},
		{
			Email:    "reader@kitabi.com",
			Password: "reader123",
			Identity: models.Identity{
				ID: demoID("650000000000000000000002"), Email: "reader@kitabi.com",
				Role: models.RoleUser, Status: models.StatusActive,
			},
		},
		{
			Email:    "suspended@kitabi.com",
			Password: "suspended123",
			Identity: models.Identity{
				ID: demoID("650000000000000000000003"), Email: "suspended@kitabi.com",
				Role: models.RoleUser, Status: models.StatusSuspended,
			},
		},
	}}
}

func (f *FallbackProvider) Authenticate(ctx context.Context, email, password string) (*models.Identity, error) {
	for i := range f.accounts {
		a := &f.accounts[i]
		if a.Email != email || a.Password != password {
			continue
		}
		if a.Identity.Status != models.StatusActive {
			return nil, ErrAccountSuspended
		}
		ident := a.Identity
		return &ident, nil
	}
	return nil, ErrInvalidCredentials
}

func (f *FallbackProvider) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Identity, error) {
	for i := range f.accounts {
		if f.accounts[i].Identity.ID == id {
			ident := f.accounts[i].Identity
			return &ident, nil
		}
	}
	return nil, ErrIdentityNotFound
}
