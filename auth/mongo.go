package auth

import (
	"context"
	"fmt"

	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// UserSource is the credential lookup the persistent provider runs on.
// *store.DB satisfies it; a nil user with a nil error means no such account.
type UserSource interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// MongoProvider answers from the persistent users collection. Passwords are
// verified against the stored bcrypt hash.
type MongoProvider struct {
	Users UserSource
}

func (m *MongoProvider) Authenticate(ctx context.Context, email, password string) (*models.Identity, error) {
	u, err := m.Users.UserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if u.Status != models.StatusActive {
		return nil, ErrAccountSuspended
	}
	return u.Identity(), nil
}

func (m *MongoProvider) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Identity, error) {
	u, err := m.Users.UserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if u == nil {
		return nil, ErrIdentityNotFound
	}
	return u.Identity(), nil
}
