package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

type fakeUsers struct {
	users map[string]*models.User
	err   error
}

func (f *fakeUsers) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[email], nil
}

func (f *fakeUsers) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func seededUsers(t *testing.T) *fakeUsers {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("persistent123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeUsers{users: map[string]*models.User{
		"member@kitabi.com": {
			ID: primitive.NewObjectID(), Email: "member@kitabi.com",
			Password: string(hash), Role: models.RoleUser, Status: models.StatusActive,
		},
		"frozen@kitabi.com": {
			ID: primitive.NewObjectID(), Email: "frozen@kitabi.com",
			Password: string(hash), Role: models.RoleUser, Status: models.StatusSuspended,
		},
	}}
}

// With the store reachable, an unknown email is a credential failure; it
// never falls through to the demo set.
func TestMongoProviderUnknownEmail(t *testing.T) {
	m := &MongoProvider{Users: seededUsers(t)}
	if _, err := m.Authenticate(context.Background(), "nobody@kitabi.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestMongoProviderPasswordCheck(t *testing.T) {
	m := &MongoProvider{Users: seededUsers(t)}

	ident, err := m.Authenticate(context.Background(), "member@kitabi.com", "persistent123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ident.Email != "member@kitabi.com" || ident.Role != models.RoleUser {
		t.Fatalf("identity = %+v", ident)
	}

	if _, err := m.Authenticate(context.Background(), "member@kitabi.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestMongoProviderSuspendedAccount(t *testing.T) {
	m := &MongoProvider{Users: seededUsers(t)}
	if _, err := m.Authenticate(context.Background(), "frozen@kitabi.com", "persistent123"); !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("err = %v, want ErrAccountSuspended", err)
	}
}

func TestMongoProviderStoreErrorWrapped(t *testing.T) {
	m := &MongoProvider{Users: &fakeUsers{err: errors.New("connection reset")}}
	if _, err := m.Authenticate(context.Background(), "member@kitabi.com", "persistent123"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("authenticate: err = %v, want ErrStoreUnavailable", err)
	}
	if _, err := m.FindByID(context.Background(), primitive.NewObjectID()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("find by id: err = %v, want ErrStoreUnavailable", err)
	}
}
