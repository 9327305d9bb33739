package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Without a persistent store configured, every call answers from the demo
// set with demoMode true.
func TestProviderWithoutStoreUsesDemoSet(t *testing.T) {
	p := NewProvider(nil)

	ident, demo, err := p.Authenticate(context.Background(), "admin@kitabi.com", "admin123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !demo {
		t.Fatal("demoMode = false, want true")
	}
	if ident.Role != models.RoleAdmin {
		t.Errorf("role = %s, want admin", ident.Role)
	}

	found, demo, err := p.FindByID(context.Background(), ident.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if !demo || found.Email != "admin@kitabi.com" {
		t.Fatalf("find by id = %v demo=%v", found, demo)
	}
}

// alwaysReachable stands in for the per-call store probe.
func alwaysReachable(context.Context) bool { return true }

// In persistent mode, demo credentials do not exist and an unknown email is a
// credential failure with demoMode false; the demo set is not consulted.
func TestProviderPersistentUnknownEmail(t *testing.T) {
	p := &Provider{
		persistent: &MongoProvider{Users: seededUsers(t)},
		reachable:  alwaysReachable,
		fallback:   NewFallbackProvider(),
	}
	_, demo, err := p.Authenticate(context.Background(), "admin@kitabi.com", "admin123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if demo {
		t.Fatal("demoMode = true, want false while the store answers")
	}
}

// When the probe says the store is down, calls answer from the demo set.
func TestProviderUnreachableStoreUsesDemoSet(t *testing.T) {
	p := &Provider{
		persistent: &MongoProvider{Users: seededUsers(t)},
		reachable:  func(context.Context) bool { return false },
		fallback:   NewFallbackProvider(),
	}
	ident, demo, err := p.Authenticate(context.Background(), "reader@kitabi.com", "reader123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !demo || ident.Role != models.RoleUser {
		t.Fatalf("demo=%v role=%s, want demo reader", demo, ident.Role)
	}
}

// droppedStore passes the reachability probe but fails every query, the shape
// of a store dying between the probe and the lookup.
type droppedStore struct{}

func (droppedStore) Authenticate(ctx context.Context, email, password string) (*models.Identity, error) {
	return nil, fmt.Errorf("%w: connection reset", ErrStoreUnavailable)
}

func (droppedStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Identity, error) {
	return nil, fmt.Errorf("%w: connection reset", ErrStoreUnavailable)
}

func TestProviderRecoversWhenStoreDropsMidCall(t *testing.T) {
	p := &Provider{
		persistent: droppedStore{},
		reachable:  alwaysReachable,
		fallback:   NewFallbackProvider(),
	}

	ident, demo, err := p.Authenticate(context.Background(), "reader@kitabi.com", "reader123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !demo {
		t.Fatal("demoMode = false, want true after mid-call fallback")
	}
	if ident.Email != "reader@kitabi.com" {
		t.Fatalf("identity = %+v", ident)
	}

	found, demo, err := p.FindByID(context.Background(), ident.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if !demo || found.Email != "reader@kitabi.com" {
		t.Fatalf("find by id = %+v demo=%v", found, demo)
	}
}

func TestFallbackInvalidCredentials(t *testing.T) {
	f := NewFallbackProvider()
	cases := []struct{ email, password string }{
		{"admin@kitabi.com", "wrong"},
		{"nobody@kitabi.com", "admin123"},
		{"", ""},
	}
	for _, c := range cases {
		if _, err := f.Authenticate(context.Background(), c.email, c.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authenticate(%q, %q) err = %v, want ErrInvalidCredentials", c.email, c.password, err)
		}
	}
}

func TestFallbackSuspendedAccount(t *testing.T) {
	f := NewFallbackProvider()
	if _, err := f.Authenticate(context.Background(), "suspended@kitabi.com", "suspended123"); !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("err = %v, want ErrAccountSuspended", err)
	}
}

func TestFallbackFindByIDUnknown(t *testing.T) {
	f := NewFallbackProvider()
	if _, err := f.FindByID(context.Background(), primitive.NewObjectID()); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("err = %v, want ErrIdentityNotFound", err)
	}
}

// Authenticate must hand back a copy so callers cannot mutate the seeded set.
func TestFallbackReturnsCopy(t *testing.T) {
	f := NewFallbackProvider()
	a, err := f.Authenticate(context.Background(), "reader@kitabi.com", "reader123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	a.Role = models.RoleAdmin
	b, err := f.Authenticate(context.Background(), "reader@kitabi.com", "reader123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if b.Role != models.RoleUser {
		t.Fatal("seeded identity was mutated through a returned pointer")
	}
}
