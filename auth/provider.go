// Package auth holds the credential store and the token service: who the
// caller is, and how that is carried across requests.
package auth

import (
	"context"
	"errors"
	"log"

	"github.com/kitabi/backend/models"
	"github.com/kitabi/backend/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrInvalidCredentials deliberately does not say whether the email or
	// the password was wrong, to avoid account enumeration.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountSuspended   = errors.New("account suspended")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
	ErrIdentityNotFound   = errors.New("identity not found")
)

// IdentityProvider resolves login requests and identity lookups. The Mongo
// and demo implementations are interchangeable behind this contract.
type IdentityProvider interface {
	Authenticate(ctx context.Context, email, password string) (*models.Identity, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Identity, error)
}

// Provider selects between the persistent store and the demo identity set on
// every call, based on a bounded reachability probe. The demo flag in the
// results tells callers which path answered.
type Provider struct {
	persistent IdentityProvider               // nil when MONGODB_URI is unset
	reachable  func(ctx context.Context) bool // probes the persistent store
	fallback   *FallbackProvider
}

func NewProvider(db *store.DB) *Provider {
	p := &Provider{fallback: NewFallbackProvider()}
	if db != nil {
		p.persistent = &MongoProvider{Users: db}
		p.reachable = db.Reachable
	}
	return p
}

// pick returns the provider to use for this call and whether it is the demo
// set. Probing per call (rather than once at boot) lets the server degrade
// and recover without a restart.
func (p *Provider) pick(ctx context.Context) (IdentityProvider, bool) {
	if p.persistent != nil && p.reachable(ctx) {
		return p.persistent, false
	}
	return p.fallback, true
}

// Authenticate verifies the credentials against whichever store is currently
// reachable. demo reports whether the fallback set answered.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (ident *models.Identity, demo bool, err error) {
	impl, demo := p.pick(ctx)
	ident, err = impl.Authenticate(ctx, email, password)
	if err != nil && errors.Is(err, ErrStoreUnavailable) && !demo {
		// The store dropped out between the probe and the query; recover by
		// answering from the demo set rather than failing the login.
		log.Println("auth: persistent store dropped mid-call, serving from demo set:", err)
		ident, err = p.fallback.Authenticate(ctx, email, password)
		return ident, true, err
	}
	return ident, demo, err
}

// FindByID resolves an identity by id from the active store.
func (p *Provider) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Identity, bool, error) {
	impl, demo := p.pick(ctx)
	ident, err := impl.FindByID(ctx, id)
	if err != nil && errors.Is(err, ErrStoreUnavailable) && !demo {
		ident, err = p.fallback.FindByID(ctx, id)
		return ident, true, err
	}
	return ident, demo, err
}
