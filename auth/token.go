package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
)

type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 access tokens. Tokens are stateless:
// expiry is the only invalidation, and verification never touches the
// database, so it is cheap enough for every request. Logout is client-side
// token discarding; there is no server-side revocation list.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token binding the identity's id and role, expiring after the
// configured TTL.
func (s *TokenService) Issue(ident *models.Identity) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		UserID: ident.ID.Hex(),
		Email:  ident.Email,
		Role:   ident.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature and expiry and rebuilds the identity from the
// claims. A token that verifies is treated as active: suspension after issue
// takes effect once the token expires, an accepted property of stateless
// tokens.
func (s *TokenService) Verify(tokenString string) (*models.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenSignature
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	return &models.Identity{
		ID:     id,
		Email:  claims.Email,
		Role:   claims.Role,
		Status: models.StatusActive,
	}, nil
}

// Refresh re-issues a token with a fresh expiry, but only while the input is
// still valid. An expired token is never refreshed; the caller must log in
// again.
func (s *TokenService) Refresh(tokenString string) (string, time.Time, error) {
	ident, err := s.Verify(tokenString)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.Issue(ident)
}
