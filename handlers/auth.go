package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kitabi/backend/auth"
	"github.com/kitabi/backend/middleware"
	"github.com/kitabi/backend/models"
)

type AuthHandler struct {
	Provider *auth.Provider
	Tokens   *auth.TokenService
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string           `json:"token"`
	Identity *models.Identity `json:"identity"`
	DemoMode bool             `json:"demoMode"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		http.Error(w, `{"error":"email and password required"}`, http.StatusBadRequest)
		return
	}

	ident, demo, err := h.Provider.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			http.Error(w, `{"error":"invalid email or password"}`, http.StatusUnauthorized)
		case errors.Is(err, auth.ErrAccountSuspended):
			http.Error(w, `{"error":"account suspended"}`, http.StatusForbidden)
		case errors.Is(err, auth.ErrStoreUnavailable):
			http.Error(w, `{"error":"login temporarily unavailable"}`, http.StatusServiceUnavailable)
		default:
			http.Error(w, `{"error":"login failed"}`, http.StatusInternalServerError)
		}
		return
	}

	token, _, err := h.Tokens.Issue(ident)
	if err != nil {
		http.Error(w, `{"error":"could not create token"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: token, Identity: ident, DemoMode: demo})
}

type RefreshResponse struct {
	Token string `json:"token"`
}

// Refresh re-issues the caller's bearer token with a fresh expiry. An expired
// token is rejected; the client must log in again.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
		return
	}
	token, _, err := h.Tokens.Refresh(parts[1])
	if err != nil {
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RefreshResponse{Token: token})
}

type MeResponse struct {
	Identity *models.Identity `json:"identity"`
	DemoMode bool             `json:"demoMode"`
}

// Me resolves the caller's current identity from the active credential store,
// picking up role or status changes the stateless token cannot carry.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	current, demo, err := h.Provider.FindByID(r.Context(), ident.ID)
	if err != nil {
		if errors.Is(err, auth.ErrIdentityNotFound) {
			http.Error(w, `{"error":"identity not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MeResponse{Identity: current, DemoMode: demo})
}
