package service

import (
	"fmt"
	"net/http"

	"github.com/smallbiznis/valora-session/internal/domain"
)

// AuthError is a caller-visible failure. Err carries the domain sentinel so
// errors.Is works across layers.
type AuthError struct {
	Code        string
	Description string
	Status      int
	Err         error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func newAuthError(kind error, code, desc string, status int) *AuthError {
	return &AuthError{Code: code, Description: desc, Status: status, Err: kind}
}

func errConflict() *AuthError {
	return newAuthError(domain.ErrConflict, "conflict", "Username already exists.", http.StatusConflict)
}

func errInvalidCredentials() *AuthError {
	return newAuthError(domain.ErrInvalidCredentials, "invalid_credentials", "Invalid credentials.", http.StatusUnauthorized)
}

func errInvalidRefresh() *AuthError {
	return newAuthError(domain.ErrInvalidToken, "invalid_token", "Invalid refresh token.", http.StatusUnauthorized)
}

func errUserGone() *AuthError {
	return newAuthError(domain.ErrNotFound, "invalid_token", "Invalid refresh token.", http.StatusUnauthorized)
}

func errStoreUnavailable(cause error) *AuthError {
	return newAuthError(cause, "temporarily_unavailable", "Session store unavailable.", http.StatusServiceUnavailable)
}

func errInvalidRequest(desc string) *AuthError {
	return newAuthError(domain.ErrInvalidRequest, "invalid_request", desc, http.StatusBadRequest)
}
