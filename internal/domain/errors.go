package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConflict           = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")

	// ErrStoreUnavailable is returned when the session store cannot be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTokenRevoked    = fmt.Errorf("token revoked: %w", ErrUnauthenticated)
)
