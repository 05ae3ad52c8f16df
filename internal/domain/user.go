package domain

import "time"

// User represents an account that can log in with a username and password.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
