package domain

import "time"

// TokenPair is returned by login and refresh. Only the refresh token is
// persisted, keyed by UserID in the session store.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// Claims is the verified (or, for bookkeeping only, decoded) token payload.
type Claims struct {
	ID        string
	Subject   string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity returns the request identity carried by the claims.
func (c Claims) Identity() Identity {
	return Identity{ID: c.Subject, Username: c.Username}
}
