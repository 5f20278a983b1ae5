package gosubs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultSessionTTL is the admin session lifetime when none is configured
const DefaultSessionTTL = 24 * time.Hour

// Session is an explicit admin session object with an init/teardown
// lifecycle. It replaces ambient global session state: handlers receive a
// Session and check expiry as a pure function of (IssuedAt, now, TTL).
type Session struct {
	Token    string
	UserID   string
	IssuedAt time.Time
	TTL      time.Duration
}

// NewSession mints a session for a user with a random token
func NewSession(userID string, ttl time.Duration, now time.Time) (Session, error) {
	if userID == "" {
		return Session{}, fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	return Session{
		Token:    hex.EncodeToString(buf),
		UserID:   userID,
		IssuedAt: now.UTC(),
		TTL:      ttl,
	}, nil
}

// ExpiresAt returns the instant the session becomes invalid
func (s Session) ExpiresAt() time.Time {
	return s.IssuedAt.Add(s.TTL)
}

// Valid reports whether the session is live at now
func (s Session) Valid(now time.Time) bool {
	if s.Token == "" || s.UserID == "" {
		return false
	}
	return now.Before(s.ExpiresAt())
}
