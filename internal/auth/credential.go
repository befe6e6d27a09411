package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL is the lifetime the identity service gives an access token.
	DefaultTTL = time.Hour
	// DefaultSafetyMargin makes a token stale ten minutes before it expires.
	DefaultSafetyMargin = 10 * time.Minute
)

// Credential is an access token plus the refresh token that renews it.
type Credential struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	OwnerID      string
	Email        string
}

// Fresh reports whether the access token may still be used at now.
func (c Credential) Fresh(now time.Time, ttl, margin time.Duration) bool {
	if c.AccessToken == "" || c.IssuedAt.IsZero() {
		return false
	}
	return now.Sub(c.IssuedAt) < ttl-margin
}

// Age returns how long ago the access token was issued.
func (c Credential) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// OwnerFromIDToken extracts the owner identifier (user_id, then sub) from an
// id token without verifying its signature. The store verifies tokens; this
// only reads claims we were handed by the identity service.
func OwnerFromIDToken(idToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", fmt.Errorf("parse id token: %w", err)
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("id token subject: %w", err)
	}
	if sub == "" {
		return "", errors.New("id token has no subject")
	}
	return sub, nil
}
