package auth

import (
	"errors"
)

var (
	// ErrNotAuthenticated is returned when no credential is held. Recoverable
	// by signing in.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenExpired is returned when the store rejects an access token.
	// Recoverable by refreshing.
	ErrTokenExpired = errors.New("access token expired")

	// ErrRefreshTokenExpired means the refresh token itself was rejected.
	// The caller must re-authenticate; it is never retried.
	ErrRefreshTokenExpired = errors.New("refresh token expired: re-authentication required")

	// ErrInvalidCredentials is returned by sign-in and sign-up when the
	// identity service rejects the email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoCredential is returned by a Store that holds nothing.
	ErrNoCredential = errors.New("no stored credential")
)

// IsRecoverable reports whether err is an auth failure a refresh can fix.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsTerminal reports whether err requires a full re-authentication.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRefreshTokenExpired) || errors.Is(err, ErrNotAuthenticated)
}
