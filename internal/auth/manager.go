// Package auth owns the credential lifecycle: sign-in, freshness checks,
// refresh-token rotation and persistence of the current credential.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Config configures a Manager. Zero values take the package defaults.
type Config struct {
	APIKey       string
	IdentityURL  string
	TokenURL     string
	HTTPClient   *http.Client
	TTL          time.Duration
	SafetyMargin time.Duration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used for refresh events.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager hands out valid access tokens, refreshing them when stale.
// Refreshes are serialized; concurrent callers that observe a stale token
// share a single refresh. Waiting for the refresh lock honours the
// caller's context.
type Manager struct {
	store    Store
	identity *IdentityClient
	oauth    *oauth2.Config
	http     *http.Client
	ttl      time.Duration
	margin   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	// sem is a one-slot lock that callers can abandon on cancellation.
	sem chan struct{}
}

// NewManager creates a Manager over store.
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}

	m := &Manager{
		store:    store,
		identity: NewIdentityClient(cfg.IdentityURL, cfg.APIKey, cfg.HTTPClient),
		oauth: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL + "?key=" + url.QueryEscape(cfg.APIKey),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:   cfg.HTTPClient,
		ttl:    cfg.TTL,
		margin: cfg.SafetyMargin,
		now:    time.Now,
		log:    zerolog.Nop(),
		sem:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignIn authenticates with email and password and stores the credential.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Credential, error) {
	tokens, err := m.identity.SignIn(ctx, email, password)
	if err != nil {
		return Credential{}, err
	}
	return m.storeTokens(ctx, tokens)
}

// SignUp registers an account and stores its credential.
func (m *Manager) SignUp(ctx context.Context, email, password string) (Credential, error) {
	tokens, err := m.identity.SignUp(ctx, email, password)
	if err != nil {
		return Credential{}, err
	}
	return m.storeTokens(ctx, tokens)
}

func (m *Manager) storeTokens(ctx context.Context, t *AccountTokens) (Credential, error) {
	cred := Credential{
		AccessToken:  t.IDToken,
		RefreshToken: t.RefreshToken,
		IssuedAt:     m.now(),
		OwnerID:      t.LocalID,
		Email:        t.Email,
	}
	if cred.OwnerID == "" {
		if owner, err := OwnerFromIDToken(cred.AccessToken); err == nil {
			cred.OwnerID = owner
		}
	}

	if err := m.lock(ctx); err != nil {
		return Credential{}, err
	}
	defer m.unlock()
	if err := m.store.Save(ctx, cred); err != nil {
		return Credential{}, fmt.Errorf("save credential: %w", err)
	}
	m.log.Info().Str("owner", cred.OwnerID).Msg("signed in")
	return cred, nil
}

// Logout discards the stored credential.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	return m.store.Clear(ctx)
}

// Current returns the stored credential without refreshing it.
func (m *Manager) Current(ctx context.Context) (Credential, error) {
	return m.load(ctx)
}

// Owner returns the owner identifier of the stored credential.
func (m *Manager) Owner(ctx context.Context) (string, error) {
	cred, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if cred.OwnerID != "" {
		return cred.OwnerID, nil
	}
	return OwnerFromIDToken(cred.AccessToken)
}

// GetValidToken returns an access token that is fresh at the time of the
// call, refreshing first when the stored one is stale.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	cred, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if cred.Fresh(m.now(), m.ttl, m.margin) {
		return cred.AccessToken, nil
	}

	if err := m.lock(ctx); err != nil {
		return "", err
	}
	defer m.unlock()

	// Another caller may have refreshed while we waited for the lock.
	cred, err = m.load(ctx)
	if err != nil {
		return "", err
	}
	if cred.Fresh(m.now(), m.ttl, m.margin) {
		return cred.AccessToken, nil
	}

	cred, err = m.refreshLocked(ctx, cred)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Refresh unconditionally exchanges the refresh token for a new credential.
func (m *Manager) Refresh(ctx context.Context) (Credential, error) {
	if err := m.lock(ctx); err != nil {
		return Credential{}, err
	}
	defer m.unlock()

	cred, err := m.load(ctx)
	if err != nil {
		return Credential{}, err
	}
	return m.refreshLocked(ctx, cred)
}

// Validate asks the identity service whether token is still accepted.
func (m *Manager) Validate(ctx context.Context, token string) (bool, error) {
	return m.identity.Lookup(ctx, token)
}

// Token implements oauth2.TokenSource. It cannot be cancelled; prefer
// TokenContext where a request context is available.
func (m *Manager) Token() (*oauth2.Token, error) {
	return m.TokenContext(context.Background())
}

// TokenContext is Token bounded by ctx: a refresh it triggers, or a wait
// for another caller's refresh, ends when ctx does.
func (m *Manager) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	access, err := m.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if cred, err := m.load(ctx); err == nil && cred.AccessToken == access {
		tok.Expiry = cred.IssuedAt.Add(m.ttl - m.margin)
	}
	return tok, nil
}

func (m *Manager) load(ctx context.Context) (Credential, error) {
	cred, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoCredential) {
		return Credential{}, ErrNotAuthenticated
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load credential: %w", err)
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return Credential{}, ErrNotAuthenticated
	}
	return cred, nil
}

func (m *Manager) lock(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() { <-m.sem }

// refreshLocked must be called with the lock held.
func (m *Manager) refreshLocked(ctx context.Context, cred Credential) (Credential, error) {
	if cred.RefreshToken == "" {
		return Credential{}, ErrRefreshTokenExpired
	}

	start := m.now()
	rctx := ctx
	if m.http != nil {
		rctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)
	}
	tok, err := m.oauth.TokenSource(rctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return Credential{}, fmt.Errorf("refresh token: %w", cerr)
		}
		if reason, rejected := refreshRejected(err); rejected {
			if cerr := m.store.Clear(ctx); cerr != nil {
				m.log.Warn().Err(cerr).Msg("failed to clear rejected credential")
			}
			m.log.Warn().Str("reason", reason).Msg("refresh token rejected")
			return Credential{}, fmt.Errorf("%w: %s", ErrRefreshTokenExpired, reason)
		}
		return Credential{}, fmt.Errorf("refresh token: %w", err)
	}

	next := cred
	next.AccessToken = tok.AccessToken
	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		next.AccessToken = id
	}
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.IssuedAt = m.now()
	if uid, ok := tok.Extra("user_id").(string); ok && uid != "" {
		next.OwnerID = uid
	} else if owner, err := OwnerFromIDToken(next.AccessToken); err == nil {
		next.OwnerID = owner
	}

	if err := m.store.Save(ctx, next); err != nil {
		return Credential{}, fmt.Errorf("save refreshed credential: %w", err)
	}
	m.log.Info().
		Str("owner", next.OwnerID).
		Bool("rotated", next.RefreshToken != cred.RefreshToken).
		Dur("elapsed", m.now().Sub(start)).
		Msg("access token refreshed")
	return next, nil
}

var terminalRefreshReasons = map[string]bool{
	"INVALID_REFRESH_TOKEN": true,
	"TOKEN_EXPIRED":         true,
	"USER_DISABLED":         true,
	"USER_NOT_FOUND":        true,
	"invalid_grant":         true,
}

// refreshRejected reports whether err is the token endpoint refusing the
// refresh token itself, and the reason it gave.
func refreshRejected(err error) (string, bool) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil || re.Response.StatusCode != http.StatusBadRequest {
		return "", false
	}
	if terminalRefreshReasons[re.ErrorCode] {
		return re.ErrorCode, true
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(re.Body, &envelope) != nil {
		return "", false
	}
	msg := envelope.Error.Message
	// Messages may carry a suffix: "TOKEN_EXPIRED : details".
	for reason := range terminalRefreshReasons {
		if msg == reason || strings.HasPrefix(msg, reason+" ") {
			return reason, true
		}
	}
	return "", false
}
