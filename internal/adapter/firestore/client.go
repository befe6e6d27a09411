// Package firestore implements adapter.Collection against the document
// store's REST API.
package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jun/gophstore/internal/adapter"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL  = "https://firestore.googleapis.com/v1"
	DefaultDatabase = "(default)"
	DefaultPageSize = 300
)

// Client holds the connection settings shared by every collection.
type Client struct {
	baseURL   string
	projectID string
	database  string
	pageSize  int
	http      *http.Client
	tokens    oauth2.TokenSource
	log       zerolog.Logger

	mu     sync.RWMutex
	static string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, e.g. an emulator.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithDatabase selects a named database.
func WithDatabase(db string) Option {
	return func(c *Client) { c.database = db }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource makes every request ask ts for a valid token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithPageSize sets the page size used when listing a collection.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a Client for projectID.
func NewClient(projectID string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		projectID: projectID,
		database:  DefaultDatabase,
		pageSize:  DefaultPageSize,
		http:      http.DefaultClient,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAuthToken sets the bearer token used when no token source is wired.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.static = token
	c.mu.Unlock()
}

// DocumentsURL is the root every collection path is appended to.
func (c *Client) DocumentsURL() string {
	return fmt.Sprintf("%s/projects/%s/databases/%s/documents", c.baseURL, c.projectID, c.database)
}

// Collection returns a client bound to path, e.g. "users/u1/items".
func (c *Client) Collection(path string) *Collection {
	return &Collection{client: c, path: strings.Trim(path, "/")}
}

// ContextTokenSource is a token source whose refresh can be bounded by the
// request context. auth.Manager implements it.
type ContextTokenSource interface {
	TokenContext(ctx context.Context) (*oauth2.Token, error)
}

// token asks the source for a token but gives up when ctx ends. Plain
// sources are left to finish in the background.
func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if cs, ok := c.tokens.(ContextTokenSource); ok {
		return cs.TokenContext(ctx)
	}
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := c.tokens.Token()
		ch <- result{tok, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.tok, r.err
	}
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}
		tok.SetAuthHeader(req)
		return nil
	}
	c.mu.RLock()
	static := c.static
	c.mu.RUnlock()
	if static != "" {
		req.Header.Set("Authorization", "Bearer "+static)
	}
	return nil
}

// send performs one round trip and returns the body and status. Errors are
// token failures (returned as is) or transport failures wrapped per op.
func (c *Client) send(ctx context.Context, method, endpoint string, payload any, write bool) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode document: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, 0, fmt.Errorf("access token: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, transportError(write, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, transportError(write, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Msg("document store request")
	return data, resp.StatusCode, nil
}

func transportError(write bool, err error) error {
	if write {
		return &adapter.WriteError{Err: err}
	}
	return &adapter.ReadError{Err: err}
}
