package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophstore/internal/auth"
	"github.com/jun/gophstore/internal/codec"
	"github.com/jun/gophstore/internal/config"
	"github.com/jun/gophstore/internal/upload"
)

type staticResolver map[string]string

func (s staticResolver) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not found", name)
}

// backend serves the identity endpoints under /v1 and documents under
// /projects.
type backend struct {
	mu    sync.Mutex
	auths []string
	docs  int
	hits  int
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits++
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/accounts:signInWithPassword":
		_ = json.NewEncoder(w).Encode(map[string]string{
			"idToken":      "tok-1",
			"refreshToken": "refresh-1",
			"expiresIn":    "3600",
			"localId":      "u1",
			"email":        "a@example.com",
		})
	case r.URL.Path == "/v1/accounts:lookup":
		_ = json.NewEncoder(w).Encode(map[string]any{"users": []map[string]string{{"localId": "u1"}}})
	case strings.HasSuffix(r.URL.Path, "/documents/users/u1/items") && r.Method == http.MethodPost:
		b.mu.Lock()
		b.auths = append(b.auths, r.Header.Get("Authorization"))
		b.docs++
		n := b.docs
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"name": r.URL.Path + fmt.Sprintf("/doc-%d", n)})
	default:
		http.NotFound(w, r)
	}
}

func testConfig(srvURL string, dev bool) *config.Config {
	up := upload.DefaultConfig()
	up.InterBatchDelay = 0
	up.InterItemDelay = 0
	up.RetryBackoff = 0
	return &config.Config{
		DevMode:        dev,
		ProjectID:      "p",
		FirestoreURL:   srvURL,
		CollectionRoot: "users",
		APIKeyParam:    "/gophstore/firebase-api-key",
		IdentityURL:    srvURL + "/v1",
		TokenURL:       srvURL + "/v1/token",
		TokenTTL:       time.Hour,
		SafetyMargin:   10 * time.Minute,
		SessionKey:     "default",
		Upload:         up,
	}
}

func numbered(n int) []codec.Record {
	out := make([]codec.Record, n)
	for i := range out {
		out[i] = codec.NewRecord(codec.F("n", codec.Int(int64(i))))
	}
	return out
}

func newTestApp(t *testing.T, dev bool) (*App, *backend) {
	t.Helper()
	b := &backend{}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	a, err := New(context.Background(), testConfig(srv.URL, dev),
		WithHTTPClient(srv.Client()),
		WithResolver(staticResolver{"/gophstore/firebase-api-key": "test-key"}),
	)
	require.NoError(t, err)
	return a, b
}

func TestDevMode_UploadsToMemory(t *testing.T) {
	a, _ := newTestApp(t, true)
	ctx := context.Background()

	_, err := a.SignIn(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	stats, err := a.Upload(ctx, "items", numbered(12))
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Successful)
	assert.Equal(t, 2, stats.Batches)
	assert.Empty(t, stats.Failures)

	col, err := a.Collection(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/items", col.Path())
	docs, err := col.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 12)

	// The lease from the first run was released.
	_, err = a.Upload(ctx, "items", numbered(1))
	require.NoError(t, err)
}

func TestFirestore_WritesCarryManagerToken(t *testing.T) {
	a, b := newTestApp(t, false)
	ctx := context.Background()

	_, err := a.SignIn(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	stats, err := a.Upload(ctx, "items", numbered(3))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Successful)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-1", "Bearer tok-1"}, b.auths)
}

func TestUpload_RequiresSignIn(t *testing.T) {
	a, b := newTestApp(t, false)

	_, err := a.Upload(context.Background(), "items", numbered(2))
	require.ErrorIs(t, err, upload.ErrReauthenticationRequired)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Zero(t, b.docs)
}

func TestUpload_EmptyOrInvalidTuningSkipsNetwork(t *testing.T) {
	a, b := newTestApp(t, false)
	ctx := context.Background()

	// Nobody is signed in, so any token lookup would fail.
	stats, err := a.Upload(ctx, "items", nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	a.cfg.Upload.BatchSize = 0
	_, err = a.Upload(ctx, "items", numbered(2))
	var ce *upload.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.NotErrorIs(t, err, upload.ErrReauthenticationRequired)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Zero(t, b.hits)
}

func TestHealth(t *testing.T) {
	a, _ := newTestApp(t, true)
	ctx := context.Background()

	assert.ErrorIs(t, a.Health(ctx), auth.ErrNotAuthenticated)

	_, err := a.SignIn(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	assert.NoError(t, a.Health(ctx))
	assert.NotNil(t, a.Tokens())
}

func TestNew_MissingAPIKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0", true)
	_, err := New(context.Background(), cfg, WithResolver(staticResolver{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve API key")
}

func TestNew_DevModeReadsKeyFromEnv(t *testing.T) {
	t.Setenv("GOPHSTORE_FIREBASE_API_KEY", "from-env")
	cfg := testConfig("http://127.0.0.1:0", true)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	_, err = a.Collection(context.Background(), "items")
	assert.True(t, errors.Is(err, auth.ErrNotAuthenticated))
}
