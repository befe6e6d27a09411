// Package config reads runtime configuration from GOPHSTORE_* environment
// variables and exposes it as typed values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jun/gophstore/internal/auth"
	"github.com/jun/gophstore/internal/upload"
)

const (
	defaultAPIKeyParam    = "/gophstore/firebase-api-key"
	defaultCollectionRoot = "users"
	defaultSessionKey     = "default"
	defaultKMSKeyID       = "alias/gophstore-token-key"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DevMode swaps AWS-backed stores for in-memory ones.
	DevMode bool

	ProjectID      string `validate:"required_unless=DevMode true"`
	Database       string
	FirestoreURL   string `validate:"omitempty,url"`
	CollectionRoot string `validate:"required"`

	// APIKeyParam names the secret holding the identity API key.
	APIKeyParam string `validate:"required"`
	IdentityURL string `validate:"omitempty,url"`
	TokenURL    string `validate:"omitempty,url"`

	TokenTTL     time.Duration `validate:"min=0"`
	SafetyMargin time.Duration `validate:"min=0"`

	// CredentialsTable enables the DynamoDB credential store when set.
	CredentialsTable string
	SessionKey       string `validate:"required"`
	KMSKeyID         string

	// LeaseTable enables DynamoDB upload leases when set.
	LeaseTable string

	Upload upload.Config `validate:"-"`
}

// Load reads configuration from the environment, falling back to defaults.
// Malformed values are reported together rather than silently replaced.
func Load() (*Config, error) {
	r := &reader{prefix: "GOPHSTORE_"}
	def := upload.DefaultConfig()

	cfg := &Config{
		DevMode:          r.boolean("DEV_MODE", os.Getenv("DEV_MODE") == "true"),
		ProjectID:        r.str("PROJECT_ID", ""),
		Database:         r.str("DATABASE", ""),
		FirestoreURL:     r.str("FIRESTORE_URL", ""),
		CollectionRoot:   r.str("COLLECTION_ROOT", defaultCollectionRoot),
		APIKeyParam:      r.str("API_KEY_PARAM", defaultAPIKeyParam),
		IdentityURL:      r.str("IDENTITY_URL", ""),
		TokenURL:         r.str("TOKEN_URL", ""),
		TokenTTL:         r.duration("TOKEN_TTL", auth.DefaultTTL),
		SafetyMargin:     r.duration("TOKEN_SAFETY_MARGIN", auth.DefaultSafetyMargin),
		CredentialsTable: r.str("CREDENTIALS_TABLE", ""),
		SessionKey:       r.str("SESSION_KEY", defaultSessionKey),
		KMSKeyID:         r.str("KMS_KEY_ID", defaultKMSKeyID),
		LeaseTable:       r.str("LEASE_TABLE", ""),
		Upload: upload.Config{
			BatchSize:            r.integer("BATCH_SIZE", def.BatchSize),
			InterBatchDelay:      r.duration("INTER_BATCH_DELAY", def.InterBatchDelay),
			InterItemDelay:       r.duration("INTER_ITEM_DELAY", def.InterItemDelay),
			MaxRetries:           r.integer("MAX_RETRIES", def.MaxRetries),
			RetryBackoff:         r.duration("RETRY_BACKOFF", def.RetryBackoff),
			ReconcileAttempts:    r.integer("RECONCILE_ATTEMPTS", def.ReconcileAttempts),
			ReconcileDelayFactor: r.float("RECONCILE_DELAY_FACTOR", def.ReconcileDelayFactor),
			Workers:              r.integer("WORKERS", def.Workers),
		},
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the top-level fields and the upload tuning.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Upload.Validate()
}

// reader looks up prefixed environment variables and records parse errors.
type reader struct {
	prefix string
	errs   []error
}

func (r *reader) lookup(key string) (string, string, bool) {
	name := r.prefix + key
	v, ok := os.LookupEnv(name)
	v = strings.TrimSpace(v)
	return name, v, ok && v != ""
}

func (r *reader) str(key, def string) string {
	if _, v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	name, v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid int %q", name, v))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	name, v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", name, v))
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	name, v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid bool %q", name, v))
		return def
	}
	return b
}

// duration accepts Go duration strings ("250ms", "2s").
func (r *reader) duration(key string, def time.Duration) time.Duration {
	name, v, ok := r.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q (e.g. 250ms, 2s)", name, v))
		return def
	}
	return d
}
