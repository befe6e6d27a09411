package upload

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config tunes pacing and retry behaviour of a run.
type Config struct {
	// BatchSize is the number of records per batch.
	BatchSize int `validate:"min=1"`
	// InterBatchDelay separates consecutive batches.
	InterBatchDelay time.Duration `validate:"min=0"`
	// InterItemDelay separates consecutive writes within a batch.
	InterItemDelay time.Duration `validate:"min=0"`
	// MaxRetries is the total number of attempts an item gets across the
	// main pass and the reconciliation pass.
	MaxRetries int `validate:"min=1"`
	// RetryBackoff is the wait before the first retry; it doubles per
	// failure up to maxBackoff.
	RetryBackoff time.Duration `validate:"min=0"`
	// ReconcileAttempts is the share of MaxRetries held back for the
	// reconciliation pass.
	ReconcileAttempts int `validate:"min=0,ltfield=MaxRetries"`
	// ReconcileDelayFactor multiplies InterItemDelay during reconciliation.
	ReconcileDelayFactor float64 `validate:"min=1"`
	// Workers bounds the number of batches, and so writes, in flight.
	Workers int `validate:"min=1"`
}

// DefaultConfig returns the pacing used when the caller has no opinion.
func DefaultConfig() Config {
	return Config{
		BatchSize:            10,
		InterBatchDelay:      time.Second,
		InterItemDelay:       100 * time.Millisecond,
		MaxRetries:           3,
		RetryBackoff:         500 * time.Millisecond,
		ReconcileAttempts:    1,
		ReconcileDelayFactor: 2,
		Workers:              1,
	}
}

// mainAttempts is the per-item budget of the main pass.
func (c Config) mainAttempts() int {
	return c.MaxRetries - c.ReconcileAttempts
}

// reconcileDelay paces items in the reconciliation pass.
func (c Config) reconcileDelay() time.Duration {
	return time.Duration(float64(c.InterItemDelay) * c.ReconcileDelayFactor)
}

// ConfigError reports an invalid Config. It is returned before any write.
type ConfigError struct {
	Fields []string
	Err    error
}

func (e *ConfigError) Error() string {
	return "invalid upload config: " + strings.Join(e.Fields, "; ")
}

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks every field and returns a *ConfigError listing each
// violation.
func (c Config) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ConfigError{Fields: []string{err.Error()}, Err: err}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, describe(fe))
	}
	return &ConfigError{Fields: fields, Err: err}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "ltfield":
		return fmt.Sprintf("%s must be less than %s (got %v)", fe.Field(), fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must be at least %s (got %v)", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}
