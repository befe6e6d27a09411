// Package lease guards a collection against concurrent upload runs with a
// TTL lease that the holder renews while it works.
package lease

import (
	"context"
	"errors"

	"github.com/jun/gophstore/internal/model"
)

// ErrHeld is returned when another holder owns an unexpired lease.
var ErrHeld = errors.New("lease is held by another run")

// ErrNotHeld is returned when renewing or releasing a lease the caller does
// not own.
var ErrNotHeld = errors.New("lease not found or not owned by holder")

// Locker manages leases keyed by collection path.
type Locker interface {
	// Acquire takes the lease for key. It succeeds when no lease exists, the
	// existing one has expired, or holder already owns it.
	Acquire(ctx context.Context, key, holder string) (*model.UploadLease, error)

	// Heartbeat extends the lease TTL if holder owns it.
	Heartbeat(ctx context.Context, key, holder string) (*model.UploadLease, error)

	// Release removes the lease if holder owns it.
	Release(ctx context.Context, key, holder string) error

	// Status returns the live lease for key, or nil.
	Status(ctx context.Context, key string) (*model.UploadLease, error)
}
