package adapter

import (
	"context"
)

// Provider hands out a Collection bound to an owner's sub-collection.
type Provider interface {
	// Collection returns the collection at {root}/{ownerID}/{sub}.
	Collection(ctx context.Context, ownerID, sub string) (Collection, error)
}
