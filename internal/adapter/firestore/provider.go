package firestore

import (
	"context"
	"fmt"

	"github.com/jun/gophstore/internal/adapter"
)

// Provider implements adapter.Provider for one root collection.
type Provider struct {
	client *Client
	root   string
}

// NewProvider creates a Provider that places owner data under root.
func NewProvider(client *Client, root string) *Provider {
	return &Provider{client: client, root: root}
}

// Collection returns the collection {root}/{ownerID}/{sub}.
func (p *Provider) Collection(_ context.Context, ownerID, sub string) (adapter.Collection, error) {
	dp, err := adapter.NewDocumentPath(p.root, ownerID, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to build collection path: %w", err)
	}
	return p.client.Collection(dp.String()), nil
}
