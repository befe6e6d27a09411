package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/jun/gophstore/internal/codec"
)

// IDField is the synthetic field Get adds to every returned record.
const IDField = "id"

// Collection is the set of operations against one collection path.
// Implementations do not cache: every call is a fresh round trip.
type Collection interface {
	// Add creates a document with a server-assigned id and returns the id.
	Add(ctx context.Context, rec codec.Record) (string, error)

	// Get returns every document in the collection, each with an "id" field.
	// A collection that was never written is empty, not an error.
	Get(ctx context.Context) ([]codec.Record, error)

	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, id string, rec codec.Record) error

	// Path returns the collection path this client is bound to.
	Path() string
}

// DocumentPath addresses a per-owner collection: {root}/{owner}/{sub}.
type DocumentPath struct {
	Root    string
	OwnerID string
	Sub     string
}

// NewDocumentPath validates each segment and returns the path.
func NewDocumentPath(root, ownerID, sub string) (DocumentPath, error) {
	p := DocumentPath{Root: root, OwnerID: ownerID, Sub: sub}
	segments := []struct{ name, value string }{
		{"root", root},
		{"owner", ownerID},
		{"sub", sub},
	}
	for _, seg := range segments {
		if seg.value == "" {
			return DocumentPath{}, fmt.Errorf("document path: %s segment is empty", seg.name)
		}
		if strings.Contains(seg.value, "/") {
			return DocumentPath{}, fmt.Errorf("document path: %s segment %q contains '/'", seg.name, seg.value)
		}
	}
	return p, nil
}

func (p DocumentPath) String() string {
	return p.Root + "/" + p.OwnerID + "/" + p.Sub
}
