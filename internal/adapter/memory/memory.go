// Package memory is an in-process adapter.Provider used in dev mode and
// tests. Nothing is persisted across restarts.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jun/gophstore/internal/adapter"
	"github.com/jun/gophstore/internal/codec"
)

const defaultMaxItems = 1000

// Op names the operation passed to a FaultFunc.
type Op string

const (
	OpAdd Op = "add"
	OpGet Op = "get"
	OpSet Op = "set"
)

// FaultFunc may fail an operation before it touches the data. A nil return
// lets the operation proceed.
type FaultFunc func(op Op, path string, rec codec.Record) error

type entry struct {
	id  string
	rec codec.Record
}

// Provider owns every in-memory collection.
type Provider struct {
	mu          sync.RWMutex
	collections map[string][]entry
	maxItems    int
	fault       FaultFunc
}

// Option configures a Provider.
type Option func(*Provider)

// WithMaxItems caps the number of documents per collection.
func WithMaxItems(n int) Option {
	return func(p *Provider) { p.maxItems = n }
}

// WithFault installs a fault injection hook.
func WithFault(f FaultFunc) Option {
	return func(p *Provider) { p.fault = f }
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		collections: make(map[string][]entry),
		maxItems:    defaultMaxItems,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Collection returns the in-memory collection {root}/{ownerID}/{sub}, with
// root fixed to "users".
func (p *Provider) Collection(_ context.Context, ownerID, sub string) (adapter.Collection, error) {
	dp, err := adapter.NewDocumentPath("users", ownerID, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to build collection path: %w", err)
	}
	return p.At(dp.String()), nil
}

// At returns the collection at an explicit path.
func (p *Provider) At(path string) *Collection {
	return &Collection{p: p, path: path}
}

// Count returns the number of documents stored at path.
func (p *Provider) Count(path string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.collections[path])
}

// Collection is an adapter.Collection held in memory.
type Collection struct {
	p    *Provider
	path string
}

var _ adapter.Collection = (*Collection)(nil)

func (c *Collection) Path() string { return c.path }

func (c *Collection) inject(op Op, rec codec.Record) error {
	if c.p.fault == nil {
		return nil
	}
	return c.p.fault(op, c.path, rec)
}

func (c *Collection) Add(ctx context.Context, rec codec.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &adapter.WriteError{Err: err}
	}
	if err := c.inject(OpAdd, rec); err != nil {
		return "", err
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if len(c.p.collections[c.path]) >= c.p.maxItems {
		return "", &adapter.WriteError{StatusCode: 429, Body: fmt.Sprintf("collection limit of %d documents reached", c.p.maxItems)}
	}
	id := uuid.NewString()
	c.p.collections[c.path] = append(c.p.collections[c.path], entry{id: id, rec: rec.With(adapter.IDField, codec.String(id))})
	return id, nil
}

func (c *Collection) Get(ctx context.Context) ([]codec.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &adapter.ReadError{Err: err}
	}
	if err := c.inject(OpGet, codec.Record{}); err != nil {
		return nil, err
	}

	c.p.mu.RLock()
	defer c.p.mu.RUnlock()
	entries := c.p.collections[c.path]
	out := make([]codec.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rec)
	}
	return out, nil
}

func (c *Collection) Set(ctx context.Context, id string, rec codec.Record) error {
	if err := ctx.Err(); err != nil {
		return &adapter.WriteError{Err: err}
	}
	if id == "" {
		return &adapter.WriteError{Err: fmt.Errorf("document id is empty")}
	}
	if err := c.inject(OpSet, rec); err != nil {
		return err
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	stored := rec.With(adapter.IDField, codec.String(id))
	entries := c.p.collections[c.path]
	for i := range entries {
		if entries[i].id == id {
			entries[i].rec = stored
			return nil
		}
	}
	if len(entries) >= c.p.maxItems {
		return &adapter.WriteError{StatusCode: 429, Body: fmt.Sprintf("collection limit of %d documents reached", c.p.maxItems)}
	}
	c.p.collections[c.path] = append(entries, entry{id: id, rec: stored})
	return nil
}
