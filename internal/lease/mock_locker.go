package lease

import (
	"context"
	"sync"
	"time"

	"github.com/jun/gophstore/internal/model"
)

// MockLocker implements Locker using an in-memory map. Used in dev mode and
// tests.
type MockLocker struct {
	leases map[string]*model.UploadLease
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
}

// NewMockLocker creates a new MockLocker with the default TTL.
func NewMockLocker() *MockLocker {
	return &MockLocker{
		leases: make(map[string]*model.UploadLease),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

func (m *MockLocker) Acquire(_ context.Context, key, holder string) (*model.UploadLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if existing, ok := m.leases[key]; ok {
		if existing.ExpiresAt > now && existing.HolderID != holder {
			return nil, ErrHeld
		}
	}

	lease := &model.UploadLease{
		LeaseKey:  key,
		HolderID:  holder,
		ExpiresAt: now + int64(m.ttl.Seconds()),
	}
	m.leases[key] = lease
	cp := *lease
	return &cp, nil
}

func (m *MockLocker) Heartbeat(_ context.Context, key, holder string) (*model.UploadLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.HolderID != holder {
		return nil, ErrNotHeld
	}
	existing.ExpiresAt = m.now().Unix() + int64(m.ttl.Seconds())
	cp := *existing
	return &cp, nil
}

func (m *MockLocker) Release(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.HolderID != holder {
		return ErrNotHeld
	}
	delete(m.leases, key)
	return nil
}

func (m *MockLocker) Status(_ context.Context, key string) (*model.UploadLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	cp := *existing
	return &cp, nil
}
