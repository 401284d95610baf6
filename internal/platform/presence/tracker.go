// Package presence tracks which operators are currently online. An operator
// is considered online while its heartbeat key has not expired; clients are
// expected to heartbeat at a fraction of the configured TTL.
package presence

import (
	"context"
	"sync"
	"time"
)

// Tracker records operator heartbeats and answers online queries.
type Tracker interface {
	// Heartbeat marks the operator as online for the tracker's TTL.
	Heartbeat(ctx context.Context, clinicID, operatorID string) error
	// IsOnline reports whether the operator has a live heartbeat.
	IsOnline(ctx context.Context, clinicID, operatorID string) (bool, error)
	// Online lists the IDs of all operators with a live heartbeat in the clinic.
	Online(ctx context.Context, clinicID string) ([]string, error)
	// Clear drops the operator's heartbeat immediately (explicit logout).
	Clear(ctx context.Context, clinicID, operatorID string) error
}

// MemoryTracker is an in-process Tracker used in development and tests.
// Entries expire lazily on read.
type MemoryTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time // "clinicID/operatorID" -> expiry
	now     func() time.Time
}

// NewMemoryTracker creates a MemoryTracker with the given heartbeat TTL.
func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return &MemoryTracker{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func memKey(clinicID, operatorID string) string {
	return clinicID + "/" + operatorID
}

func (m *MemoryTracker) Heartbeat(_ context.Context, clinicID, operatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey(clinicID, operatorID)] = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryTracker) IsOnline(_ context.Context, clinicID, operatorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(clinicID, operatorID)
	expiry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.now().After(expiry) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *MemoryTracker) Online(_ context.Context, clinicID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := clinicID + "/"
	now := m.now()
	var online []string
	for key, expiry := range m.entries {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if now.After(expiry) {
			delete(m.entries, key)
			continue
		}
		online = append(online, key[len(prefix):])
	}
	return online, nil
}

func (m *MemoryTracker) Clear(_ context.Context, clinicID, operatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memKey(clinicID, operatorID))
	return nil
}
