package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/enrollment"
)

// MemoryStore is an in-memory backend implementing enrollment.Store and
// attendance.EventLog. It backs tests and short-lived demo runs.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]enrollment.Identity
	events     map[string][]attendance.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]enrollment.Identity),
		events:     make(map[string][]attendance.Event),
	}
}

// Get returns the identity for key.
func (m *MemoryStore) Get(ctx context.Context, key string) (*enrollment.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.identities[key]
	if !ok {
		return nil, enrollment.ErrIdentityNotFound
	}
	out := id
	out.Embedding = id.Embedding.Clone()
	return &out, nil
}

// Upsert inserts or replaces an identity.
func (m *MemoryStore) Upsert(ctx context.Context, id enrollment.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id.Embedding = id.Embedding.Clone()
	m.identities[id.Key] = id
	return nil
}

// List returns all identities sorted by key.
func (m *MemoryStore) List(ctx context.Context) ([]enrollment.Identity, error) {
	return m.list(false), nil
}

// ListEnrolled returns identities holding a reference embedding.
func (m *MemoryStore) ListEnrolled(ctx context.Context) ([]enrollment.Identity, error) {
	return m.list(true), nil
}

func (m *MemoryStore) list(enrolledOnly bool) []enrollment.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]enrollment.Identity, 0, len(m.identities))
	for _, id := range m.identities {
		if enrolledOnly && !id.HasEmbedding() {
			continue
		}
		id.Embedding = id.Embedding.Clone()
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Delete removes an identity and cascades to its events.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[key]; !ok {
		return enrollment.ErrIdentityNotFound
	}
	delete(m.identities, key)
	delete(m.events, key)
	return nil
}

// Append records an attendance event.
func (m *MemoryStore) Append(ctx context.Context, ev attendance.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[ev.IdentityKey] = append(m.events[ev.IdentityKey], ev)
	return nil
}

// LatestFor returns the most recent event for an identity, or nil.
func (m *MemoryStore) LatestFor(ctx context.Context, identityKey string) (*attendance.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.events[identityKey]
	if len(events) == 0 {
		return nil, nil
	}

	latest := events[0]
	for _, ev := range events[1:] {
		if ev.Timestamp.After(latest.Timestamp) {
			latest = ev
		}
	}
	return &latest, nil
}

// ListByDateRange returns events in [start, end], ascending by timestamp.
func (m *MemoryStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]attendance.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []attendance.Event
	for _, events := range m.events {
		for _, ev := range events {
			if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
				continue
			}
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// EventsFor returns all events recorded for an identity in append order.
// Test helper.
func (m *MemoryStore) EventsFor(identityKey string) []attendance.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]attendance.Event, len(m.events[identityKey]))
	copy(out, m.events[identityKey])
	return out
}
