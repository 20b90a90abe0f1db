package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/certsentry/certsentry/internal/cert"
)

// RecordStore is the persistence collaborator for classified records.
type RecordStore interface {
	// Upsert stores rec. When the target's current record carries the same
	// fingerprint only status and last-checked move forward; a different
	// fingerprint supersedes the current record.
	Upsert(ctx context.Context, rec cert.Record) error

	// Latest returns the current record for a target.
	Latest(ctx context.Context, targetID uuid.UUID) (cert.Record, bool, error)

	// List returns the current record of every known target.
	List(ctx context.Context) ([]cert.Record, error)
}

// Memory is a thread-safe in-memory RecordStore.
type Memory struct {
	mu      sync.RWMutex
	latest  map[uuid.UUID]cert.Record
	history map[uuid.UUID][]cert.Record // superseded records, oldest first
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		latest:  make(map[uuid.UUID]cert.Record),
		history: make(map[uuid.UUID][]cert.Record),
	}
}

func (m *Memory) Upsert(ctx context.Context, rec cert.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.latest[rec.TargetID]
	if ok && cur.Fingerprint != rec.Fingerprint {
		m.history[rec.TargetID] = append(m.history[rec.TargetID], cur)
	}
	m.latest[rec.TargetID] = rec
	return nil
}

func (m *Memory) Latest(ctx context.Context, targetID uuid.UUID) (cert.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.latest[targetID]
	return rec, ok, nil
}

func (m *Memory) List(ctx context.Context) ([]cert.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]cert.Record, 0, len(m.latest))
	for _, rec := range m.latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out, nil
}

// History returns the superseded records for a target, oldest first.
func (m *Memory) History(targetID uuid.UUID) []cert.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[targetID]
	out := make([]cert.Record, len(h))
	copy(out, h)
	return out
}
