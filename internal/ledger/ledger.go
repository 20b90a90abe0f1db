package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger is the notification dedup store. Implementations must serialize
// writes to a given (target, threshold) key.
type Ledger interface {
	// LastSent returns the day (YYYY-MM-DD, UTC) a notification was last
	// sent for the key, or ok=false if none was ever sent.
	LastSent(ctx context.Context, targetID uuid.UUID, threshold int) (day string, ok bool, err error)

	// MarkSent claims the (target, threshold, day) send slot. It returns
	// won=true for exactly one caller per slot; losers must not send.
	MarkSent(ctx context.Context, targetID uuid.UUID, threshold int, day string) (won bool, err error)
}

// DayOf formats t as a UTC calendar day, the ledger's dedup granularity.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func key(targetID uuid.UUID, threshold int) string {
	return targetID.String() + ":" + strconv.Itoa(threshold)
}

// Memory is the in-process Ledger used by default and in tests.
type Memory struct {
	mu   sync.Mutex
	sent map[string]string // (target:threshold) -> last day sent
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{sent: make(map[string]string)}
}

func (m *Memory) LastSent(ctx context.Context, targetID uuid.UUID, threshold int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day, ok := m.sent[key(targetID, threshold)]
	return day, ok, nil
}

func (m *Memory) MarkSent(ctx context.Context, targetID uuid.UUID, threshold int, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(targetID, threshold)
	if m.sent[k] == day {
		return false, nil
	}
	m.sent[k] = day
	return true, nil
}
