package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "certsentry:sent"

	// slotTTL keeps claimed day slots long enough to cover clock skew and
	// late re-runs, then lets Redis reclaim them.
	slotTTL = 48 * time.Hour
)

// Redis is a Ledger backed by a shared Redis instance, for deployments where
// multiple engine replicas must agree on dedup. SETNX on a per-day slot key
// makes MarkSent a single atomic claim.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) LastSent(ctx context.Context, targetID uuid.UUID, threshold int) (string, bool, error) {
	day, err := r.client.Get(ctx, lastKey(targetID, threshold)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: get last sent: %w", err)
	}
	return day, true, nil
}

func (r *Redis) MarkSent(ctx context.Context, targetID uuid.UUID, threshold int, day string) (bool, error) {
	won, err := r.client.SetNX(ctx, slotKey(targetID, threshold, day), "1", slotTTL).Result()
	if err != nil {
		return false, fmt.Errorf("ledger: claim slot: %w", err)
	}
	if won {
		// Best effort. The slot key is the invariant, this is bookkeeping.
		if err := r.client.Set(ctx, lastKey(targetID, threshold), day, 0).Err(); err != nil {
			return true, fmt.Errorf("ledger: record last sent: %w", err)
		}
	}
	return won, nil
}

func slotKey(targetID uuid.UUID, threshold int, day string) string {
	return fmt.Sprintf("%s:%s:%d:%s", keyPrefix, targetID, threshold, day)
}

func lastKey(targetID uuid.UUID, threshold int) string {
	return fmt.Sprintf("%s:last:%s:%d", keyPrefix, targetID, threshold)
}
