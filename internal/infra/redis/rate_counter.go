package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RateCounter keeps per-session submission counts in Redis so the ceiling
// holds across engine instances. Keys live until the session terminates;
// there is no wall-clock expiry.
type RateCounter struct {
	client *redis.Client
}

func NewRateCounter(client *redis.Client) *RateCounter {
	return &RateCounter{client: client}
}

func (c *RateCounter) Increment(ctx context.Context, sessionID string) (int64, error) {
	return c.client.Incr(ctx, c.key(sessionID)).Result()
}

func (c *RateCounter) Reset(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

func (c *RateCounter) key(sessionID string) string {
	return "arena:rate:" + sessionID
}
