package memory

import (
	"context"
	"sync"
)

// RateCounter keeps per-session submission counts in process memory.
// Counts are only cleared by Reset, never by wall-clock rollover. Correct for
// a single-process deployment; multi-instance setups use the redis counter.
type RateCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewRateCounter() *RateCounter {
	return &RateCounter{counts: make(map[string]int64)}
}

func (c *RateCounter) Increment(_ context.Context, sessionID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[sessionID]++
	return c.counts[sessionID], nil
}

func (c *RateCounter) Reset(_ context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.counts, sessionID)
	c.mu.Unlock()
	return nil
}
