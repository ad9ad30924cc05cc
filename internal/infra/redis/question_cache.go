package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-arena-engine/internal/domain"
)

// QuestionCache fronts a slow generation provider with a per-(category,
// language) Redis cache. Cache hits serve instantly; misses are
// single-flighted so concurrent seeds for the same category trigger one
// provider call. Per-session option shuffling downstream keeps replays of
// cached questions from looking identical.
type QuestionCache struct {
	client   *redis.Client
	inner    Provider
	ttl      time.Duration
	prefetch int
	sf       singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Provider matches app.QuestionProvider; declared here so the adapter does
// not import the engine package.
type Provider interface {
	Generate(ctx context.Context, count int, category, language string) ([]domain.GeneratedQuestion, error)
}

func NewQuestionCache(client *redis.Client, inner Provider, ttl time.Duration, prefetch int) *QuestionCache {
	if prefetch <= 0 {
		prefetch = 60
	}
	return &QuestionCache{
		client:   client,
		inner:    inner,
		ttl:      ttl,
		prefetch: prefetch,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) Generate(ctx context.Context, count int, category, language string) ([]domain.GeneratedQuestion, error) {
	key := c.key(category, language)

	if cached, ok := c.load(ctx, key); ok && len(cached) >= count {
		return c.sample(cached, count), nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if cached, ok := c.load(ctx, key); ok && len(cached) >= count {
			return cached, nil
		}

		want := count
		if want < c.prefetch {
			want = c.prefetch
		}
		generated, err := c.inner.Generate(ctx, want, category, language)
		if err != nil {
			return nil, err
		}
		if len(generated) > 0 {
			if data, err := json.Marshal(generated); err == nil {
				_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
			}
		}
		return generated, nil
	})
	if err != nil {
		return nil, err
	}
	return c.sample(result.([]domain.GeneratedQuestion), count), nil
}

func (c *QuestionCache) load(ctx context.Context, key string) ([]domain.GeneratedQuestion, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var questions []domain.GeneratedQuestion
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, false
	}
	return questions, true
}

// sample returns up to count questions drawn from a random offset so
// back-to-back sessions don't all start with the same cached question.
func (c *QuestionCache) sample(questions []domain.GeneratedQuestion, count int) []domain.GeneratedQuestion {
	if count >= len(questions) {
		out := make([]domain.GeneratedQuestion, len(questions))
		copy(out, questions)
		return out
	}
	c.rndMu.Lock()
	start := c.rnd.Intn(len(questions) - count + 1)
	c.rndMu.Unlock()
	out := make([]domain.GeneratedQuestion, count)
	copy(out, questions[start:start+count])
	return out
}

func (c *QuestionCache) key(category, language string) string {
	return "arena:questions:" + category + ":" + language
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
