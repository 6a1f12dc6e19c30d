package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/redis/go-redis/v9"
)

// VerdictCache maps a credential digest to its last verified Verdict.
// Entries are never authoritative: they expire after a fixed TTL and can be dropped early.
type VerdictCache interface {
	Get(ctx context.Context, digest string) (model.Verdict, bool, error)
	Set(ctx context.Context, digest string, v model.Verdict, ttl time.Duration) error
	Delete(ctx context.Context, digests ...string) error
}

type RedisVerdictCache struct {
	rds     *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisVerdictCache stores verdicts as JSON under prefix+digest. Every call is bounded by
// timeout when it is positive.
func NewRedisVerdictCache(rds *redis.Client, prefix string, timeout time.Duration) *RedisVerdictCache {
	if prefix == "" {
		prefix = "verdict:"
	}
	return &RedisVerdictCache{rds: rds, prefix: prefix, timeout: timeout}
}

var _ VerdictCache = (*RedisVerdictCache)(nil)

func (c *RedisVerdictCache) key(digest string) string { return c.prefix + digest }

func (c *RedisVerdictCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *RedisVerdictCache) Get(ctx context.Context, digest string) (model.Verdict, bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	b, err := c.rds.Get(ctx, c.key(digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Verdict{}, false, nil
	}
	if err != nil {
		return model.Verdict{}, false, err
	}

	var v model.Verdict
	if err := json.Unmarshal(b, &v); err != nil {
		// a corrupt entry is treated as a miss and overwritten on the next store hit
		return model.Verdict{}, false, fmt.Errorf("decode verdict: %w", err)
	}
	return v, true, nil
}

func (c *RedisVerdictCache) Set(ctx context.Context, digest string, v model.Verdict, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.rds.Set(ctx, c.key(digest), b, ttl).Err()
}

func (c *RedisVerdictCache) Delete(ctx context.Context, digests ...string) error {
	if len(digests) == 0 {
		return nil
	}
	keys := make([]string, len(digests))
	for i, d := range digests {
		keys[i] = c.key(d)
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.rds.Del(ctx, keys...).Err()
}
