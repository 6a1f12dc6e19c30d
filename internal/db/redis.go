package db

import (
	"context"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects the shared client backing the verdict cache and the limiter.
// Read/write timeouts stay at go-redis defaults; callers bound each call with a context.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           dial,
		ContextTimeoutEnabled: true,
	})
	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return rdb, nil
}
