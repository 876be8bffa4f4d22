package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the token cache connection. One agent process issues
// a few commands per token lifetime, so a single timeout covers dial, read
// and write, and the pool stays small.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	Timeout  time.Duration
	PoolSize int
}

func (c RedisConfig) options() (*redis.Options, error) {
	if c.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	if c.DB < 0 {
		return nil, fmt.Errorf("redis: db must not be negative, got %d", c.DB)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pool := c.PoolSize
	if pool <= 0 {
		pool = 4
	}
	return &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     timeout,
		ReadTimeout:     timeout,
		WriteTimeout:    timeout,
		PoolSize:        pool,
		PoolTimeout:     2 * timeout,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

// OpenRedis connects and PINGs once so a bad address fails at startup
// instead of on the first token save.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
