package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the raw token under one key per identity and lets Redis
// expire it together with the token.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	clock  func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "softphone:token:", clock: time.Now}
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + identity
}

func (s *RedisStore) Load(ctx context.Context, identity string) (Token, error) {
	raw, err := s.rdb.Get(ctx, s.key(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("credential: redis get: %w", err)
	}
	t, err := Parse(raw)
	if err != nil {
		return Token{}, err
	}
	if t.Identity == "" {
		t.Identity = identity
	}
	return t, nil
}

func (s *RedisStore) Save(ctx context.Context, identity string, t Token) error {
	ttl := t.Remaining(s.clock())
	if ttl <= 0 {
		return fmt.Errorf("credential: refusing to store expired token for %s", identity)
	}
	if err := s.rdb.Set(ctx, s.key(identity), t.Raw, ttl).Err(); err != nil {
		return fmt.Errorf("credential: redis set: %w", err)
	}
	return nil
}
