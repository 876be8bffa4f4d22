package credential

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"agent-softphone/pkg/utils"
)

func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStore(rdb)
	s.prefix = "softphone:test:" + t.Name() + ":"

	now := time.Now()
	raw := tokenFor(t, "", now, now.Add(time.Hour))
	tok, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.Save(ctx, "agent_42", tok); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, "agent_42")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Raw != raw || got.Identity != "agent_42" {
		t.Fatalf("unexpected token %+v", got)
	}
	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStore_RefusesExpiredToken(t *testing.T) {
	s := &RedisStore{clock: time.Now}
	err := s.Save(context.Background(), "agent_42", Token{Raw: "x", ExpiresAt: time.Now().Add(-time.Second)})
	if err == nil {
		t.Fatalf("expected error for expired token")
	}
}
