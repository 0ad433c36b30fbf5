package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisKeyPrefix(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "btcwatch:")
	defer r.Close()
	if got := r.key("alarms"); got != "btcwatch:alarms" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestRedisUnreachableIsAStorageFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedis(client, "t:")
	defer r.Close()

	ctx := context.Background()
	if _, err := r.Get(ctx, "k"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected connection failure, got %v", err)
	}
	called := false
	err := r.Update(ctx, "k", func([]byte, bool) ([]byte, error) {
		called = true
		return []byte("v"), nil
	})
	if err == nil || called {
		t.Fatalf("update should fail before calling fn: err=%v called=%v", err, called)
	}
}
