package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduperAddRemove(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	added, err := d.Add(ctx, "user", "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatal("expected first add to succeed")
	}
	if !mr.Exists("user:sync:k1") {
		t.Fatal("expected key user:sync:k1 in redis")
	}
	if ttl := mr.TTL("user:sync:k1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	added, err = d.Add(ctx, "user", "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatal("expected duplicate add to report false")
	}

	// keys are scoped per user
	added, err = d.Add(ctx, "other", "k1")
	if err != nil || !added {
		t.Fatalf("expected other user's key to be independent, added=%v err=%v", added, err)
	}

	if err := d.Remove(ctx, "user", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = d.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("expected add after remove to succeed, added=%v err=%v", added, err)
	}
}

func TestRedisDeduperKeyExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()
	if _, err := d.Add(ctx, "user", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	added, err := d.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("expected key to expire, added=%v err=%v", added, err)
	}
}
