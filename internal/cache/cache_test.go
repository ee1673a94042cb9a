package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cardgift/cardgift/internal/logging"
)

type item struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMemoryExpiry(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemory().WithClock(clk.now)
	ctx := context.Background()

	if err := c.Set(ctx, "user_1", item{ID: "1"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	clk.t = clk.t.Add(time.Minute)
	var got item
	if ok, _ := c.Get(ctx, "user_1", &got); !ok || got.ID != "1" {
		t.Fatalf("entry must live for exactly its ttl, ok=%v got=%+v", ok, got)
	}

	clk.t = clk.t.Add(time.Millisecond)
	if ok, _ := c.Get(ctx, "user_1", &got); ok {
		t.Fatalf("expected entry to be expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on read")
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	orig := item{ID: "1", Tags: []string{"a"}}
	_ = c.Set(ctx, "k", orig, 0)
	orig.Tags[0] = "mutated"

	var got item
	if ok, err := c.Get(ctx, "k", &got); !ok || err != nil {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Tags[0] != "a" {
		t.Fatalf("cache exposed caller state: %+v", got)
	}
	got.Tags[0] = "again"
	var again item
	_, _ = c.Get(ctx, "k", &again)
	if again.Tags[0] != "a" {
		t.Fatalf("cache exposed its own state: %+v", again)
	}
}

func TestMemoryInvalidateAndSweep(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemory().WithClock(clk.now)
	ctx := context.Background()

	_ = c.Set(ctx, "user_1", 1, ListTTL)
	_ = c.Set(ctx, "user_cards_1", 1, ListTTL)
	_ = c.Set(ctx, "card_9", 1, DefaultTTL)

	_ = c.InvalidatePrefix(ctx, "user_")
	if c.Len() != 1 {
		t.Fatalf("expected prefix invalidation to leave one entry, got %d", c.Len())
	}

	_ = c.Set(ctx, "short", 1, time.Second)
	clk.t = clk.t.Add(2 * time.Second)
	n, err := c.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep removed %d (err %v), want 1", n, err)
	}
	_ = c.Invalidate(ctx, "card_9")
	if c.Len() != 0 {
		t.Fatalf("expected empty cache")
	}
}

func TestStartSweeperRunsFinalSweep(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemory().WithClock(clk.now)
	ctx, cancel := context.WithCancel(context.Background())
	_ = c.Set(ctx, "k", 1, time.Second)
	clk.t = clk.t.Add(time.Hour)

	done := StartSweeper(ctx, c, time.Hour, logging.Discard())
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
	if c.Len() != 0 {
		t.Fatalf("teardown sweep should drop expired entries")
	}
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedis(client)
	ctx := context.Background()

	if err := c.Set(ctx, "user_1", item{ID: "1"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = c.Set(ctx, "user_cards_1", []item{{ID: "c"}}, ListTTL)
	_ = c.Set(ctx, "card_1", item{ID: "c"}, 0)

	var got item
	if ok, err := c.Get(ctx, "user_1", &got); !ok || err != nil || got.ID != "1" {
		t.Fatalf("get: ok=%v err=%v got=%+v", ok, err, got)
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := c.Get(ctx, "user_1", &got); ok {
		t.Fatalf("expected redis ttl to expire entry")
	}

	if err := c.InvalidatePrefix(ctx, "user_"); err != nil {
		t.Fatalf("invalidate prefix: %v", err)
	}
	if mr.Exists(redisPrefix + "user_cards_1") {
		t.Fatalf("prefix invalidation missed a key")
	}
	if !mr.Exists(redisPrefix + "card_1") {
		t.Fatalf("prefix invalidation removed an unrelated key")
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected empty redis after clear, got %v", mr.Keys())
	}
}
