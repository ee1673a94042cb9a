package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestConstructorsRequireURL(t *testing.T) {
	ctx := context.Background()
	if _, err := NewPostgresPool(ctx, ""); err == nil {
		t.Fatalf("expected error for empty postgres url")
	}
	if _, err := NewRedisClient(ctx, ""); err == nil {
		t.Fatalf("expected error for empty redis url")
	}
	if _, err := NewMongoClient(ctx, ""); err == nil {
		t.Fatalf("expected error for empty mongo url")
	}
}

func TestNewRedisClientPings(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := NewRedisClient(context.Background(), "::not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}
