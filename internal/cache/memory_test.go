package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderSetNX(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()

	ok, err := c.SetNX(ctx, "decision:a", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = c.SetNX(ctx, "decision:a", []byte("2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second SetNX to be refused, ok=%v err=%v", ok, err)
	}
	data, err := c.Get(ctx, "decision:a")
	if err != nil || string(data) != "1" {
		t.Fatalf("expected original value, got %q err=%v", data, err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryProvider()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after expiry, got %v", err)
	}
	ok, _ := c.SetNX(ctx, "k", []byte("v2"), 0)
	if !ok {
		t.Fatalf("expected SetNX to succeed once the key expired")
	}
}

func TestMemoryProviderDel(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()
	_ = c.Set(ctx, "k", []byte("v"), 0)
	_ = c.Del(ctx, "k")
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}
