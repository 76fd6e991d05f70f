package utils

import (
	"context"
	"errors"
	"testing"
)

func TestWrapStore(t *testing.T) {
	err := WrapStore("postgres", "query", "example.com", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped error to match deadline")
	}
	if got := err.Error(); got != "postgres query example.com: context deadline exceeded" {
		t.Fatalf("unexpected message: %s", got)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Backend != "postgres" {
		t.Fatalf("expected StoreError, got %#v", err)
	}
	if WrapStore("sqlite", "append", "", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	if got := WrapStore("sqlite", "append", "", errors.New("locked")).Error(); got != "sqlite append: locked" {
		t.Fatalf("unexpected message without target: %s", got)
	}
}
