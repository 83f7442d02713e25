package memory

import (
	"context"
	"errors"
	"sort"
	"testing"

	"quizzer-backend/internal/shared/storage/kv"
)

func TestSetGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(0)

	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get = %q, want v1", got)
	}

	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "k")
	if string(got) != "v2" {
		t.Fatalf("overwrite not applied, got %q", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	if err := New(0).Delete(context.Background(), "ghost"); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	if err := s.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, _ := s.Get(ctx, "k")
	got[0] = 'X'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("mutating a returned value leaked into the store: %q", again)
	}
}

func TestByteBudgetEnforced(t *testing.T) {
	ctx := context.Background()
	s := New(10)

	if err := s.Set(ctx, "a", []byte("12345")); err != nil {
		t.Fatalf("within budget: %v", err)
	}
	if err := s.Set(ctx, "b", []byte("123456789")); !errors.Is(err, kv.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// Replacing an existing key counts the replacement, not both values.
	if err := s.Set(ctx, "a", []byte("123456789")); err != nil {
		t.Fatalf("replace within budget: %v", err)
	}
}

func TestKeysListsEverything(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	for _, k := range []string{"one", "two", "three"} {
		if err := s.Set(ctx, k, []byte("v")); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	want := []string{"one", "three", "two"}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys = %v, want %v", keys, want)
		}
	}
}

func TestCanceledContextRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(0)
	if err := s.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected context error on Set")
	}
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Fatalf("expected context error on Get")
	}
}
