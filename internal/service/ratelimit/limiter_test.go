package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("expected burst of two")
	}
	if l.Allow("a") {
		t.Fatalf("expected third call rejected")
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}
	now = now.Add(1500 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatalf("expected refill after 1.5s")
	}
	if l.Allow("a") {
		t.Fatalf("expected only one token refilled")
	}
}
