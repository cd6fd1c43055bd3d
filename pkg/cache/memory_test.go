package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheRoundTripsLikeRedis(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	type payload struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	if err := mc.Set(ctx, "p", payload{"rsi", 71.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got payload
	if err := mc.Get(ctx, "p", &got); err != nil || got.Name != "rsi" || got.Value != 71.5 {
		t.Fatalf("unexpected get %+v, %v", got, err)
	}

	_ = mc.Set(ctx, "s", "plain", 0)
	var s string
	if err := mc.Get(ctx, "s", &s); err != nil || s != "plain" {
		t.Fatalf("unexpected string get %q, %v", s, err)
	}

	if err := mc.Get(ctx, "missing", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	_ = mc.Set(ctx, "k", "v", time.Second)
	now = now.Add(2 * time.Second)
	if ok, _ := mc.Exists(ctx, "k"); ok {
		t.Fatalf("expected key expired")
	}
}

func TestMemoryCacheLock(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	if ok, _ := mc.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatalf("expected first lock to succeed")
	}
	if ok, _ := mc.TryLock(ctx, "lock", time.Minute); ok {
		t.Fatalf("expected second lock to fail")
	}
	_ = mc.Unlock(ctx, "lock")
	if ok, _ := mc.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatalf("expected lock after unlock")
	}
}

func TestMemoryCacheUnlockRequiresOwner(t *testing.T) {
	a := NewMemoryCache(WithMemoryCleanup(0))
	defer a.Close()
	ctx := context.Background()

	if err := a.Unlock(ctx, "lock"); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld on free lock, got %v", err)
	}
	_ = a.Set(ctx, "lock", "someone-else", time.Minute)
	if err := a.Unlock(ctx, "lock"); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld on foreign lock, got %v", err)
	}
	if ok, _ := a.Exists(ctx, "lock"); !ok {
		t.Fatalf("expected foreign lock kept")
	}
}

func TestMemoryCacheLockExpires(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := mc.TryLock(ctx, "lock", 10*time.Minute); !ok {
		t.Fatalf("expected lock")
	}
	now = now.Add(10 * time.Minute)
	if ok, _ := mc.TryLock(ctx, "lock", 10*time.Minute); !ok {
		t.Fatalf("expected expired lock to be reacquired")
	}
}

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"stats", nil, "stats"},
		{"stats", []string{"BTCUSDT"}, "stats:BTCUSDT"},
		{"state", []string{"BTCUSDT", "ensemble"}, "state:BTCUSDT:ensemble"},
	}
	for _, tt := range tests {
		if got := GenerateKey(tt.prefix, tt.parts...); got != tt.want {
			t.Fatalf("GenerateKey(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { now = now.Add(time.Millisecond); return now }
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", 0)
	_ = mc.Set(ctx, "b", "2", 0)
	var s string
	_ = mc.Get(ctx, "a", &s)
	_ = mc.Set(ctx, "c", "3", 0)

	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Fatalf("expected b evicted")
	}
	if ok, _ := mc.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("expected a and c kept")
	}
}
