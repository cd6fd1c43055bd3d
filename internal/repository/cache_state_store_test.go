package repository

import (
	"context"
	"errors"
	"testing"

	"SignalLoop/internal/domain/models"
	"SignalLoop/pkg/cache"
)

func TestCacheStateStore(t *testing.T) {
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer mc.Close()
	store := NewCacheStateStore(mc, "state", 0)
	ctx := context.Background()

	if _, err := store.Load(ctx, "ensemble"); !errors.Is(err, models.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
	want := []byte(`{"weights":{"a":1}}`)
	if err := store.Save(ctx, "ensemble", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, "ensemble")
	if err != nil || string(got) != string(want) {
		t.Fatalf("unexpected load %q, %v", got, err)
	}
	_ = store.Save(ctx, "ensemble", []byte(`{}`))
	if got, _ := store.Load(ctx, "ensemble"); string(got) != `{}` {
		t.Fatalf("expected slot overwritten, got %q", got)
	}
}
