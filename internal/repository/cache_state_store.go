package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	"SignalLoop/pkg/cache"
)

// CacheStateStore keeps state slots in a pkg/cache service (Redis or memory).
type CacheStateStore struct {
	cache  cache.Service
	prefix string
	ttl    time.Duration
}

// NewCacheStateStore creates a state store. A zero ttl keeps slots for the cache default.
func NewCacheStateStore(c cache.Service, prefix string, ttl time.Duration) *CacheStateStore {
	if prefix == "" {
		prefix = "state"
	}
	return &CacheStateStore{cache: c, prefix: prefix, ttl: ttl}
}

func (s *CacheStateStore) Save(ctx context.Context, slot string, data []byte) error {
	if err := s.cache.Set(ctx, cache.GenerateKey(s.prefix, slot), string(data), s.ttl); err != nil {
		return fmt.Errorf("save slot %s: %w", slot, err)
	}
	return nil
}

func (s *CacheStateStore) Load(ctx context.Context, slot string) ([]byte, error) {
	var raw string
	if err := s.cache.Get(ctx, cache.GenerateKey(s.prefix, slot), &raw); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("load slot %s: %w", slot, models.ErrStateNotFound)
		}
		return nil, fmt.Errorf("load slot %s: %w", slot, err)
	}
	return []byte(raw), nil
}

var _ drepo.StateStore = (*CacheStateStore)(nil)
