package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedTokenStore adds read-aside caching to any push.TokenStore.
type CachedTokenStore struct {
	realStore push.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

var _ push.TokenStore = (*CachedTokenStore)(nil)

func NewCachedTokenStore(realStore push.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

func (s *CachedTokenStore) FetchTokens(ctx context.Context, owner urn.URN) ([]push.TokenRecord, error) {
	key := s.cacheKey(owner)

	var cached []push.TokenRecord
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.FetchTokens(ctx, owner)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a Redis failure still serves from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// Writes go to the source of truth first, then drop the cached copy so the
// probe never addresses a token that was just revoked.

func (s *CachedTokenStore) PutToken(ctx context.Context, owner urn.URN, rec push.TokenRecord) error {
	if err := s.realStore.PutToken(ctx, owner, rec); err != nil {
		return err
	}
	return s.invalidate(ctx, owner)
}

func (s *CachedTokenStore) RevokeToken(ctx context.Context, owner urn.URN, channel push.Channel, reason string) error {
	if err := s.realStore.RevokeToken(ctx, owner, channel, reason); err != nil {
		return err
	}
	return s.invalidate(ctx, owner)
}

func (s *CachedTokenStore) MarkUnavailable(ctx context.Context, owner urn.URN, channel push.Channel, reason string) error {
	if err := s.realStore.MarkUnavailable(ctx, owner, channel, reason); err != nil {
		return err
	}
	return s.invalidate(ctx, owner)
}

func (s *CachedTokenStore) invalidate(ctx context.Context, owner urn.URN) error {
	return s.cache.Del(ctx, s.cacheKey(owner))
}

func (s *CachedTokenStore) cacheKey(owner urn.URN) string {
	return fmt.Sprintf("push:tokens:%s", owner.String())
}
