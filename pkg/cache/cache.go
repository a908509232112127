package cache

import (
	"context"
	"time"

	"bairrosgo/pkg/store"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// SQLiteCache implements Cacher on the store's cache table with an expiry.
type SQLiteCache struct {
	store store.CacheStore
	ttl   time.Duration
}

// NewSQLiteCache creates a cache whose entries expire after ttl (0 keeps them forever).
func NewSQLiteCache(s store.CacheStore, ttl time.Duration) *SQLiteCache {
	return &SQLiteCache{store: s, ttl: ttl}
}

func (c *SQLiteCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	return c.store.GetFreshCache(ctx, key, c.ttl)
}

func (c *SQLiteCache) SetCache(ctx context.Context, key string, val []byte) error {
	return c.store.SetCache(ctx, key, val)
}

// Nop never hits and drops writes. Used by one-off commands that must not touch the database.
type Nop struct{}

func (Nop) GetCache(context.Context, string) ([]byte, bool) { return nil, false }

func (Nop) SetCache(context.Context, string, []byte) error { return nil }
