package store

import (
	"context"
	"time"
)

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	// GetFreshCache ignores entries older than maxAge; maxAge 0 accepts any age.
	GetFreshCache(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// Query is one resolved point.
type Query struct {
	ID        string    `json:"id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Name      string    `json:"name,omitempty"`
	Found     bool      `json:"found"`
	Cell      string    `json:"cell,omitempty"`
	Dataset   string    `json:"dataset,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HeatCell aggregates queries falling in one H3 cell.
type HeatCell struct {
	Cell  string  `json:"cell"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Count int     `json:"count"`
	Found int     `json:"found"`
}

// NeighborhoodCount is the number of queries resolved to one neighborhood.
type NeighborhoodCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// QueryStore persists query history.
type QueryStore interface {
	RecordQuery(ctx context.Context, q *Query) error
	RecentQueries(ctx context.Context, limit int) ([]Query, error)
	Heatmap(ctx context.Context, resolution int, since time.Time) ([]HeatCell, error)
	NeighborhoodCounts(ctx context.Context, limit int) ([]NeighborhoodCount, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
