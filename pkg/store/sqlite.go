package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uber/h3-go/v4"

	"bairrosgo/pkg/db"
)

// DefaultH3Resolution is used when the store is created without an explicit resolution.
const DefaultH3Resolution = 8

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	CacheStore
	QueryStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db    *db.DB
	h3Res int
}

// NewSQLiteStore creates a new store. resolution is the H3 resolution stored with each query.
func NewSQLiteStore(d *db.DB, resolution int) *SQLiteStore {
	if resolution < 0 || resolution > 15 {
		resolution = DefaultH3Resolution
	}
	return &SQLiteStore{db: d, h3Res: resolution}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Cache ---

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	return s.GetFreshCache(ctx, key, 0)
}

func (s *SQLiteStore) GetFreshCache(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool) {
	var val []byte
	var err error
	if maxAge > 0 {
		since := db.Timestamp(time.Now().Add(-maxAge))
		err = s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ? AND created_at >= ?", key, since).Scan(&val)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val)
	}
	if err != nil {
		// sql.ErrNoRows and read errors are both misses
		return nil, false
	}

	// Transparent decompression
	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		if decompressed, err := decompress(val); err == nil {
			return decompressed, true
		}
	}
	return val, true
}

// --- Compression Pooling ---

var (
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// buf goes back to the pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *SQLiteStore) HasCache(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM cache WHERE key = ?", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetCache stores val gzip-compressed unless it already is (zip archives compress poorly).
func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	if !isCompressed(val) {
		if compressed, err := compress(val); err == nil {
			val = compressed
		}
	}
	query := `INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, db.Timestamp(time.Now()))
	return err
}

func isCompressed(b []byte) bool {
	return len(b) > 3 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func (s *SQLiteStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Queries ---

// RecordQuery stores a query, filling in the ID, H3 cell and timestamp when unset.
func (s *SQLiteStore) RecordQuery(ctx context.Context, q *Query) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	if q.Cell == "" {
		cell, err := h3.LatLngToCell(h3.NewLatLng(q.Lat, q.Lon), s.h3Res)
		if err != nil {
			return fmt.Errorf("failed to index query: %w", err)
		}
		q.Cell = cell.String()
	}

	query := `INSERT INTO queries (id, lat, lon, name, found, cell, dataset, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, q.ID, q.Lat, q.Lon, q.Name, q.Found, q.Cell, q.Dataset, db.Timestamp(q.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// RecentQueries returns the newest queries first.
func (s *SQLiteStore) RecentQueries(ctx context.Context, limit int) ([]Query, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, lat, lon, COALESCE(name, ''), found, COALESCE(cell, ''), COALESCE(dataset, ''), created_at
		FROM queries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Query
	for rows.Next() {
		var q Query
		var created string
		if err := rows.Scan(&q.ID, &q.Lat, &q.Lon, &q.Name, &q.Found, &q.Cell, &q.Dataset, &created); err != nil {
			return nil, err
		}
		q.CreatedAt, _ = time.ParseInLocation(db.TimeFormat, created, time.UTC)
		out = append(out, q)
	}
	return out, rows.Err()
}

// Heatmap aggregates queries since the given time into H3 cells at the requested resolution.
// Cells are ordered by count, busiest first.
func (s *SQLiteStore) Heatmap(ctx context.Context, resolution int, since time.Time) ([]HeatCell, error) {
	if resolution < 0 || resolution > 15 {
		return nil, fmt.Errorf("invalid h3 resolution %d", resolution)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT lat, lon, found FROM queries WHERE created_at >= ?", db.Timestamp(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cells := make(map[h3.Cell]*HeatCell)
	for rows.Next() {
		var lat, lon float64
		var found bool
		if err := rows.Scan(&lat, &lon, &found); err != nil {
			return nil, err
		}
		cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution)
		if err != nil {
			continue
		}
		hc, ok := cells[cell]
		if !ok {
			hc = &HeatCell{Cell: cell.String()}
			if center, err := h3.CellToLatLng(cell); err == nil {
				hc.Lat, hc.Lon = center.Lat, center.Lng
			}
			cells[cell] = hc
		}
		hc.Count++
		if found {
			hc.Found++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]HeatCell, 0, len(cells))
	for _, hc := range cells {
		out = append(out, *hc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Cell < out[j].Cell
	})
	return out, nil
}

// NeighborhoodCounts returns how often each neighborhood was the answer, most frequent first.
func (s *SQLiteStore) NeighborhoodCounts(ctx context.Context, limit int) ([]NeighborhoodCount, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, count(*) AS n FROM queries
		WHERE found = 1 GROUP BY name ORDER BY n DESC, name ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NeighborhoodCount
	for rows.Next() {
		var nc NeighborhoodCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, db.Timestamp(time.Now()))
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
