package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bairrosgo/pkg/db"
	"bairrosgo/pkg/store"
)

func TestMaintenance(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d, 8)
	ctx := context.Background()

	if _, ok := LastRun(ctx, s); ok {
		t.Error("LastRun should be unset on a fresh database")
	}

	oldDeadline := db.Timestamp(time.Now().Add(-40 * 24 * time.Hour))
	newDeadline := db.Timestamp(time.Now().Add(-1 * 24 * time.Hour))
	for key, ts := range map[string]string{"old-key": oldDeadline, "new-key": newDeadline} {
		if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?)", key, "val", ts); err != nil {
			t.Fatal(err)
		}
		if _, err := d.Exec("INSERT INTO queries (id, lat, lon, created_at) VALUES (?, 0, 0, ?)", key, ts); err != nil {
			t.Fatal(err)
		}
	}

	if err := Run(ctx, s, d, Options{CacheTTL: 30 * 24 * time.Hour}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	count := func(table, key string) int {
		var n int
		if err := d.QueryRow("SELECT count(*) FROM "+table+" WHERE "+map[string]string{"cache": "key", "queries": "id"}[table]+" = ?", key).Scan(&n); err != nil {
			t.Fatalf("Failed to query %s count: %v", table, err)
		}
		return n
	}

	if count("cache", "old-key") != 0 {
		t.Error("Old cache entry was not pruned")
	}
	if count("cache", "new-key") != 1 {
		t.Error("New cache entry was incorrectly pruned")
	}
	if count("queries", "old-key") != 1 {
		t.Error("History must be kept when retention is disabled")
	}

	if err := Run(ctx, s, d, Options{HistoryRetention: 7 * 24 * time.Hour}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if count("queries", "old-key") != 0 || count("queries", "new-key") != 1 {
		t.Error("History retention not applied")
	}

	last, ok := LastRun(ctx, s)
	if !ok || time.Since(last) > time.Minute {
		t.Errorf("LastRun not recorded, got %v %v", last, ok)
	}
}
