package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"bairrosgo/pkg/db"
)

func TestDB(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "nested", "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if d == nil {
		t.Fatal("Init() returned nil DB")
	}
	defer d.Close()

	if err := d.Check(context.Background()); err != nil {
		t.Errorf("Check() failed: %v", err)
	}

	// Re-running migrations on an existing file must be a no-op.
	d.Close()
	d, err = db.Init(path)
	if err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	defer d.Close()
	var cols []string
	rows, err := d.Query("SELECT name FROM pragma_table_info('queries') ORDER BY cid")
	if err != nil {
		t.Fatalf("table_info failed: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			t.Fatal(err)
		}
		cols = append(cols, c)
	}
	want := []string{"id", "lat", "lon", "name", "found", "cell", "dataset", "created_at"}
	if diff := cmp.Diff(want, cols); diff != "" {
		t.Errorf("queries columns mismatch (-want +got):\n%s", diff)
	}
}

func TestPrune(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "prune.db"))
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	old := db.Timestamp(time.Now().Add(-40 * 24 * time.Hour))
	fresh := db.Timestamp(time.Now().Add(-1 * time.Hour))
	for key, ts := range map[string]string{"old": old, "new": fresh} {
		if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?)", key, []byte("v"), ts); err != nil {
			t.Fatal(err)
		}
		if _, err := d.Exec("INSERT INTO queries (id, lat, lon, created_at) VALUES (?, 0, 0, ?)", key, ts); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.PruneCache(30 * 24 * time.Hour)
	if err != nil || n != 1 {
		t.Errorf("PruneCache() = %d, %v; want 1, nil", n, err)
	}
	n, err = d.PruneQueries(30 * 24 * time.Hour)
	if err != nil || n != 1 {
		t.Errorf("PruneQueries() = %d, %v; want 1, nil", n, err)
	}

	var left int
	if err := d.QueryRow("SELECT count(*) FROM cache WHERE key = 'new'").Scan(&left); err != nil || left != 1 {
		t.Errorf("fresh cache entry should survive, got %d (%v)", left, err)
	}
}
