package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"roamgo/pkg/db"
)

func TestDB(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if d == nil {
		t.Fatal("Init() returned nil DB")
	}
	d.Close()

	// Re-opening runs migrations again without error
	d, err = db.Init(path)
	if err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	d.Close()
}

func TestPruneCache(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "prune.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	old := time.Now().Add(-40 * 24 * time.Hour).UTC().Format(db.TimeFormat)
	recent := time.Now().Add(-1 * time.Hour).UTC().Format(db.TimeFormat)
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?)", "old-key", "v", old); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?)", "new-key", "v", recent); err != nil {
		t.Fatal(err)
	}

	n, err := d.PruneCache(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneCache failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}

	var count int
	if err := d.QueryRow("SELECT count(*) FROM cache WHERE key = 'new-key'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("recent entry should survive pruning")
	}
}
