package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"roamgo/pkg/db"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	s := NewSQLiteStore(d)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	testCache(t, ctx, store)
	testState(t, ctx, store)
	testJSON(t, ctx, store)
	testStats(t, ctx, store)
}

func testCache(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("Cache", func(t *testing.T) {
		val := bytes.Repeat([]byte("places "), 200)
		if err := store.SetCache(ctx, KeyPlacesCache, val); err != nil {
			t.Fatalf("SetCache failed: %v", err)
		}

		got, ok := store.GetCache(ctx, KeyPlacesCache)
		if !ok {
			t.Fatal("GetCache missed")
		}
		if !bytes.Equal(got, val) {
			t.Error("GetCache returned different bytes after compression round trip")
		}

		has, err := store.HasCache(ctx, KeyPlacesCache)
		if err != nil || !has {
			t.Errorf("HasCache = %v, %v", has, err)
		}

		if _, ok := store.GetCache(ctx, "missing"); ok {
			t.Error("expected miss for unknown key")
		}

		_ = store.SetCache(ctx, "route_cache", []byte("r"))
		keys, err := store.ListCacheKeys(ctx, "route")
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 1 || keys[0] != "route_cache" {
			t.Errorf("ListCacheKeys = %v", keys)
		}

		if err := store.DeleteCache(ctx, "route_cache"); err != nil {
			t.Fatal(err)
		}
		if has, _ := store.HasCache(ctx, "route_cache"); has {
			t.Error("DeleteCache did not remove key")
		}
	})
}

func testState(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("State", func(t *testing.T) {
		if _, ok := store.GetState(ctx, KeyLastCleanup); ok {
			t.Error("expected no state before set")
		}
		if err := store.SetState(ctx, KeyLastCleanup, "1700000000"); err != nil {
			t.Fatal(err)
		}
		val, ok := store.GetState(ctx, KeyLastCleanup)
		if !ok || val != "1700000000" {
			t.Errorf("GetState = %q, %v", val, ok)
		}
		if err := store.DeleteState(ctx, KeyLastCleanup); err != nil {
			t.Fatal(err)
		}
		if _, ok := store.GetState(ctx, KeyLastCleanup); ok {
			t.Error("state should be gone after delete")
		}
	})
}

func testJSON(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("JSON", func(t *testing.T) {
		type rec struct {
			Date  string `json:"date"`
			Count int    `json:"count"`
		}
		if err := SetJSON(ctx, store, KeyAPIQuota, rec{Date: "2026-05-01", Count: 3}); err != nil {
			t.Fatal(err)
		}
		var got rec
		ok, err := GetJSON(ctx, store, KeyAPIQuota, &got)
		if err != nil || !ok {
			t.Fatalf("GetJSON = %v, %v", ok, err)
		}
		if got.Count != 3 || got.Date != "2026-05-01" {
			t.Errorf("GetJSON decoded %+v", got)
		}

		ok, err = GetJSON(ctx, store, "absent", &got)
		if ok || err != nil {
			t.Errorf("missing key should be (false, nil), got (%v, %v)", ok, err)
		}

		_ = store.SetCache(ctx, "corrupt", []byte("{not json"))
		if _, err := GetJSON(ctx, store, "corrupt", &got); err == nil {
			t.Error("expected decode error for corrupt blob")
		}
	})
}

func testStats(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("Stats", func(t *testing.T) {
		stats, err := store.CacheStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, st := range stats {
			if st.Key == KeyPlacesCache {
				found = true
				if st.Size <= 0 {
					t.Errorf("expected positive size, got %d", st.Size)
				}
				if st.UpdatedAt.IsZero() {
					t.Error("expected UpdatedAt to be parsed")
				}
			}
		}
		if !found {
			t.Errorf("stats missing %s: %+v", KeyPlacesCache, stats)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := SetJSON(ctx, m, KeyRouteCache, map[string]int{"a": 1}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	var got map[string]int
	if ok, err := GetJSON(ctx, m, KeyRouteCache, &got); !ok || err != nil || got["a"] != 1 {
		t.Fatalf("GetJSON = %v, %v, %v", got, ok, err)
	}

	m.FailWrites(context.DeadlineExceeded)
	if err := m.SetCache(ctx, "x", []byte("y")); err == nil {
		t.Error("expected injected write failure")
	}
	if err := m.SetState(ctx, "x", "y"); err == nil {
		t.Error("expected injected state write failure")
	}
	m.FailWrites(nil)

	if err := m.SetState(ctx, KeyLastCleanup, "now"); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if v, ok := m.GetState(ctx, KeyLastCleanup); !ok || v != "now" {
		t.Errorf("GetState = %q, %v", v, ok)
	}

	keys, _ := m.ListCacheKeys(ctx, "route")
	if len(keys) != 1 || keys[0] != KeyRouteCache {
		t.Errorf("ListCacheKeys = %v", keys)
	}
}
