package cache

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := NewSQLiteStore(path, "features")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "way/1", []byte(`{"score":88}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, "way/1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"score":88}` {
		t.Errorf("Get = %s", got)
	}

	if _, ok, _ := store.Get(ctx, "way/2"); ok {
		t.Error("Get on absent key reported a hit")
	}
}

func TestSQLiteStoreReplaceOnConflict(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	store.Put(ctx, "way/1", []byte("old"))
	if err := store.Put(ctx, "way/1", []byte("new")); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, _, _ := store.Get(ctx, "way/1")
	if string(got) != "new" {
		t.Errorf("Get after replace = %s, want new", got)
	}
}

func TestSQLiteStoreGetAll(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	store.Put(ctx, "way/1", []byte("a"))
	store.Put(ctx, "node/2", []byte("b"))

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 || string(all["way/1"]) != "a" || string(all["node/2"]) != "b" {
		t.Errorf("GetAll = %v", all)
	}
}

func TestSQLiteStoreClear(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	store.Put(ctx, "way/1", []byte("a"))
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	all, _ := store.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("GetAll after Clear = %v", all)
	}
}

func TestSQLiteStoreClosed(t *testing.T) {
	store := newTestSQLiteStore(t)
	store.Close()

	if _, _, err := store.Get(context.Background(), "x"); err != ErrClosed {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if err := store.Put(context.Background(), "x", nil); err != ErrClosed {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
}

func TestSQLiteStoreRejectsBadNamespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	if _, err := NewSQLiteStore(path, "drop table;--"); err == nil {
		t.Error("NewSQLiteStore accepted an unsafe namespace")
	}
}

func TestSQLiteStoreNamespaceIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	features, err := NewSQLiteStore(path, "features")
	if err != nil {
		t.Fatalf("NewSQLiteStore(features): %v", err)
	}
	defer features.Close()
	predictions, err := NewSQLiteStore(path, "predictions")
	if err != nil {
		t.Fatalf("NewSQLiteStore(predictions): %v", err)
	}
	defer predictions.Close()

	ctx := context.Background()
	features.Put(ctx, "way/1", []byte("f"))

	if _, ok, _ := predictions.Get(ctx, "way/1"); ok {
		t.Error("namespaces leaked into each other")
	}
}
