package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/workpool/store"
	"github.com/xraph/workpool/store/sqlite"
	"github.com/xraph/workpool/store/storetest"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open("file:" + path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openStore(t, filepath.Join(t.TempDir(), "workpool.db"))
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "workpool.db"))
	defer s.Close()

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestReopenKeepsItems(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workpool.db")

	s := openStore(t, path)
	it := storetest.NewItem("reopen")
	if err := s.Enqueue(ctx, it); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = openStore(t, path)
	defer s.Close()

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Name != it.Name || got.PoolKey != it.PoolKey {
		t.Fatalf("got %+v, want %+v", got, it)
	}
	if !got.EnqueuedAt.Equal(it.EnqueuedAt) {
		t.Fatalf("EnqueuedAt = %v, want %v", got.EnqueuedAt, it.EnqueuedAt)
	}
}
