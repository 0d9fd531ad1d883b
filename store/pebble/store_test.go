package pebblestore_test

import (
	"context"
	"testing"

	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/store"
	pebblestore "github.com/xraph/workpool/store/pebble"
	"github.com/xraph/workpool/store/storetest"
)

func open(t *testing.T, dir string) *pebblestore.Store {
	t.Helper()
	s, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return open(t, t.TempDir()) })
}

func TestOpen_RequiresDataDir(t *testing.T) {
	if _, err := pebblestore.Open(pebblestore.Options{}); err == nil {
		t.Fatal("expected error without DataDir")
	}
}

func TestReopenKeepsItemsAndIndexes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	it := storetest.NewItem("durable")
	if err := s.Enqueue(ctx, it); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s = open(t, dir)
	defer s.Close()

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.State != item.StatePending || got.PoolKey != "durable" {
		t.Errorf("after reopen: %+v", got)
	}

	eligible, err := s.ListEligible(ctx, "durable", it.NextEligibleAt, 0)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != it.ID {
		t.Errorf("dispatch index lost on reopen: %d items", len(eligible))
	}
}

func TestPoolPrefixesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := open(t, t.TempDir())
	defer s.Close()

	a := storetest.NewItem("p")
	b := storetest.NewItem("p/x")
	for _, it := range []*item.Item{a, b} {
		if err := s.Enqueue(ctx, it); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	got, err := s.ListEligible(ctx, "p", a.NextEligibleAt, 0)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("pool %q saw %d items", "p", len(got))
	}
}

func TestListEligible_IgnoresPoolSharingSeparatorPrefix(t *testing.T) {
	ctx := context.Background()
	s := open(t, t.TempDir())
	defer s.Close()

	a := storetest.NewItem("p")
	b := storetest.NewItem("p\x00x")
	for _, it := range []*item.Item{a, b} {
		if err := s.Enqueue(ctx, it); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	got, err := s.ListEligible(ctx, "p", b.NextEligibleAt, 0)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("pool %q saw %d items, want only its own", "p", len(got))
	}

	got, err = s.ListEligible(ctx, "p\x00x", b.NextEligibleAt, 0)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("pool %q saw %d items, want only its own", "p\x00x", len(got))
	}
}
