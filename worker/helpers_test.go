package worker_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/store/memory"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newItem(name, pool string, maxAttempts int) *item.Item {
	return &item.Item{
		Entity:         workpool.Entity{CreatedAt: base, UpdatedAt: base},
		ID:             id.NewItemID(),
		Name:           name,
		PoolKey:        pool,
		State:          item.StatePending,
		MaxAttempts:    maxAttempts,
		EnqueuedAt:     base,
		NextEligibleAt: base,
	}
}

// enqueueClaimed persists it and claims it for w.
func enqueueClaimed(t *testing.T, s *memory.Store, it *item.Item, w id.WorkerID, at time.Time) *item.Item {
	t.Helper()
	ctx := context.Background()
	if err := s.Enqueue(ctx, it); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := s.Transition(ctx, it.ID, item.StatePending, item.Change{
		To:          item.StateClaimed,
		At:          at,
		WorkerID:    w,
		IncAttempts: true,
		Heartbeat:   true,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return claimed
}

func mustGet(t *testing.T, s item.Store, itemID id.ItemID) *item.Item {
	t.Helper()
	it, err := s.Get(context.Background(), itemID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return it
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// recorder captures lifecycle events by hook name.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnItemClaimed(context.Context, *item.Item) error { r.add("claimed"); return nil }
func (r *recorder) OnItemStarted(context.Context, *item.Item) error { r.add("started"); return nil }
func (r *recorder) OnItemSucceeded(context.Context, *item.Item, time.Duration) error {
	r.add("succeeded")
	return nil
}
func (r *recorder) OnItemRetrying(context.Context, *item.Item, error, time.Time) error {
	r.add("retrying")
	return nil
}
func (r *recorder) OnItemFailed(context.Context, *item.Item, error) error {
	r.add("failed")
	return nil
}
func (r *recorder) OnItemCanceled(context.Context, *item.Item) error { r.add("canceled"); return nil }
func (r *recorder) OnItemReaped(context.Context, *item.Item) error   { r.add("reaped"); return nil }

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newExtensions() (*ext.Registry, *recorder) {
	rec := &recorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(rec)
	return reg, rec
}

func equalEvents(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
