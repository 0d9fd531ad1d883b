// Package storetest is the conformance suite for store.Store backends.
// Each backend's tests call [Run] with a factory returning a fresh, empty,
// migrated store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueGet", testEnqueueGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"GetNotFound", testGetNotFound},
		{"Lifecycle", testLifecycle},
		{"TransitionConflict", testTransitionConflict},
		{"ActiveLimit", testActiveLimit},
		{"ConcurrentClaims", testConcurrentClaims},
		{"ListEligibleOrder", testListEligibleOrder},
		{"ListEligibleFilters", testListEligibleFilters},
		{"RetryTransition", testRetryTransition},
		{"RequestCancel", testRequestCancel},
		{"CancelRequestedDiscardsOutcome", testCancelRequestedDiscardsOutcome},
		{"Heartbeat", testHeartbeat},
		{"ListStale", testListStale},
		{"ListCountDelete", testListCountDelete},
		{"PurgeTerminal", testPurgeTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// base is millisecond-aligned so every backend round-trips it exactly.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewItem returns a pending item in poolKey, eligible at base.
func NewItem(poolKey string) *item.Item {
	return &item.Item{
		Entity:         workpool.Entity{CreatedAt: base, UpdatedAt: base},
		ID:             id.NewItemID(),
		Name:           "resize",
		Payload:        []byte(`{"w":64}`),
		PoolKey:        poolKey,
		State:          item.StatePending,
		MaxAttempts:    3,
		EnqueuedAt:     base,
		NextEligibleAt: base,
	}
}

func mustEnqueue(t *testing.T, s store.Store, it *item.Item) {
	t.Helper()
	if err := s.Enqueue(context.Background(), it); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func claim(s store.Store, it *item.Item, w id.WorkerID, limit int) (*item.Item, error) {
	return s.Transition(context.Background(), it.ID, item.StatePending, item.Change{
		To:          item.StateClaimed,
		At:          base,
		WorkerID:    w,
		IncAttempts: true,
		Heartbeat:   true,
		ActiveLimit: limit,
	})
}

func mustClaim(t *testing.T, s store.Store, it *item.Item, w id.WorkerID) *item.Item {
	t.Helper()
	got, err := claim(s, it, w, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return got
}

func mustStart(t *testing.T, s store.Store, it *item.Item, w id.WorkerID) *item.Item {
	t.Helper()
	mustClaim(t, s, it, w)
	got, err := s.Transition(context.Background(), it.ID, item.StateClaimed, item.Change{
		To: item.StateRunning, At: base, Owner: w, Heartbeat: true,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return got
}

func testEnqueueGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	it := NewItem("images")
	it.Priority = -2
	mustEnqueue(t, s, it)

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != it.ID || got.Name != it.Name || got.PoolKey != it.PoolKey {
		t.Errorf("identity mismatch: %+v", got)
	}
	if string(got.Payload) != string(it.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, it.Payload)
	}
	if got.State != item.StatePending || got.Priority != -2 || got.MaxAttempts != 3 || got.Attempts != 0 {
		t.Errorf("fields mismatch: %+v", got)
	}
	if !got.EnqueuedAt.Equal(base) || !got.NextEligibleAt.Equal(base) {
		t.Errorf("times mismatch: enqueued=%v eligible=%v", got.EnqueuedAt, got.NextEligibleAt)
	}
	if got.HeartbeatAt != nil || got.CompletedAt != nil || !got.WorkerID.IsNil() {
		t.Errorf("unexpected claim fields on pending item: %+v", got)
	}
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	it := NewItem("images")
	mustEnqueue(t, s, it)
	err := s.Enqueue(context.Background(), it)
	if !errors.Is(err, workpool.ErrItemAlreadyExists) {
		t.Fatalf("expected ErrItemAlreadyExists, got %v", err)
	}
}

func testGetNotFound(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), id.NewItemID())
	if !errors.Is(err, workpool.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	_, err = s.Transition(context.Background(), id.NewItemID(), item.StatePending, item.Change{To: item.StateClaimed})
	if !errors.Is(err, workpool.ErrItemNotFound) {
		t.Fatalf("Transition: expected ErrItemNotFound, got %v", err)
	}
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	it := NewItem("images")
	mustEnqueue(t, s, it)

	claimed := mustClaim(t, s, it, w)
	if claimed.State != item.StateClaimed || claimed.Attempts != 1 || claimed.WorkerID != w {
		t.Fatalf("after claim: %+v", claimed)
	}
	if claimed.HeartbeatAt == nil || !claimed.HeartbeatAt.Equal(base) {
		t.Errorf("HeartbeatAt = %v, want %v", claimed.HeartbeatAt, base)
	}

	if _, err := s.Transition(ctx, it.ID, item.StateClaimed, item.Change{To: item.StateRunning, At: base, Owner: w, Heartbeat: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := base.Add(time.Second)
	got, err := s.Transition(ctx, it.ID, item.StateRunning, item.Change{
		To: item.StateSucceeded, At: done, Owner: w, Result: []byte(`{"thumb":"x"}`),
	})
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if got.State != item.StateSucceeded || string(got.Result) != `{"thumb":"x"}` || got.Error != "" {
		t.Errorf("after success: %+v", got)
	}

	stored, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.State != item.StateSucceeded || string(stored.Result) != `{"thumb":"x"}` {
		t.Errorf("stored: state=%s result=%q", stored.State, stored.Result)
	}
	if stored.CompletedAt == nil || !stored.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", stored.CompletedAt, done)
	}
	if stored.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", stored.Attempts)
	}
}

func testTransitionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	it := NewItem("images")
	mustEnqueue(t, s, it)

	_, err := s.Transition(ctx, it.ID, item.StateRunning, item.Change{To: item.StateSucceeded})
	if !errors.Is(err, workpool.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mustClaim(t, s, it, w)
	if _, err := claim(s, it, id.NewWorkerID(), 0); !errors.Is(err, workpool.ErrConflict) {
		t.Fatalf("double claim: expected ErrConflict, got %v", err)
	}

	_, err = s.Transition(ctx, it.ID, item.StateClaimed, item.Change{To: item.StateRunning, Owner: id.NewWorkerID()})
	if !errors.Is(err, workpool.ErrConflict) {
		t.Fatalf("foreign owner: expected ErrConflict, got %v", err)
	}

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != item.StateClaimed || got.Attempts != 1 || got.WorkerID != w {
		t.Errorf("item changed by failed transitions: %+v", got)
	}
}

func testActiveLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()

	var items []*item.Item
	for range 3 {
		it := NewItem("email")
		mustEnqueue(t, s, it)
		items = append(items, it)
	}
	other := NewItem("reports")
	mustEnqueue(t, s, other)

	for _, it := range items[:2] {
		if _, err := claim(s, it, w, 2); err != nil {
			t.Fatalf("claim under limit: %v", err)
		}
	}
	if _, err := claim(s, items[2], w, 2); !errors.Is(err, workpool.ErrPoolSaturated) {
		t.Fatalf("expected ErrPoolSaturated, got %v", err)
	}
	if _, err := claim(s, other, w, 2); err != nil {
		t.Fatalf("other pool should be unaffected: %v", err)
	}

	n, err := s.CountActive(ctx, "email")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if n != 2 {
		t.Errorf("CountActive(email) = %d, want 2", n)
	}

	// Freeing a slot makes room again.
	if _, err := s.Transition(ctx, items[0].ID, item.StateClaimed, item.Change{To: item.StateCanceled}); err != nil {
		t.Fatalf("cancel claimed: %v", err)
	}
	if _, err := claim(s, items[2], w, 2); err != nil {
		t.Fatalf("claim after slot freed: %v", err)
	}
	got, err := s.Get(ctx, items[2].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("saturated claim must not count an attempt; Attempts = %d", got.Attempts)
	}
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	const (
		items   = 10
		workers = 8
		limit   = 3
	)
	var all []*item.Item
	for range items {
		it := NewItem("batch")
		mustEnqueue(t, s, it)
		all = append(all, it)
	}

	var (
		mu     sync.Mutex
		won    int
		wg     sync.WaitGroup
		failed []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := id.NewWorkerID()
			for _, it := range all {
				_, err := claim(s, it, w, limit)
				mu.Lock()
				switch {
				case err == nil:
					won++
				case errors.Is(err, workpool.ErrConflict), errors.Is(err, workpool.ErrPoolSaturated):
				default:
					failed = append(failed, err)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, err := range failed {
		t.Errorf("unexpected claim error: %v", err)
	}
	if won != limit {
		t.Errorf("successful claims = %d, want exactly %d", won, limit)
	}
	n, err := s.CountActive(context.Background(), "batch")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if n != limit {
		t.Errorf("CountActive = %d, want %d", n, limit)
	}
}

func testListEligibleOrder(t *testing.T, s store.Store) {
	ctx := context.Background()

	low := NewItem("p")
	low.Priority = 5
	first := NewItem("p")
	first.EnqueuedAt = base.Add(-2 * time.Millisecond)
	second := NewItem("p")
	second.EnqueuedAt = base.Add(-time.Millisecond)
	urgent := NewItem("p")
	urgent.Priority = -1
	tieA := NewItem("p")
	tieB := NewItem("p")

	// Enqueue out of order so only the sort key decides.
	for _, it := range []*item.Item{tieB, low, second, urgent, tieA, first} {
		mustEnqueue(t, s, it)
	}

	got, err := s.ListEligible(ctx, "p", base, 0)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	want := []*item.Item{urgent, first, second, tieA, tieB, low}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want[i].ID)
		}
	}

	limited, err := s.ListEligible(ctx, "p", base, 2)
	if err != nil {
		t.Fatalf("ListEligible(limit): %v", err)
	}
	if len(limited) != 2 || limited[0].ID != urgent.ID {
		t.Errorf("limit 2 returned %d items", len(limited))
	}
}

func testListEligibleFilters(t *testing.T, s store.Store) {
	ctx := context.Background()

	ready := NewItem("p")
	later := NewItem("p")
	later.NextEligibleAt = base.Add(time.Minute)
	elsewhere := NewItem("q")
	claimed := NewItem("p")
	for _, it := range []*item.Item{ready, later, elsewhere, claimed} {
		mustEnqueue(t, s, it)
	}
	mustClaim(t, s, claimed, id.NewWorkerID())

	got, err := s.ListEligible(ctx, "p", base, 10)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 1 || got[0].ID != ready.ID {
		t.Fatalf("expected only the ready item, got %d items", len(got))
	}

	got, err = s.ListEligible(ctx, "p", base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected delayed item once eligible, got %d items", len(got))
	}
}

func testRetryTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	it := NewItem("p")
	mustEnqueue(t, s, it)
	mustStart(t, s, it, w)

	next := base.Add(30 * time.Second)
	got, err := s.Transition(ctx, it.ID, item.StateRunning, item.Change{
		To: item.StatePending, At: base, Owner: w, NextEligibleAt: next,
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.State != item.StatePending || !got.WorkerID.IsNil() || got.HeartbeatAt != nil {
		t.Errorf("after retry: %+v", got)
	}
	if !got.NextEligibleAt.Equal(next) || got.Attempts != 1 {
		t.Errorf("after retry: eligible=%v attempts=%d", got.NextEligibleAt, got.Attempts)
	}

	eligible, err := s.ListEligible(ctx, "p", base, 10)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(eligible) != 0 {
		t.Errorf("item eligible before backoff elapsed")
	}

	mustClaim(t, s, it, w)
	stored, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Attempts != 2 {
		t.Errorf("Attempts after second claim = %d, want 2", stored.Attempts)
	}
}

func testRequestCancel(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()

	pending := NewItem("p")
	claimed := NewItem("p")
	running := NewItem("p")
	for _, it := range []*item.Item{pending, claimed, running} {
		mustEnqueue(t, s, it)
	}
	mustClaim(t, s, claimed, w)
	mustStart(t, s, running, w)

	for _, it := range []*item.Item{pending, claimed} {
		got, err := s.RequestCancel(ctx, it.ID, base)
		if err != nil {
			t.Fatalf("RequestCancel: %v", err)
		}
		if got.State != item.StateCanceled || got.CompletedAt == nil {
			t.Errorf("expected canceled, got %+v", got)
		}
	}

	got, err := s.RequestCancel(ctx, running.ID, base)
	if err != nil {
		t.Fatalf("RequestCancel(running): %v", err)
	}
	if got.State != item.StateRunning || !got.CancelRequested {
		t.Errorf("running item: state=%s flagged=%v", got.State, got.CancelRequested)
	}

	_, err = s.RequestCancel(ctx, pending.ID, base.Add(time.Hour))
	if !errors.Is(err, workpool.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	after, err := s.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !after.UpdatedAt.Equal(base) {
		t.Errorf("terminal cancel changed UpdatedAt to %v", after.UpdatedAt)
	}

	if _, err := s.RequestCancel(ctx, id.NewItemID(), base); !errors.Is(err, workpool.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	n, err := s.CountActive(ctx, "p")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if n != 1 {
		t.Errorf("CountActive = %d, want 1 (the running item)", n)
	}
}

func testCancelRequestedDiscardsOutcome(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	it := NewItem("p")
	mustEnqueue(t, s, it)
	mustStart(t, s, it, w)

	if _, err := s.RequestCancel(ctx, it.ID, base); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	got, err := s.Transition(ctx, it.ID, item.StateRunning, item.Change{
		To: item.StateSucceeded, At: base, Owner: w, Result: []byte(`1`),
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got.State != item.StateCanceled || got.Result != nil {
		t.Errorf("expected canceled without result, got state=%s result=%q", got.State, got.Result)
	}

	n, err := s.CountActive(ctx, "p")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if n != 0 {
		t.Errorf("CountActive = %d, want 0", n)
	}
}

func testHeartbeat(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	it := NewItem("p")
	mustEnqueue(t, s, it)

	if err := s.Heartbeat(ctx, it.ID, w, base); !errors.Is(err, workpool.ErrConflict) {
		t.Fatalf("pending: expected ErrConflict, got %v", err)
	}

	mustStart(t, s, it, w)
	at := base.Add(5 * time.Second)
	if err := s.Heartbeat(ctx, it.ID, w, at); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.HeartbeatAt == nil || !got.HeartbeatAt.Equal(at) {
		t.Errorf("HeartbeatAt = %v, want %v", got.HeartbeatAt, at)
	}

	if err := s.Heartbeat(ctx, it.ID, id.NewWorkerID(), at); !errors.Is(err, workpool.ErrConflict) {
		t.Fatalf("foreign worker: expected ErrConflict, got %v", err)
	}
	if err := s.Heartbeat(ctx, id.NewItemID(), w, at); !errors.Is(err, workpool.ErrItemNotFound) {
		t.Fatalf("missing item: expected ErrItemNotFound, got %v", err)
	}
}

func testListStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()

	stale := NewItem("p")
	fresh := NewItem("p")
	claimed := NewItem("q")
	pending := NewItem("p")
	for _, it := range []*item.Item{stale, fresh, claimed, pending} {
		mustEnqueue(t, s, it)
	}
	mustStart(t, s, stale, w)
	mustStart(t, s, fresh, w)
	mustClaim(t, s, claimed, w)
	if err := s.Heartbeat(ctx, fresh.ID, w, base.Add(time.Minute)); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	got, err := s.ListStale(ctx, base.Add(time.Second), 0)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	seen := map[id.ItemID]bool{}
	for _, it := range got {
		seen[it.ID] = true
	}
	if len(got) != 2 || !seen[stale.ID] || !seen[claimed.ID] {
		t.Errorf("expected the stale running and claimed items, got %d items", len(got))
	}

	limited, err := s.ListStale(ctx, base.Add(time.Second), 1)
	if err != nil {
		t.Fatalf("ListStale(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d items", len(limited))
	}
}

func testListCountDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewItem("p")
	b := NewItem("p")
	c := NewItem("q")
	c.Name = "report"
	for _, it := range []*item.Item{a, b, c} {
		mustEnqueue(t, s, it)
	}
	mustClaim(t, s, b, id.NewWorkerID())

	all, err := s.List(ctx, item.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != a.ID {
		t.Errorf("List() returned %d items", len(all))
	}

	byPool, err := s.List(ctx, item.ListOpts{PoolKey: "p", State: item.StatePending})
	if err != nil {
		t.Fatalf("List(filter): %v", err)
	}
	if len(byPool) != 1 || byPool[0].ID != a.ID {
		t.Errorf("List(p, pending) returned %d items", len(byPool))
	}

	byName, err := s.List(ctx, item.ListOpts{Name: "report"})
	if err != nil {
		t.Fatalf("List(name): %v", err)
	}
	if len(byName) != 1 || byName[0].ID != c.ID {
		t.Errorf("List(name=report) returned %d items", len(byName))
	}

	paged, err := s.List(ctx, item.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List(page): %v", err)
	}
	if len(paged) != 1 || paged[0].ID != b.ID {
		t.Errorf("List(limit 1, offset 1) returned %d items", len(paged))
	}

	n, err := s.Count(ctx, item.CountOpts{PoolKey: "p"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count(p) = %d, want 2", n)
	}
	n, err = s.Count(ctx, item.CountOpts{State: item.StateClaimed})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count(claimed) = %d, want 1", n)
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, a.ID); !errors.Is(err, workpool.ErrItemNotFound) {
		t.Fatalf("after Delete: expected ErrItemNotFound, got %v", err)
	}
	if err := s.Delete(ctx, a.ID); !errors.Is(err, workpool.ErrItemNotFound) {
		t.Fatalf("second Delete: expected ErrItemNotFound, got %v", err)
	}
}

func testPurgeTerminal(t *testing.T, s store.Store) {
	ctx := context.Background()

	old := NewItem("p")
	recent := NewItem("p")
	live := NewItem("p")
	for _, it := range []*item.Item{old, recent, live} {
		mustEnqueue(t, s, it)
	}
	if _, err := s.RequestCancel(ctx, old.ID, base); err != nil {
		t.Fatalf("cancel old: %v", err)
	}
	if _, err := s.RequestCancel(ctx, recent.ID, base.Add(time.Hour)); err != nil {
		t.Fatalf("cancel recent: %v", err)
	}

	n, err := s.PurgeTerminal(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeTerminal: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d items, want 1", n)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, workpool.ErrItemNotFound) {
		t.Errorf("old terminal item survived purge: %v", err)
	}
	for _, it := range []*item.Item{recent, live} {
		if _, err := s.Get(ctx, it.ID); err != nil {
			t.Errorf("item %s should survive purge: %v", it.ID, err)
		}
	}
}
