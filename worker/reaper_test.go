package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/retry"
	"github.com/xraph/workpool/store/memory"
	"github.com/xraph/workpool/worker"
)

func newReaper(s item.Store, now time.Time) (*worker.Reaper, *recorder) {
	extensions, rec := newExtensions()
	policy := retry.Policy{Strategy: retry.NewConstant(5 * time.Second)}
	return worker.NewReaper(s, policy, extensions, time.Minute, slog.Default(),
		worker.WithReaperClock(fixedClock(now)),
	), rec
}

func start(t *testing.T, s item.Store, it *item.Item, w id.WorkerID, at time.Time) {
	t.Helper()
	if _, err := s.Transition(context.Background(), it.ID, item.StateClaimed, item.Change{
		To: item.StateRunning, At: at, Owner: w, Heartbeat: true,
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestReaper_ReturnsStaleItemToPending(t *testing.T) {
	s := memory.New()
	w := id.NewWorkerID()
	it := newItem("task", "default", 3)
	enqueueClaimed(t, s, it, w, base)
	start(t, s, it, w, base)

	now := base.Add(2 * time.Minute)
	r, rec := newReaper(s, now)
	n, err := r.Reap(context.Background())
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}

	got := mustGet(t, s, it.ID)
	if got.State != item.StatePending {
		t.Fatalf("state = %s, want pending", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (reaping does not count an attempt)", got.Attempts)
	}
	if !got.NextEligibleAt.Equal(now.Add(5 * time.Second)) {
		t.Errorf("next eligible = %v, want %v", got.NextEligibleAt, now.Add(5*time.Second))
	}
	if !got.WorkerID.IsNil() || got.HeartbeatAt != nil {
		t.Error("worker and heartbeat should be cleared")
	}
	if !equalEvents(rec.Events(), []string{"reaped"}) {
		t.Errorf("events = %v", rec.Events())
	}
}

func TestReaper_FailsWhenAttemptsExhausted(t *testing.T) {
	s := memory.New()
	w := id.NewWorkerID()
	it := newItem("task", "default", 1)
	enqueueClaimed(t, s, it, w, base)
	start(t, s, it, w, base)

	r, rec := newReaper(s, base.Add(2*time.Minute))
	if _, err := r.Reap(context.Background()); err != nil {
		t.Fatalf("Reap: %v", err)
	}

	got := mustGet(t, s, it.ID)
	if got.State != item.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.Error != workpool.ErrWorkerLost.Error() {
		t.Errorf("error = %q, want %q", got.Error, workpool.ErrWorkerLost.Error())
	}
	if !equalEvents(rec.Events(), []string{"reaped", "failed"}) {
		t.Errorf("events = %v", rec.Events())
	}
}

func TestReaper_ReclaimsStaleClaimedItem(t *testing.T) {
	s := memory.New()
	it := newItem("task", "default", 3)
	enqueueClaimed(t, s, it, id.NewWorkerID(), base)

	r, _ := newReaper(s, base.Add(2*time.Minute))
	n, err := r.Reap(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Reap = %d, %v; want 1, nil", n, err)
	}
	if got := mustGet(t, s, it.ID); got.State != item.StatePending {
		t.Fatalf("state = %s, want pending", got.State)
	}
}

func TestReaper_IgnoresFreshHeartbeat(t *testing.T) {
	s := memory.New()
	w := id.NewWorkerID()
	it := newItem("task", "default", 3)
	enqueueClaimed(t, s, it, w, base)
	start(t, s, it, w, base)
	if err := s.Heartbeat(context.Background(), it.ID, w, base.Add(90*time.Second)); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	r, _ := newReaper(s, base.Add(2*time.Minute))
	n, err := r.Reap(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Reap = %d, %v; want 0, nil", n, err)
	}
	if got := mustGet(t, s, it.ID); got.State != item.StateRunning {
		t.Fatalf("state = %s, want running", got.State)
	}
}

func TestReaper_CancelRequestedLandsCanceled(t *testing.T) {
	s := memory.New()
	w := id.NewWorkerID()
	it := newItem("task", "default", 3)
	enqueueClaimed(t, s, it, w, base)
	start(t, s, it, w, base)
	if _, err := s.RequestCancel(context.Background(), it.ID, base); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	r, rec := newReaper(s, base.Add(2*time.Minute))
	if _, err := r.Reap(context.Background()); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if got := mustGet(t, s, it.ID); got.State != item.StateCanceled {
		t.Fatalf("state = %s, want canceled", got.State)
	}
	if !equalEvents(rec.Events(), []string{"reaped", "canceled"}) {
		t.Errorf("events = %v", rec.Events())
	}
}

func TestReaper_StoreError(t *testing.T) {
	s := memory.New()
	_ = s.Close()
	r, _ := newReaper(s, base)
	if _, err := r.Reap(context.Background()); !errors.Is(err, workpool.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestJanitor_PurgesOldTerminalItems(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	old := newItem("task", "default", 3)
	if err := s.Enqueue(ctx, old); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := s.RequestCancel(ctx, old.ID, time.Now().UTC().Add(-2*time.Hour)); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	pending := newItem("task", "default", 3)
	if err := s.Enqueue(ctx, pending); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	j := worker.NewJanitor(s, time.Hour, slog.Default())
	n, err := j.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, workpool.ErrItemNotFound) {
		t.Errorf("old item still present: %v", err)
	}
	mustGet(t, s, pending.ID)
}

func TestJanitor_ZeroRetentionIsNoop(t *testing.T) {
	j := worker.NewJanitor(memory.New(), 0, slog.Default())
	n, err := j.Purge(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Purge = %d, %v; want 0, nil", n, err)
	}
}
