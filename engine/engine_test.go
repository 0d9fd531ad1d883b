package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/codec"
	"github.com/xraph/workpool/engine"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/retry"
	"github.com/xraph/workpool/store/memory"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

type emailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type receipt struct {
	MessageID string `json:"message_id"`
}

func fastConfig() workpool.Config {
	cfg := workpool.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.StaleThreshold = 0
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func fastRetry() engine.Option {
	return engine.WithRetryPolicy(retry.Policy{Strategy: retry.NewConstant(5 * time.Millisecond)})
}

func newEngine(t *testing.T, s item.Store, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithConfig(fastConfig()), fastRetry()}, opts...)
	eng, err := engine.New(s, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_NoStore(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, workpool.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestNew_RejectsNegativeLimit(t *testing.T) {
	_, err := engine.New(memory.New(), engine.WithPool("bad", -1))
	if !errors.Is(err, workpool.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNew_MergesConfigAndOptionPools(t *testing.T) {
	cfg := fastConfig()
	cfg.Pools = map[string]int{"default": 3, "email": 1}
	eng := newEngine(t, memory.New(), engine.WithConfig(cfg), engine.WithPool("email", 4))

	if got, err := eng.Pools().Limit("default"); err != nil || got != 3 {
		t.Errorf("default limit = %d, want 3", got)
	}
	if got, err := eng.Pools().Limit("email"); err != nil || got != 4 {
		t.Errorf("email limit = %d, want 4 (option wins)", got)
	}
}

// ──────────────────────────────────────────────────
// End-to-end
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd(t *testing.T) {
	eng := newEngine(t, memory.New(), engine.WithPool("email", 2))

	var got emailInput
	engine.Register(eng, item.NewDefinition("send-email", func(_ context.Context, in emailInput) (receipt, error) {
		got = in
		return receipt{MessageID: "msg-1"}, nil
	}, item.WithPool("email")))

	it, err := engine.Enqueue(context.Background(), eng, "send-email", emailInput{
		To:      "alice@example.com",
		Subject: "Hello",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if it.State != item.StatePending || it.PoolKey != "email" {
		t.Fatalf("enqueued item = %s in %q, want pending in email", it.State, it.PoolKey)
	}
	if it.MaxAttempts != workpool.DefaultConfig().DefaultMaxAttempts {
		t.Errorf("max attempts = %d, want config default", it.MaxAttempts)
	}

	start(t, eng)

	res, err := engine.AwaitResult[receipt](awaitCtx(t), eng, it.ID)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if res.MessageID != "msg-1" {
		t.Errorf("result = %+v", res)
	}
	if got.To != "alice@example.com" || got.Subject != "Hello" {
		t.Errorf("handler saw %+v", got)
	}

	done, err := eng.Status(context.Background(), it.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if done.State != item.StateSucceeded || done.Attempts != 1 || done.Error != "" {
		t.Errorf("final = %s attempts=%d error=%q", done.State, done.Attempts, done.Error)
	}
}

func TestEngine_RetriesThenGivesUp(t *testing.T) {
	eng := newEngine(t, memory.New())

	var calls atomic.Int32
	eng.RegisterFunc("always-fails", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("upstream returned 503")
	})

	it, err := eng.EnqueueRaw(context.Background(), "always-fails", nil, item.WithMaxAttempts(3))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	start(t, eng)

	_, err = engine.AwaitResult[struct{}](awaitCtx(t), eng, it.ID)
	if !errors.Is(err, workpool.ErrGiveUp) {
		t.Fatalf("expected ErrGiveUp, got %v", err)
	}
	if !strings.Contains(err.Error(), "upstream returned 503") {
		t.Errorf("error %q does not carry the handler error", err)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}

	final, _ := eng.Status(context.Background(), it.ID)
	if final.State != item.StateFailed || final.Attempts != 3 || final.Error != "upstream returned 503" {
		t.Errorf("final = %s attempts=%d error=%q", final.State, final.Attempts, final.Error)
	}
}

func TestEngine_PermanentErrorSkipsRetries(t *testing.T) {
	eng := newEngine(t, memory.New())

	var calls atomic.Int32
	eng.RegisterFunc("validate", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, retry.Permanent(errors.New("invalid address"))
	})

	it, _ := eng.EnqueueRaw(context.Background(), "validate", nil, item.WithMaxAttempts(5))
	start(t, eng)

	done, err := eng.Await(awaitCtx(t), it.ID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if done.State != item.StateFailed || calls.Load() != 1 {
		t.Fatalf("state = %s after %d calls, want failed after 1", done.State, calls.Load())
	}
}

// ──────────────────────────────────────────────────
// Concurrency and ordering
// ──────────────────────────────────────────────────

func TestEngine_RespectsPoolLimit(t *testing.T) {
	const limit = 3
	eng := newEngine(t, memory.New(), engine.WithPool("narrow", limit))

	var cur, peak atomic.Int32
	eng.RegisterFunc("work", func(context.Context, []byte) ([]byte, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return nil, nil
	}, item.WithPool("narrow"))

	ids := make([]id.ItemID, 12)
	for i := range ids {
		it, err := eng.EnqueueRaw(context.Background(), "work", nil)
		if err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
		ids[i] = it.ID
	}
	start(t, eng)

	for _, itemID := range ids {
		if _, err := eng.Await(awaitCtx(t), itemID); err != nil {
			t.Fatalf("Await: %v", err)
		}
	}
	if peak.Load() > limit {
		t.Fatalf("peak concurrency = %d, want <= %d", peak.Load(), limit)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, expected parallel execution", peak.Load())
	}
}

func TestEngine_DispatchOrder(t *testing.T) {
	eng := newEngine(t, memory.New(), engine.WithPool("serial", 1))

	var mu sync.Mutex
	var order []string
	eng.RegisterFunc("record", func(_ context.Context, payload []byte) ([]byte, error) {
		mu.Lock()
		order = append(order, string(payload))
		mu.Unlock()
		return nil, nil
	}, item.WithPool("serial"))

	enqueue := func(label string, prio int) id.ItemID {
		it, err := eng.EnqueueRaw(context.Background(), "record", []byte(label), item.WithPriority(prio))
		if err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
		return it.ID
	}
	ids := []id.ItemID{
		enqueue("a", 5),
		enqueue("b", 5),
		enqueue("urgent", 0),
		enqueue("c", 5),
	}
	start(t, eng)

	for _, itemID := range ids {
		if _, err := eng.Await(awaitCtx(t), itemID); err != nil {
			t.Fatalf("Await: %v", err)
		}
	}

	want := []string{"urgent", "a", "b", "c"}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestEngine_SetPoolLimitPausesAndResumes(t *testing.T) {
	eng := newEngine(t, memory.New(), engine.WithPool("p", 0))

	var calls atomic.Int32
	eng.RegisterFunc("work", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, nil
	}, item.WithPool("p"))

	it, _ := eng.EnqueueRaw(context.Background(), "work", nil)
	start(t, eng)

	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("paused pool executed work")
	}

	if err := eng.SetPoolLimit("p", 1); err != nil {
		t.Fatalf("SetPoolLimit: %v", err)
	}
	if _, err := eng.Await(awaitCtx(t), it.ID); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	if err := eng.SetPoolLimit("p", -1); !errors.Is(err, workpool.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEngine_NotBefore(t *testing.T) {
	eng := newEngine(t, memory.New())

	var ranAt atomic.Int64
	eng.RegisterFunc("later", func(context.Context, []byte) ([]byte, error) {
		ranAt.Store(time.Now().UnixNano())
		return nil, nil
	})

	notBefore := time.Now().Add(100 * time.Millisecond)
	it, err := eng.EnqueueRaw(context.Background(), "later", nil, item.WithNotBefore(notBefore))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	start(t, eng)

	if _, err := eng.Await(awaitCtx(t), it.ID); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if time.Unix(0, ranAt.Load()).Before(notBefore) {
		t.Fatal("item ran before its NotBefore time")
	}
}

// ──────────────────────────────────────────────────
// Enqueue validation
// ──────────────────────────────────────────────────

func TestEnqueue_Validation(t *testing.T) {
	eng := newEngine(t, memory.New())
	ctx := context.Background()

	if _, err := eng.EnqueueRaw(ctx, "", nil); !errors.Is(err, workpool.ErrInvalidArgument) {
		t.Errorf("empty name: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := eng.EnqueueRaw(ctx, "x", nil, item.WithPool("")); !errors.Is(err, workpool.ErrInvalidArgument) {
		t.Errorf("empty pool: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := eng.EnqueueRaw(ctx, "x", nil, item.WithPool("nowhere")); !errors.Is(err, workpool.ErrPoolUnknown) {
		t.Errorf("unknown pool: expected ErrPoolUnknown, got %v", err)
	}
	if _, err := engine.Enqueue(ctx, eng, "x", make(chan int)); !errors.Is(err, workpool.ErrInvalidArgument) {
		t.Errorf("unencodable args: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := eng.EnqueueRaw(ctx, "x", nil, item.WithMaxAttempts(-1)); !errors.Is(err, workpool.ErrInvalidArgument) {
		t.Errorf("negative attempts: expected ErrInvalidArgument, got %v", err)
	}
}

func TestEnqueue_DuplicateID(t *testing.T) {
	eng := newEngine(t, memory.New())
	ctx := context.Background()
	itemID := id.NewItemID()

	if _, err := eng.EnqueueRaw(ctx, "x", nil, item.WithID(itemID)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := eng.EnqueueRaw(ctx, "x", nil, item.WithID(itemID)); !errors.Is(err, workpool.ErrItemAlreadyExists) {
		t.Fatalf("expected ErrItemAlreadyExists, got %v", err)
	}
}

func TestEnqueue_StampsTimestamps(t *testing.T) {
	eng := newEngine(t, memory.New())
	before := time.Now().UTC()

	it, err := eng.EnqueueRaw(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if it.CreatedAt.Before(before) || it.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want UTC at or after %v", it.CreatedAt, before)
	}
	if !it.UpdatedAt.Equal(it.CreatedAt) || !it.EnqueuedAt.Equal(it.CreatedAt) || !it.NextEligibleAt.Equal(it.CreatedAt) {
		t.Errorf("timestamps diverge: created %v updated %v enqueued %v eligible %v",
			it.CreatedAt, it.UpdatedAt, it.EnqueuedAt, it.NextEligibleAt)
	}
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestCancel_Pending(t *testing.T) {
	eng := newEngine(t, memory.New())
	ctx := context.Background()

	it, _ := eng.EnqueueRaw(ctx, "never-runs", nil)

	waitCtx := awaitCtx(t)
	awaited := make(chan *item.Item, 1)
	go func() {
		done, _ := eng.Await(waitCtx, it.ID)
		awaited <- done
	}()

	canceled, err := eng.Cancel(ctx, it.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.State != item.StateCanceled {
		t.Fatalf("state = %s, want canceled", canceled.State)
	}

	select {
	case done := <-awaited:
		if done == nil || done.State != item.StateCanceled {
			t.Fatalf("await returned %+v", done)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("await not woken by cancel")
	}

	if _, err := eng.Cancel(ctx, it.ID); !errors.Is(err, workpool.ErrAlreadyTerminal) {
		t.Fatalf("second cancel: expected ErrAlreadyTerminal, got %v", err)
	}
	if _, err := engine.AwaitResult[struct{}](ctx, eng, it.ID); !errors.Is(err, workpool.ErrCanceled) {
		t.Fatalf("AwaitResult: expected ErrCanceled, got %v", err)
	}
}

func TestCancel_RunningDiscardsOutcome(t *testing.T) {
	eng := newEngine(t, memory.New())

	started := make(chan struct{})
	eng.RegisterFunc("slow", func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return []byte(`"late"`), nil
	})

	it, _ := eng.EnqueueRaw(context.Background(), "slow", nil)
	start(t, eng)
	<-started

	flagged, err := eng.Cancel(context.Background(), it.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if flagged.State != item.StateRunning || !flagged.CancelRequested {
		t.Fatalf("cancel of running item = %s (requested=%v)", flagged.State, flagged.CancelRequested)
	}

	done, err := eng.Await(awaitCtx(t), it.ID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if done.State != item.StateCanceled || done.Result != nil {
		t.Fatalf("final = %s result=%q, want canceled with no result", done.State, done.Result)
	}
}

// ──────────────────────────────────────────────────
// Durability and recovery
// ──────────────────────────────────────────────────

func TestEngine_SurvivesRestart(t *testing.T) {
	s := memory.New()

	first := newEngine(t, s)
	it, err := first.EnqueueRaw(context.Background(), "persist", []byte(`"x"`))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	// The first process dies before running anything.

	second := newEngine(t, s)
	second.RegisterFunc("persist", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})
	start(t, second)

	done, err := second.Await(awaitCtx(t), it.ID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if done.State != item.StateSucceeded || string(done.Result) != `"x"` {
		t.Fatalf("final = %s result=%q", done.State, done.Result)
	}
}

func TestEngine_ReapsLostWorker(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	cfg := fastConfig()
	cfg.StaleThreshold = 50 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond

	eng := newEngine(t, s, engine.WithConfig(cfg))
	eng.RegisterFunc("resume", func(context.Context, []byte) ([]byte, error) {
		return []byte(`"recovered"`), nil
	})

	it, _ := eng.EnqueueRaw(ctx, "resume", nil, item.WithMaxAttempts(3))

	// A worker in another process claims and starts the item, then dies.
	lost := id.NewWorkerID()
	past := time.Now().UTC().Add(-time.Minute)
	if _, err := s.Transition(ctx, it.ID, item.StatePending, item.Change{
		To: item.StateClaimed, At: past, WorkerID: lost, IncAttempts: true, Heartbeat: true,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Transition(ctx, it.ID, item.StateClaimed, item.Change{
		To: item.StateRunning, At: past, Owner: lost, Heartbeat: true,
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	start(t, eng)

	done, err := eng.Await(awaitCtx(t), it.ID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if done.State != item.StateSucceeded {
		t.Fatalf("state = %s, want succeeded after reap", done.State)
	}
	if done.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", done.Attempts)
	}
}

func TestEngine_HeartbeatKeepsLongItemAlive(t *testing.T) {
	cfg := fastConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.StaleThreshold = 60 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond

	eng := newEngine(t, memory.New(), engine.WithConfig(cfg))

	var calls atomic.Int32
	eng.RegisterFunc("long", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})

	it, _ := eng.EnqueueRaw(context.Background(), "long", nil)
	start(t, eng)

	done, err := eng.Await(awaitCtx(t), it.ID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if done.State != item.StateSucceeded || calls.Load() != 1 || done.Attempts != 1 {
		t.Fatalf("state=%s calls=%d attempts=%d, want one uninterrupted run",
			done.State, calls.Load(), done.Attempts)
	}
}

// ──────────────────────────────────────────────────
// Callbacks, replay, purge
// ──────────────────────────────────────────────────

func TestEngine_OnComplete(t *testing.T) {
	eng := newEngine(t, memory.New())
	eng.RegisterFunc("quick", func(context.Context, []byte) ([]byte, error) { return nil, nil })

	it, _ := eng.EnqueueRaw(context.Background(), "quick", nil)

	called := make(chan item.State, 1)
	if err := eng.OnComplete(awaitCtx(t), it.ID, func(done *item.Item) {
		called <- done.State
	}); err != nil {
		t.Fatalf("OnComplete: %v", err)
	}
	start(t, eng)

	select {
	case st := <-called:
		if st != item.StateSucceeded {
			t.Errorf("state = %s", st)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestEngine_ReplayFailed(t *testing.T) {
	eng := newEngine(t, memory.New())

	var healthy atomic.Bool
	eng.RegisterFunc("flaky", func(context.Context, []byte) ([]byte, error) {
		if !healthy.Load() {
			return nil, errors.New("dependency down")
		}
		return []byte(`"ok"`), nil
	})

	it, _ := eng.EnqueueRaw(context.Background(), "flaky", nil, item.WithMaxAttempts(1))
	start(t, eng)

	failed, err := eng.Await(awaitCtx(t), it.ID)
	if err != nil || failed.State != item.StateFailed {
		t.Fatalf("Await = %v, %v; want failed", failed, err)
	}

	n, err := eng.DLQ().Count(context.Background(), "")
	if err != nil || n != 1 {
		t.Fatalf("DLQ count = %d, %v; want 1", n, err)
	}

	healthy.Store(true)
	replayed, err := eng.Replay(context.Background(), it.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	done, err := eng.Await(awaitCtx(t), replayed.ID)
	if err != nil || done.State != item.StateSucceeded {
		t.Fatalf("replayed item = %v, %v; want succeeded", done, err)
	}
}

func TestEngine_Purge(t *testing.T) {
	eng := newEngine(t, memory.New())
	ctx := context.Background()

	it, _ := eng.EnqueueRaw(ctx, "x", nil)
	if _, err := eng.Cancel(ctx, it.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	live, _ := eng.EnqueueRaw(ctx, "x", nil)

	n, err := eng.Purge(ctx, time.Now().Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v; want 1", n, err)
	}
	if _, err := eng.Status(ctx, it.ID); !errors.Is(err, workpool.ErrItemNotFound) {
		t.Errorf("purged item still present: %v", err)
	}
	if _, err := eng.Status(ctx, live.ID); err != nil {
		t.Errorf("live item purged: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Codec, extensions, metrics
// ──────────────────────────────────────────────────

func TestEngine_MsgpackCodec(t *testing.T) {
	eng := newEngine(t, memory.New(), engine.WithCodec(codec.Msgpack{}))

	engine.Register(eng, item.NewDefinition("sum", func(_ context.Context, in []int) (int, error) {
		total := 0
		for _, v := range in {
			total += v
		}
		return total, nil
	}))

	it, err := engine.Enqueue(context.Background(), eng, "sum", []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	start(t, eng)

	total, err := engine.AwaitResult[int](awaitCtx(t), eng, it.ID)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if total != 6 {
		t.Fatalf("total = %d, want 6", total)
	}
}

type lifecycle struct {
	mu     sync.Mutex
	events []string
	down   atomic.Bool
}

func (l *lifecycle) Name() string { return "lifecycle" }

func (l *lifecycle) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *lifecycle) OnItemEnqueued(context.Context, *item.Item) error { l.add("enqueued"); return nil }
func (l *lifecycle) OnItemClaimed(context.Context, *item.Item) error  { l.add("claimed"); return nil }
func (l *lifecycle) OnItemStarted(context.Context, *item.Item) error  { l.add("started"); return nil }
func (l *lifecycle) OnItemSucceeded(context.Context, *item.Item, time.Duration) error {
	l.add("succeeded")
	return nil
}
func (l *lifecycle) OnShutdown(context.Context) error { l.down.Store(true); return nil }

func (l *lifecycle) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestEngine_ExtensionsAndMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	hooks := &lifecycle{}

	eng := newEngine(t, memory.New(),
		engine.WithExtension(hooks),
		engine.WithMeterProvider(mp),
	)
	eng.RegisterFunc("noop", func(context.Context, []byte) ([]byte, error) { return nil, nil })

	it, _ := eng.EnqueueRaw(context.Background(), "noop", nil)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.Await(awaitCtx(t), it.ID); err != nil {
		t.Fatalf("Await: %v", err)
	}
	waitFor(t, func() bool { return len(hooks.Events()) == 4 })
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := "enqueued,claimed,started,succeeded"
	if got := strings.Join(hooks.Events(), ","); got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
	if !hooks.down.Load() {
		t.Error("shutdown hook not called")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			seen[m.Name] = true
		}
	}
	for _, name := range []string{"workpool.item.enqueued", "workpool.item.succeeded", "workpool.item.executions", "workpool.item.duration"} {
		if !seen[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestEngine_MaintenanceOnlyDoesNotExecute(t *testing.T) {
	eng := newEngine(t, memory.New(), engine.WithDispatch(false))

	var calls atomic.Int32
	eng.RegisterFunc("work", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, nil
	})
	it, _ := eng.EnqueueRaw(context.Background(), "work", nil)
	start(t, eng)

	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("maintenance-only engine executed work")
	}
	got, _ := eng.Status(context.Background(), it.ID)
	if got.State != item.StatePending {
		t.Fatalf("state = %s, want pending", got.State)
	}
}

func TestEngine_ThirdItemWaitsForSlot(t *testing.T) {
	eng := newEngine(t, memory.New(), engine.WithPool("pair", 2))

	started := make(chan string, 3)
	release := make(chan struct{}, 3)
	eng.RegisterFunc("gate", func(_ context.Context, payload []byte) ([]byte, error) {
		started <- string(payload)
		<-release
		return nil, nil
	}, item.WithPool("pair"))

	var ids []id.ItemID
	for _, label := range []string{"a", "b", "c"} {
		it, err := eng.EnqueueRaw(context.Background(), "gate", []byte(label))
		if err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
		ids = append(ids, it.ID)
	}
	start(t, eng)

	first := map[string]bool{}
	for range 2 {
		select {
		case label := <-started:
			first[label] = true
		case <-time.After(3 * time.Second):
			t.Fatal("first two items did not start")
		}
	}
	select {
	case label := <-started:
		t.Fatalf("item %s started while the pool was full", label)
	case <-time.After(100 * time.Millisecond):
	}

	active, err := eng.Store().CountActive(context.Background(), "pair")
	if err != nil || active != 2 {
		t.Fatalf("active = %d, %v; want 2", active, err)
	}

	release <- struct{}{}
	select {
	case label := <-started:
		if first[label] {
			t.Fatalf("item %s ran twice", label)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("third item did not start after a slot freed")
	}

	release <- struct{}{}
	release <- struct{}{}
	for _, itemID := range ids {
		if _, err := eng.Await(awaitCtx(t), itemID); err != nil {
			t.Fatalf("Await: %v", err)
		}
	}
}

func TestCancel_BeforeClaimNeverRuns(t *testing.T) {
	eng := newEngine(t, memory.New())

	var calls atomic.Int32
	eng.RegisterFunc("work", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, nil
	})

	it, _ := eng.EnqueueRaw(context.Background(), "work", nil)
	if _, err := eng.Cancel(context.Background(), it.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	start(t, eng)

	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("canceled item was executed")
	}
	got, _ := eng.Status(context.Background(), it.ID)
	if got.State != item.StateCanceled || got.Attempts != 0 {
		t.Fatalf("state=%s attempts=%d", got.State, got.Attempts)
	}
}
