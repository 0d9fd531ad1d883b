package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/middleware"
	"github.com/xraph/workpool/retry"
)

// Executor runs a single claimed item through middleware and the
// registered handler, then records the outcome in the ledger and emits
// lifecycle events.
type Executor struct {
	registry   *item.Registry
	extensions *ext.Registry
	store      item.Store
	policy     retry.Policy
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock overrides the time source for transition timestamps.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithMiddleware appends middleware around every handler invocation.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *item.Registry,
	extensions *ext.Registry,
	store item.Store,
	policy retry.Policy,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		policy:     policy,
		mw:         middleware.Chain(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute moves a claimed item to running, invokes its handler and
// records the outcome:
//   - success: running → succeeded with the encoded result
//   - failure with retries left: running → pending after the policy delay
//   - failure otherwise: running → failed with the error text verbatim
//
// A cancel requested while running lands the item in canceled instead.
// If the item is no longer claimed by workerID (canceled or reaped) the
// outcome is dropped and Execute returns nil. ctx cancels the handler only;
// ledger writes use a detached context so the outcome is still recorded.
func (e *Executor) Execute(ctx context.Context, claimed *item.Item, workerID id.WorkerID) error {
	storeCtx := context.WithoutCancel(ctx)

	running, err := e.store.Transition(storeCtx, claimed.ID, item.StateClaimed, item.Change{
		To:        item.StateRunning,
		At:        e.now(),
		Owner:     workerID,
		Heartbeat: true,
	})
	if err != nil {
		if errors.Is(err, workpool.ErrConflict) {
			e.logger.Debug("item no longer claimed, dropping",
				slog.String("item_id", claimed.ID.String()),
				slog.String("worker_id", workerID.String()),
			)
			return nil
		}
		return fmt.Errorf("start item %s: %w", claimed.ID, err)
	}

	e.extensions.EmitItemStarted(ctx, running)

	start := time.Now()
	result, runErr := e.run(ctx, running)
	elapsed := time.Since(start)

	if runErr != nil {
		return e.handleFailure(storeCtx, running, workerID, runErr)
	}
	return e.handleSuccess(storeCtx, running, workerID, result, elapsed)
}

// run invokes the handler through the middleware chain.
func (e *Executor) run(ctx context.Context, it *item.Item) ([]byte, error) {
	handler, ok := e.registry.Get(it.Name)
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("%w: %q", workpool.ErrNoHandler, it.Name))
	}

	var result []byte
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, it.Payload)
		if err != nil {
			return err
		}
		result = out
		return nil
	}

	if err := e.mw(ctx, it, terminal); err != nil {
		return nil, err
	}
	return result, nil
}

// handleSuccess records the result and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, it *item.Item, workerID id.WorkerID, result []byte, elapsed time.Duration) error {
	done, err := e.store.Transition(ctx, it.ID, item.StateRunning, item.Change{
		To:     item.StateSucceeded,
		At:     e.now(),
		Owner:  workerID,
		Result: result,
	})
	if err != nil {
		return e.lost(it, "succeeded", err)
	}

	if done.State == item.StateCanceled {
		e.extensions.EmitItemCanceled(ctx, done)
		return nil
	}
	e.extensions.EmitItemSucceeded(ctx, done, elapsed)
	return nil
}

// handleFailure consults the retry policy and either returns the item to
// pending or fails it.
func (e *Executor) handleFailure(ctx context.Context, it *item.Item, workerID id.WorkerID, runErr error) error {
	now := e.now()
	decision := e.policy.Decide(it.Attempts, it.MaxAttempts, runErr)

	change := item.Change{At: now, Owner: workerID}
	if decision.Retry {
		change.To = item.StatePending
		change.NextEligibleAt = now.Add(decision.Delay)
	} else {
		change.To = item.StateFailed
		change.Error = runErr.Error()
	}

	next, err := e.store.Transition(ctx, it.ID, item.StateRunning, change)
	if err != nil {
		return e.lost(it, string(change.To), err)
	}

	switch next.State {
	case item.StateCanceled:
		e.extensions.EmitItemCanceled(ctx, next)
	case item.StatePending:
		e.extensions.EmitItemRetrying(ctx, next, runErr, next.NextEligibleAt)
		e.logger.Info("item scheduled for retry",
			slog.String("item_id", it.ID.String()),
			slog.String("item_name", it.Name),
			slog.Int("attempt", it.Attempts),
			slog.Int("max_attempts", it.MaxAttempts),
			slog.Duration("delay", decision.Delay),
		)
	default:
		e.extensions.EmitItemFailed(ctx, next, runErr)
		e.logger.Warn("item failed",
			slog.String("item_id", it.ID.String()),
			slog.String("item_name", it.Name),
			slog.Int("attempts", it.Attempts),
			slog.String("error", runErr.Error()),
		)
	}
	return nil
}

// lost handles an outcome transition that did not apply. A conflict means
// the reaper reclaimed the item; anything else is a store failure.
func (e *Executor) lost(it *item.Item, to string, err error) error {
	if errors.Is(err, workpool.ErrConflict) {
		e.logger.Warn("item reclaimed before outcome was recorded",
			slog.String("item_id", it.ID.String()),
			slog.String("item_name", it.Name),
			slog.String("outcome", to),
		)
		return nil
	}
	e.logger.Error("failed to record item outcome",
		slog.String("item_id", it.ID.String()),
		slog.String("outcome", to),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("record %s for item %s: %w", to, it.ID, err)
}
