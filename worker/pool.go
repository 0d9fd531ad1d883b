package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/claim"
	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// Pool dispatches claimed items to executor goroutines. Concurrency per
// pool key is bounded by the ledger's active count, so any number of
// Pools in any number of processes can share one store.
//
// Besides the dispatch loop a Pool runs a heartbeat loop for the items it
// executes and, when configured, reaper and janitor loops.
type Pool struct {
	coordinator *claim.Coordinator
	executor    *Executor
	store       item.Store
	extensions  *ext.Registry
	logger      *slog.Logger
	workerID    id.WorkerID

	poolKeys          []string
	dispatch          bool
	maxInFlight       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration

	reaper          *Reaper
	reapInterval    time.Duration
	janitor         *Janitor
	janitorInterval time.Duration

	kick   chan struct{}
	stopCh chan struct{}
	cancel context.CancelFunc
	loops  sync.WaitGroup
	execs  sync.WaitGroup

	// The heartbeat loop outlives the other loops so items draining
	// during Stop stay fresh until they finish.
	hbStop   chan struct{}
	hbCancel context.CancelFunc
	hbLoop   sync.WaitGroup

	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolKeys restricts dispatch to the given pools. By default every
// pool configured on the coordinator is served.
func WithPoolKeys(keys ...string) PoolOption {
	return func(p *Pool) { p.poolKeys = keys }
}

// WithDispatch enables or disables claiming. A Pool with dispatch
// disabled only runs its maintenance loops.
func WithDispatch(enabled bool) PoolOption {
	return func(p *Pool) { p.dispatch = enabled }
}

// WithMaxInFlight caps how many items this process executes at once,
// across all pools. Zero means no local cap.
func WithMaxInFlight(n int) PoolOption {
	return func(p *Pool) { p.maxInFlight = n }
}

// WithPollInterval sets how often an idle dispatcher looks for work.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often running items send heartbeats.
// A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithReaper runs r every interval.
func WithReaper(r *Reaper, interval time.Duration) PoolOption {
	return func(p *Pool) {
		p.reaper = r
		p.reapInterval = interval
	}
}

// WithJanitor runs j every interval.
func WithJanitor(j *Janitor, interval time.Duration) PoolOption {
	return func(p *Pool) {
		p.janitor = j
		p.janitorInterval = interval
	}
}

// WithWorkerID sets the identity recorded on claimed items.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// NewPool creates a worker pool.
func NewPool(
	coordinator *claim.Coordinator,
	executor *Executor,
	store item.Store,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		coordinator:  coordinator,
		executor:     executor,
		store:        store,
		extensions:   extensions,
		logger:       logger,
		workerID:     id.NewWorkerID(),
		dispatch:     true,
		pollInterval: time.Second,
		kick:         make(chan struct{}, 1),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the pool's loops. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Bool("dispatch", p.dispatch),
		slog.Any("pools", p.poolKeys),
	)

	if p.dispatch {
		p.loops.Add(1)
		go p.dispatchLoop(ctx)

		if p.heartbeatInterval > 0 {
			hbCtx, hbCancel := context.WithCancel(context.Background())
			p.hbStop = make(chan struct{})
			p.hbCancel = hbCancel
			every(hbCtx, &p.hbLoop, p.hbStop, p.heartbeatInterval, p.sendHeartbeats)
		}
	}

	if p.reaper != nil && p.reapInterval > 0 {
		every(ctx, &p.loops, p.stopCh, p.reapInterval, func(ctx context.Context) {
			if _, err := p.reaper.Reap(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("reap error", slog.String("error", err.Error()))
			}
		})
	}

	if p.janitor != nil && p.janitorInterval > 0 {
		every(ctx, &p.loops, p.stopCh, p.janitorInterval, func(ctx context.Context) {
			if _, err := p.janitor.Purge(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("purge error", slog.String("error", err.Error()))
			}
		})
	}

	return nil
}

// Stop stops claiming and waits for in-flight items to finish. If ctx
// expires first, in-flight handlers are canceled and Stop waits for them
// to record their outcome.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	p.cancel()
	p.loops.Wait()

	done := make(chan struct{})
	go func() {
		p.execs.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, canceling active items")
		p.interruptAll()
		<-done
	}

	if p.hbStop != nil {
		close(p.hbStop)
		p.hbCancel()
		p.hbLoop.Wait()
		p.hbStop = nil
	}

	return nil
}

// Kick wakes the dispatcher so new work is claimed without waiting for
// the next poll.
func (p *Pool) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Interrupt cancels the handler context of an item executing in this
// process. It reports whether the item was found.
func (p *Pool) Interrupt(itemID id.ItemID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	cancel, ok := p.active[itemID.String()]
	if ok {
		cancel()
	}
	return ok
}

// InFlight returns the number of items executing in this process.
func (p *Pool) InFlight() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// dispatchLoop claims until nothing is eligible, then waits for a kick,
// the poll interval, or stop.
func (p *Pool) dispatchLoop(ctx context.Context) {
	defer p.loops.Done()

	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		p.drain(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.pollInterval)

		select {
		case <-p.stopCh:
			return
		case <-p.kick:
		case <-timer.C:
		}
	}
}

func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.maxInFlight > 0 && p.InFlight() >= p.maxInFlight {
			return
		}

		it, err := p.coordinator.ClaimAny(ctx, p.poolKeys, p.workerID)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			return
		}
		if it == nil {
			return
		}

		p.extensions.EmitItemClaimed(ctx, it)
		p.launch(it)
	}
}

func (p *Pool) launch(it *item.Item) {
	ctx, cancel := context.WithCancel(context.Background())
	p.track(it.ID.String(), cancel)

	p.execs.Add(1)
	go func() {
		defer p.execs.Done()
		defer p.Kick()
		defer p.untrack(it.ID.String())
		defer cancel()

		if err := p.executor.Execute(ctx, it, p.workerID); err != nil {
			p.logger.Error("item execution error",
				slog.String("item_id", it.ID.String()),
				slog.String("item_name", it.Name),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// every runs fn on a ticker until stop is closed.
func every(ctx context.Context, wg *sync.WaitGroup, stop <-chan struct{}, interval time.Duration, fn func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// sendHeartbeats refreshes the heartbeat of every item this process
// executes. Items that were reclaimed by the reaper, or whose cancel was
// requested from another process, have their handler context canceled.
func (p *Pool) sendHeartbeats(ctx context.Context) {
	p.activeMu.Lock()
	itemIDs := make([]string, 0, len(p.active))
	for itemID := range p.active {
		itemIDs = append(itemIDs, itemID)
	}
	p.activeMu.Unlock()

	for _, raw := range itemIDs {
		itemID, err := id.ParseItemID(raw)
		if err != nil {
			p.logger.Warn("heartbeat: invalid item id", slog.String("item_id", raw))
			continue
		}

		cur, err := p.store.Get(ctx, itemID)
		if err != nil {
			if errors.Is(err, workpool.ErrItemNotFound) {
				p.Interrupt(itemID)
			} else if ctx.Err() == nil {
				p.logger.Warn("heartbeat: lookup failed",
					slog.String("item_id", raw),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		held := cur.WorkerID == p.workerID && cur.State.IsActive()
		if !held || cur.CancelRequested {
			p.logger.Info("interrupting item no longer held by this worker",
				slog.String("item_id", raw),
				slog.String("state", string(cur.State)),
				slog.Bool("cancel_requested", cur.CancelRequested),
			)
			p.Interrupt(itemID)
			continue
		}
		if cur.State != item.StateRunning {
			continue
		}

		if err := p.store.Heartbeat(ctx, itemID, p.workerID, time.Now().UTC()); err != nil && ctx.Err() == nil {
			p.logger.Warn("heartbeat failed",
				slog.String("item_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) track(itemID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[itemID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(itemID string) {
	p.activeMu.Lock()
	delete(p.active, itemID)
	p.activeMu.Unlock()
}

func (p *Pool) interruptAll() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for itemID, cancel := range p.active {
		p.logger.Warn("canceling active item", slog.String("item_id", itemID))
		cancel()
	}
}
