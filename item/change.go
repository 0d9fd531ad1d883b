package item

import (
	"fmt"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
)

// Change describes a single compare-and-set transition. The expected
// current state is passed alongside it to [Store.Transition].
type Change struct {
	// To is the target state.
	To State

	// At is the transition timestamp. It stamps UpdatedAt, and ClaimedAt,
	// HeartbeatAt or CompletedAt where the transition sets them.
	At time.Time

	// Owner, when set, requires the item to currently be held by this
	// worker. A stale executor or reaper loses the race instead of
	// overwriting an item that was reclaimed by someone else.
	Owner id.WorkerID

	// WorkerID records the claiming worker on pending → claimed.
	WorkerID id.WorkerID

	// IncAttempts increments Attempts. Only valid on pending → claimed.
	IncAttempts bool

	// Heartbeat sets HeartbeatAt to At.
	Heartbeat bool

	// StaleBefore, when set, requires HeartbeatAt to be older than it.
	// The reaper uses it so a recovered heartbeat wins.
	StaleBefore time.Time

	// NextEligibleAt, when set, replaces the item's NextEligibleAt.
	NextEligibleAt time.Time

	// Result is recorded on → succeeded.
	Result []byte

	// Error is recorded on → failed.
	Error string

	// ActiveLimit, when positive, requires the pool's count of claimed
	// and running items to be below it. Stores check it in the same
	// atomic step as the state compare and return
	// workpool.ErrPoolSaturated when the pool is full.
	ActiveLimit int
}

var transitions = map[State][]State{
	StatePending: {StateClaimed, StateCanceled},
	StateClaimed: {StateRunning, StatePending, StateFailed, StateCanceled},
	StateRunning: {StateSucceeded, StateFailed, StatePending},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply checks the compare-and-set preconditions of c against it and, if
// they hold, mutates it into the new state. Stores call Apply inside their
// atomic section; the active-limit check is the store's responsibility
// because it spans items.
//
// A transition out of running on an item whose cancel was requested lands
// in canceled and drops the result or error.
func Apply(it *Item, from State, c Change) error {
	if it.State != from {
		return fmt.Errorf("%w: item %s is %s, expected %s", workpool.ErrConflict, it.ID, it.State, from)
	}
	if !CanTransition(from, c.To) {
		return fmt.Errorf("%w: illegal transition %s → %s", workpool.ErrInvalidArgument, from, c.To)
	}
	if c.IncAttempts && (from != StatePending || c.To != StateClaimed) {
		return fmt.Errorf("%w: attempts only increase on claim", workpool.ErrInvalidArgument)
	}
	if !c.Owner.IsNil() && it.WorkerID != c.Owner {
		return fmt.Errorf("%w: item %s is held by %s", workpool.ErrConflict, it.ID, it.WorkerID)
	}
	if !c.StaleBefore.IsZero() && it.HeartbeatAt != nil && !it.HeartbeatAt.Before(c.StaleBefore) {
		return fmt.Errorf("%w: item %s heartbeat recovered", workpool.ErrConflict, it.ID)
	}

	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	to := c.To
	if from == StateRunning && it.CancelRequested {
		to = StateCanceled
	}

	switch to {
	case StateClaimed:
		it.WorkerID = c.WorkerID
		it.ClaimedAt = &at
	case StatePending:
		it.WorkerID = id.Nil
		it.ClaimedAt = nil
		it.HeartbeatAt = nil
	case StateSucceeded:
		it.Result = cloneBytes(c.Result)
	case StateFailed:
		it.Error = c.Error
	}

	if c.IncAttempts {
		it.Attempts++
	}
	if c.Heartbeat && to.IsActive() {
		it.HeartbeatAt = &at
	}
	if !c.NextEligibleAt.IsZero() && to == StatePending {
		it.NextEligibleAt = c.NextEligibleAt
	}
	if to.IsTerminal() {
		it.CompletedAt = &at
	}

	it.State = to
	it.UpdatedAt = at
	return nil
}

// ApplyCancel applies a cancellation request: pending and claimed items
// become canceled, running items are flagged so their outcome is
// discarded, and terminal items return workpool.ErrAlreadyTerminal.
// It reports whether the item changed.
func ApplyCancel(it *Item, at time.Time) (bool, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	switch it.State {
	case StatePending, StateClaimed:
		it.State = StateCanceled
		it.CompletedAt = &at
		it.UpdatedAt = at
		return true, nil
	case StateRunning:
		if it.CancelRequested {
			return false, nil
		}
		it.CancelRequested = true
		it.UpdatedAt = at
		return true, nil
	default:
		return false, fmt.Errorf("%w: item %s is %s", workpool.ErrAlreadyTerminal, it.ID, it.State)
	}
}

// ApplyHeartbeat refreshes HeartbeatAt on a running item held by workerID.
func ApplyHeartbeat(it *Item, workerID id.WorkerID, at time.Time) error {
	if it.State != StateRunning {
		return fmt.Errorf("%w: item %s is %s, expected %s", workpool.ErrConflict, it.ID, it.State, StateRunning)
	}
	if it.WorkerID != workerID {
		return fmt.Errorf("%w: item %s is held by %s", workpool.ErrConflict, it.ID, it.WorkerID)
	}
	it.HeartbeatAt = &at
	it.UpdatedAt = at
	return nil
}

// Less reports whether a dispatches before b: lower priority value first,
// then earlier EnqueuedAt, then smaller ID.
func Less(a, b *Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID.String() < b.ID.String()
}

// IsEligible reports whether it can be claimed at now.
func IsEligible(it *Item, now time.Time) bool {
	return it.State == StatePending && !it.NextEligibleAt.After(now)
}

// IsStale reports whether it is active with a heartbeat older than cutoff.
func IsStale(it *Item, cutoff time.Time) bool {
	if !it.State.IsActive() {
		return false
	}
	return it.HeartbeatAt == nil || it.HeartbeatAt.Before(cutoff)
}
