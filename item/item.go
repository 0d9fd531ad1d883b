package item

import (
	"fmt"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
)

// State represents the lifecycle state of a work item.
type State string

const (
	// StatePending means the item is waiting to be claimed.
	StatePending State = "pending"
	// StateClaimed means a dispatcher reserved the item and holds a slot.
	StateClaimed State = "claimed"
	// StateRunning means an executor is invoking the work function.
	StateRunning State = "running"
	// StateSucceeded means the work function returned a result.
	StateSucceeded State = "succeeded"
	// StateFailed means retries were exhausted or the error was permanent.
	StateFailed State = "failed"
	// StateCanceled means the item was canceled before producing an outcome.
	StateCanceled State = "canceled"
)

// States lists every state in lifecycle order.
var States = []State{
	StatePending, StateClaimed, StateRunning,
	StateSucceeded, StateFailed, StateCanceled,
}

// IsTerminal reports whether no further transitions can occur.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// IsActive reports whether the state consumes a pool slot.
func (s State) IsActive() bool {
	return s == StateClaimed || s == StateRunning
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// ParseState converts a string to a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown state %q", workpool.ErrInvalidArgument, s)
	}
	return st, nil
}

// Item is the persisted unit of schedulable work.
type Item struct {
	workpool.Entity

	ID              id.ItemID   `json:"id"`
	Name            string      `json:"name"`
	Payload         []byte      `json:"payload,omitempty"`
	PoolKey         string      `json:"pool_key"`
	Priority        int         `json:"priority"`
	State           State       `json:"state"`
	Attempts        int         `json:"attempts"`
	MaxAttempts     int         `json:"max_attempts"`
	EnqueuedAt      time.Time   `json:"enqueued_at"`
	NextEligibleAt  time.Time   `json:"next_eligible_at"`
	HeartbeatAt     *time.Time  `json:"heartbeat_at,omitempty"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	WorkerID        id.WorkerID `json:"worker_id,omitempty"`
	Result          []byte      `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	cp := *it
	cp.Payload = cloneBytes(it.Payload)
	cp.Result = cloneBytes(it.Result)
	cp.HeartbeatAt = cloneTime(it.HeartbeatAt)
	cp.ClaimedAt = cloneTime(it.ClaimedAt)
	cp.CompletedAt = cloneTime(it.CompletedAt)
	return &cp
}

// Validate checks the fields required to enqueue an item.
func (it *Item) Validate() error {
	switch {
	case it.ID.IsNil():
		return fmt.Errorf("%w: item id is required", workpool.ErrInvalidArgument)
	case it.Name == "":
		return fmt.Errorf("%w: item name is required", workpool.ErrInvalidArgument)
	case it.PoolKey == "":
		return fmt.Errorf("%w: pool key is required", workpool.ErrInvalidArgument)
	case it.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1", workpool.ErrInvalidArgument)
	case it.State != StatePending:
		return fmt.Errorf("%w: new items must be pending, got %q", workpool.ErrInvalidArgument, it.State)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
