package workpool

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("workpool: no store configured")
	ErrStoreClosed = errors.New("workpool: store closed")

	// Request errors, returned synchronously at enqueue time.
	ErrInvalidArgument = errors.New("workpool: invalid argument")
	ErrPoolUnknown     = errors.New("workpool: pool not configured")
	ErrNoHandler       = errors.New("workpool: no handler registered")

	// Lookup errors.
	ErrItemNotFound      = errors.New("workpool: item not found")
	ErrItemAlreadyExists = errors.New("workpool: item already exists")

	// Transition errors.
	ErrConflict        = errors.New("workpool: state conflict")
	ErrPoolSaturated   = errors.New("workpool: pool at concurrency limit")
	ErrAlreadyTerminal = errors.New("workpool: item already terminal")

	// Outcome errors.
	ErrWorkerLost = errors.New("workpool: worker lost")
	ErrGiveUp     = errors.New("workpool: retries exhausted")
	ErrCanceled   = errors.New("workpool: item canceled")
)
