// Package worker provides the execution side of workpool: an Executor that
// runs a claimed item through middleware and its registered handler, a
// Pool that dispatches claims and keeps running items alive with
// heartbeats, a Reaper that reclaims items whose worker disappeared, and a
// Janitor that purges old terminal items.
//
// All state changes go through the ledger as compare-and-set transitions
// guarded by the claiming worker's ID. An executor that loses a race
// (the item was canceled or reaped) drops its outcome silently.
package worker
