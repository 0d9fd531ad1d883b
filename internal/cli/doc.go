// Package cli contains the Cobra commands of the workpool binary: a
// maintenance server and admin commands that operate directly on the
// configured ledger.
package cli
