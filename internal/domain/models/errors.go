package models

import "errors"

var (
	// ErrInsufficientData means the bar window or the labeled sample set is too small.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNotTrained means the ensemble has no trained state yet; callers use the heuristic fallback.
	ErrNotTrained = errors.New("model not trained")
	// ErrAlreadyClosed is returned for a close attempt on a simulation that is already closed.
	ErrAlreadyClosed = errors.New("simulation already closed")
	// ErrUpstreamUnavailable marks a failed or timed-out market data or price fetch.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTrainingFailed means a fit failed or produced degenerate output. Prior state is kept.
	ErrTrainingFailed = errors.New("training failed")
	// ErrLedgerCorrupted signals an id collision or a broken state invariant in the simulation ledger.
	ErrLedgerCorrupted = errors.New("simulation ledger corrupted")
	// ErrLedgerHalted is returned for every write after corruption was detected.
	ErrLedgerHalted = errors.New("simulation ledger halted")
	// ErrSimulationNotFound is returned when a simulation id is unknown.
	ErrSimulationNotFound = errors.New("simulation not found")
	// ErrStateNotFound is returned when a state slot has never been written.
	ErrStateNotFound = errors.New("state not found")
	// ErrInvalidPrice is returned when an entry or exit price is not positive.
	ErrInvalidPrice = errors.New("price must be positive")
)
