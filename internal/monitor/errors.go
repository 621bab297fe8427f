package monitor

import "errors"

// Sentinel errors returned by MonitorApi operations, per spec §6. Wrap with
// fmt.Errorf("%w: ...") where extra context helps; callers should compare
// with errors.Is.
var (
	// ErrBusy is returned by Tick when another Tick is already in flight.
	ErrBusy = errors.New("monitor: tick already in progress")

	// ErrDuplicateActive is returned by Monitor when a live monitor with a
	// different spec already exists for the same (variant, primary key).
	ErrDuplicateActive = errors.New("monitor: duplicate active monitor")

	// ErrNotFound is returned by Cancel and DeactivateMonitor when no
	// monitor exists for the given key.
	ErrNotFound = errors.New("monitor: not found")

	// ErrNotMonitored is returned by GetTxStatus when the txid is not
	// registered under any live or historical monitor.
	ErrNotMonitored = errors.New("monitor: transaction not monitored")

	// ErrDeepReorg is returned by Tick when the indexer's chain has
	// diverged from the stored recent chain by more than the configured
	// reorg window, and requires operator intervention.
	ErrDeepReorg = errors.New("monitor: reorg depth exceeds configured window")

	// ErrInterrupted is returned by Tick when its deadline elapsed before
	// replay reached the indexer's best height. The cursor reflects the
	// last fully committed block; the next Tick resumes from there.
	ErrInterrupted = errors.New("monitor: tick interrupted by deadline")

	// ErrSchemaMismatch is returned by New when the store's schema
	// version does not match the version this build expects.
	ErrSchemaMismatch = errors.New("monitor: store schema version mismatch")
)
