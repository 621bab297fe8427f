// Package apierr maps the monitor's sentinel errors to the process exit
// codes defined in spec §6 ("Exit codes: 0 ok, 2 config, 3 store, 4 indexer,
// 5 deep-reorg"), the way the CLI shell translates a returned error into a
// process outcome.
package apierr

import (
	"errors"

	"github.com/nodewatch/btcmonitor/internal/monitor"
)

// Exit codes per spec §6's CLI surface.
const (
	ExitOK        = 0
	ExitConfig    = 2
	ExitStore     = 3
	ExitIndexer   = 4
	ExitDeepReorg = 5
)

// Code resolves err to one of the exit codes above. A nil error resolves to
// ExitOK. Facade-level sentinels (Busy, DuplicateActive, NotFound,
// NotMonitored, Interrupted) all originate from store state and fall under
// ExitStore, since spec §6's CLI surface defines only four non-zero codes.
// Errors that match none of the recognized sentinels fall back to
// ExitIndexer: Tick wraps exhausted indexer retries in plain fmt.Errorf
// without a dedicated sentinel, so an unrecognized failure during tick is
// most often a network failure, not a store one.
func Code(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, monitor.ErrDeepReorg):
		return ExitDeepReorg
	case errors.Is(err, monitor.ErrSchemaMismatch):
		return ExitConfig
	case errors.Is(err, monitor.ErrBusy),
		errors.Is(err, monitor.ErrDuplicateActive),
		errors.Is(err, monitor.ErrNotFound),
		errors.Is(err, monitor.ErrNotMonitored),
		errors.Is(err, monitor.ErrInterrupted):
		return ExitStore
	default:
		return ExitIndexer
	}
}
