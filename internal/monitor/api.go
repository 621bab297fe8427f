// Package monitor implements the Monitor Facade: the MonitorApi surface of
// spec §6, stitching together the Indexer Adapter, Monitor Store, Detection
// Engine, Confirmation Tracker, and Reorg Resolver behind a single-writer
// service, in the shape of the teacher's blockproc.Service.
package monitor

import (
	"context"
	"time"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// TxStatus is the result of GetTxStatus: a snapshot of a monitored
// transaction's confirmation state.
type TxStatus struct {
	Confirmations uint32
	Block         *chain.BlockRef
	Finalized     bool
	LastReorgAt   *uint64
}

// Api is the MonitorApi surface described in spec §6.
type Api interface {
	// IsReady reports whether the store's cursor has caught up to the
	// indexer's current best height.
	IsReady(ctx context.Context) (bool, error)

	// Tick advances the engine by one reconciliation cycle: reconcile
	// reorgs, replay new blocks, and update confirmations. If deadline is
	// non-zero, Tick returns ErrInterrupted if it elapses mid-replay
	// without losing already-committed progress.
	Tick(ctx context.Context, deadline time.Time) error

	// Monitor registers a new monitor. Registering a spec identical to a
	// live monitor's is a no-op that returns nil; a different spec with the
	// same (variant, primary key) as a live monitor returns
	// ErrDuplicateActive.
	Monitor(ctx context.Context, spec store.MonitorSpec) error

	// Cancel terminates a monitor: it stops producing new events but
	// keeps its news queued until acked. Returns ErrNotFound if unknown.
	Cancel(ctx context.Context, spec store.MonitorSpec) error

	// DeactivateMonitor pauses a monitor without cancelling it: no new
	// events while inactive, resumes on the next Monitor call for the
	// same key. Returns ErrNotFound if unknown.
	DeactivateMonitor(ctx context.Context, spec store.MonitorSpec) error

	// GetMonitors returns every registered monitor, live or not.
	GetMonitors(ctx context.Context) ([]store.MonitorRecord, error)

	// GetNews returns unacked news items, ordered by ascending id.
	GetNews(ctx context.Context) ([]store.NewsItem, error)

	// AckNews marks the listed news ids acknowledged. Acking an unknown
	// id is a no-op.
	AckNews(ctx context.Context, ids []uint64) error

	// GetTxStatus reports a monitored transaction's confirmation state.
	// Returns ErrNotMonitored if txid is not registered under any
	// monitor.
	GetTxStatus(ctx context.Context, txid chain.Txid) (TxStatus, error)

	// GetConfirmationThreshold returns the configured finalization
	// threshold.
	GetConfirmationThreshold(ctx context.Context) uint32

	// GetMonitorHeight returns the store's current cursor.
	GetMonitorHeight(ctx context.Context) (uint64, error)
}
