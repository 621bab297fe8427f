package store

import (
	"context"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

// Store is the read surface of the Monitor Store: registered monitors,
// their detections and reverse indices, the acknowledgeable news queue, the
// recent-chain window used for reorg detection, and the replay cursor.
//
// Store is a port in the teacher's sense — infra/storage/redis provides the
// concrete implementation, storetest provides an in-memory fake for tests —
// and nothing outside this package and its backends should care which one
// is wired in.
type Store interface {
	// SchemaVersion reports the on-disk schema version, or 0 if the store
	// has never been initialized.
	SchemaVersion(ctx context.Context) (int, error)

	// Cursor returns the height of the last block the engine fully
	// processed, or 0 if no block has been processed yet.
	Cursor(ctx context.Context) (uint64, error)

	// RecentChain returns the stored window of recently processed blocks,
	// oldest first, used by the Reorg Resolver to find a common ancestor
	// with the indexer's current view.
	RecentChain(ctx context.Context) ([]chain.BlockRef, error)

	// Monitors returns every registered monitor, live or not.
	Monitors(ctx context.Context) ([]MonitorRecord, error)

	// MonitorByKey looks up a single monitor by its SpecKey.
	MonitorByKey(ctx context.Context, key SpecKey) (MonitorRecord, bool, error)

	// DetectionsBySpec returns every detection recorded against a monitor,
	// in no particular order.
	DetectionsBySpec(ctx context.Context, key SpecKey) ([]Detection, error)

	// DetectionByTxid looks up a monitor's detection for a specific txid.
	DetectionByTxid(ctx context.Context, key SpecKey, txid chain.Txid) (Detection, bool, error)

	// SpecKeysByTxid returns the monitors that reference a given txid:
	// tx and group monitors from registration, and any monitor whose
	// detection carries that txid. GetTxStatus resolves txids through it.
	SpecKeysByTxid(ctx context.Context, txid chain.Txid) ([]SpecKey, error)

	// SpecKeysByOutpoint returns the monitors (utxo variant) watching a
	// given outpoint for a spend.
	SpecKeysByOutpoint(ctx context.Context, op chain.Outpoint) ([]SpecKey, error)

	// UnackedNews returns every news item not yet acknowledged by the
	// caller, ordered by ascending ID.
	UnackedNews(ctx context.Context) ([]NewsItem, error)

	// NewsBySpec returns every news item ever emitted for a monitor,
	// ordered by ascending ID.
	NewsBySpec(ctx context.Context, key SpecKey) ([]NewsItem, error)

	// AllNews returns every news item, acked or not, ordered by ascending
	// ID. Used by the News Queue's pruning pass (spec §4.6) to find acked
	// items old enough to delete.
	AllNews(ctx context.Context) ([]NewsItem, error)

	// AllDetections returns every detection in the store, live or
	// finalized, across all monitors. Used by the Confirmation Tracker to
	// sweep for confirmation-boundary crossings each tick.
	AllDetections(ctx context.Context) ([]Detection, error)

	// NewBatch opens a new atomic write batch. The monitor facade's Busy
	// guard serializes the batches Tick opens; Monitor, Cancel,
	// DeactivateMonitor and AckNews open theirs outside that guard, so a
	// batch from one of them can be open alongside a Tick batch.
	NewBatch(ctx context.Context) (Batch, error)
}
