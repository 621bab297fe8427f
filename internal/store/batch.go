package store

import (
	"context"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

// Batch accumulates every mutation a single tick makes and commits them as
// one unit. Backends implement this over a transport-level transaction
// (e.g. a Redis MULTI/EXEC pipeline) so a crash mid-tick never leaves the
// store half-updated.
//
// Mutating methods do not return errors: validation happens before a value
// is handed to the batch, and encoding failures are a backend bug, not a
// caller concern. Only Commit can fail.
type Batch interface {
	// PutMonitor upserts a monitor record.
	PutMonitor(rec MonitorRecord)

	// PutDetection upserts a detection.
	PutDetection(d Detection)

	// RemoveDetection deletes a detection, used when a block housing it is
	// reorged out before it finalizes.
	RemoveDetection(key SpecKey, txid chain.Txid)

	// IndexTxid adds key to the reverse index for txid.
	IndexTxid(txid chain.Txid, key SpecKey)

	// IndexOutpoint adds key to the reverse index for an outpoint.
	IndexOutpoint(op chain.Outpoint, key SpecKey)

	// AppendNews assigns the next strictly-increasing news id to item and
	// queues it for append. The assigned id is returned immediately so
	// callers can cross-reference it within the same tick.
	AppendNews(item NewsItem) uint64

	// AckNews marks news items as acknowledged.
	AckNews(ids []uint64)

	// PruneNews permanently deletes acknowledged news items.
	PruneNews(ids []uint64)

	// SetRecentChain replaces the stored reorg-detection window.
	SetRecentChain(chain []chain.BlockRef)

	// SetCursor advances the replay cursor.
	SetCursor(height uint64)

	// Commit applies every queued mutation atomically.
	Commit(ctx context.Context) error

	// Discard abandons the batch without applying any of its mutations.
	// Safe to call after a successful Commit as a no-op cleanup.
	Discard()
}
