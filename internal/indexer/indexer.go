// Package indexer defines the IndexerPort: the boundary between the
// monitoring engine and whatever full node or block-source serves canonical
// chain data. Concrete transports live under internal/infra/indexer.
package indexer

import (
	"context"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

// Port is the read-only view of the canonical chain the engine needs each
// tick: the current tip height, a block's hash at a given height (for
// common-ancestor search), a block's full transaction set (for replay),
// and the point-query operations spec.md §6 lists alongside them
// (`get_tx`, `utxo_spent_by`, `ready`). Implementations are stateless
// aside from their connection; callers apply their own retry policy
// around each call.
type Port interface {
	// BestHeight returns the indexer's current chain tip height.
	BestHeight(ctx context.Context) (uint64, error)

	// BlockHashAt returns the canonical block hash at height, used to
	// compare against a stored RecentChain entry without fetching the
	// full block.
	BlockHashAt(ctx context.Context, height uint64) (chain.Txid, error)

	// BlockAt returns the full canonical block at height, decoded into
	// the engine's Tx/TxIn/TxOut shapes.
	BlockAt(ctx context.Context, height uint64) (chain.Block, error)

	// GetTx returns txid decoded into the engine's Tx shape along with
	// the block it's confirmed in. ok is false if the indexer has no
	// record of txid (spec §6 `get_tx(txid) → Option<(Tx, BlockRef)>`);
	// this is a point query the engine's own block replay never needs,
	// kept for callers (CLI tooling, future fallbacks) that want to
	// resolve a single txid without walking a block.
	GetTx(ctx context.Context, txid chain.Txid) (chain.Tx, chain.BlockRef, bool, error)

	// UtxoSpentBy reports whether outpoint is currently spent. spent is
	// false if the output is unspent. An outpoint the indexer has no
	// unspent output for is reported as spent, whether it was spent or
	// never existed (bitcoinrpc cannot tell the two apart). A Bitcoin Core-style
	// JSON-RPC surface can confirm THAT an output is spent via
	// `gettxout` but not resolve WHICH transaction spent it without a
	// full index, so txid is only ever populated by an implementation
	// that has one; a spent=true, txid=zero result still answers spec §6
	// `utxo_spent_by(outpoint) → Option<Txid>`'s "is it gone" half.
	UtxoSpentBy(ctx context.Context, outpoint chain.Outpoint) (txid chain.Txid, spent bool, err error)

	// Ready reports whether the indexer itself is in a state to serve
	// canonical data (node reachable and not still in initial block
	// download), per spec §6 `ready() → bool`. This is distinct from the
	// facade's own IsReady, which additionally compares the stored
	// cursor against BestHeight.
	Ready(ctx context.Context) bool
}
