package store

import "github.com/nodewatch/btcmonitor/internal/chain"

// Detection records that a monitored entity was observed in a specific
// block. It stays "alive" — eligible for confirmation advancement — while
// its block is canonical, and is removed (orphaned) if the block is
// reorged out before the entity finalizes.
type Detection struct {
	SpecKey          SpecKey
	Txid             chain.Txid
	Block            chain.BlockRef
	Position         int
	DetectedAtHeight uint64

	Confirmations uint32
	Finalized     bool
}
