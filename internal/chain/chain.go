// Package chain defines the minimal Bitcoin primitives shared across the
// monitor: transaction ids, outpoints, block references, and the plain
// transaction/block shapes the Indexer Adapter decodes indexer responses
// into.
//
// Txid and Outpoint are the same types used by go-sdk-based overlay nodes
// (github.com/bsv-blockchain/go-sdk), so a stable, comparable key is always
// a String() call away instead of a bespoke encoding.
package chain

import (
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Txid is a 32-byte transaction identifier.
type Txid = chainhash.Hash

// Outpoint identifies a transaction output being spent.
type Outpoint = transaction.Outpoint

// NewOutpoint builds an Outpoint from a txid and output index.
func NewOutpoint(txid Txid, index uint32) Outpoint {
	return Outpoint{Txid: txid, Index: index}
}

// BlockRef identifies a block by height and hash. Two BlockRefs with the
// same height but different hashes describe competing chain tips.
type BlockRef struct {
	Height uint64
	Hash   Txid
}

// TxIn is the subset of a transaction input the monitor cares about: which
// prior output it spends.
type TxIn struct {
	PrevOut Outpoint
}

// TxOut is the subset of a transaction output the monitor cares about:
// its value and locking script.
type TxOut struct {
	Value  uint64
	Script *LockingScript
}

// Tx is a confirmed transaction as decoded from an indexer block payload.
// Position is the transaction's zero-based index within its block, used to
// order detection and confirmation events deterministically.
type Tx struct {
	Txid     Txid
	Position int
	Inputs   []TxIn
	Outputs  []TxOut
}

// Block is a canonical block as reported by the indexer, together with all
// of its transactions in on-chain order.
type Block struct {
	Ref          BlockRef
	Transactions []Tx
}
