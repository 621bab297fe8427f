// Package store defines the durable state of the monitor — registered
// monitors, detections and their reverse indices, the news queue, the
// recent-chain window, and the global cursor — as a storage-agnostic port.
//
// Concrete backends (see internal/infra/storage/redis) implement Store and
// Batch; every mutation the engine makes during a tick goes through a
// single Batch so it commits or discards as one unit, matching the
// per-tick atomicity the monitor facade relies on.
package store

import (
	"errors"
	"fmt"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

// Variant identifies which of the six MonitorSpec shapes a record is.
//
// Address supplements the original spec's five variants: it watches an
// arbitrary output script the way the prior implementation's
// address_exist_in_output/get_address_news pair did, but folds into this
// store's uniform Detection/News/ack model instead of the original's
// separate per-address acknowledgment path, so every variant shares one
// lifecycle.
type Variant string

const (
	VariantTx       Variant = "tx"
	VariantGroup    Variant = "group"
	VariantUtxo     Variant = "utxo"
	VariantPegIn    Variant = "pegin"
	VariantNewBlock Variant = "newblock"
	VariantAddress  Variant = "address"
)

// newBlockSentinel is the constant primary key for the (single) NewBlock
// monitor. The data model allows only one NewBlock registration per store,
// per spec: its primary key is a sentinel, not a caller-supplied value.
const newBlockSentinel = "sentinel"

// ErrInvalidSpec is returned when a MonitorSpec's variant-specific fields
// are missing or inconsistent with its Variant tag.
var ErrInvalidSpec = errors.New("invalid monitor spec")

// SpecKey is the stable, storage-level identity of a monitor: a string
// combining its Variant and primary key (txid / group id / outpoint /
// federation tag / sentinel). (Variant, primary key) is unique in the
// store; SpecKey is how that uniqueness is enforced and looked up.
type SpecKey string

// MonitorSpec is the polymorphic monitor registration the caller submits to
// Monitor(). Only the fields relevant to Variant are populated; the rest
// are zero.
type MonitorSpec struct {
	Variant Variant

	Txid       chain.Txid   // Tx
	GroupID    string       // Group
	GroupTxids []chain.Txid // Group

	Outpoint chain.Outpoint // Utxo

	FederationTag string // PegIn

	Script *chain.LockingScript // Address

	ContextTag string // all variants
}

// Key computes the SpecKey for a spec, validating that its variant-specific
// fields are populated.
func (s MonitorSpec) Key() (SpecKey, error) {
	switch s.Variant {
	case VariantTx:
		var zero chain.Txid
		if s.Txid == zero {
			return "", fmt.Errorf("%w: tx monitor missing txid", ErrInvalidSpec)
		}
		return SpecKey(fmt.Sprintf("tx/%s", s.Txid.String())), nil
	case VariantGroup:
		if s.GroupID == "" || len(s.GroupTxids) == 0 {
			return "", fmt.Errorf("%w: group monitor missing group id or members", ErrInvalidSpec)
		}
		return SpecKey(fmt.Sprintf("group/%s", s.GroupID)), nil
	case VariantUtxo:
		return SpecKey(fmt.Sprintf("utxo/%s", s.Outpoint.String())), nil
	case VariantPegIn:
		if s.FederationTag == "" {
			return "", fmt.Errorf("%w: pegin monitor missing federation tag", ErrInvalidSpec)
		}
		return SpecKey(fmt.Sprintf("pegin/%s", s.FederationTag)), nil
	case VariantNewBlock:
		return SpecKey(fmt.Sprintf("newblock/%s", newBlockSentinel)), nil
	case VariantAddress:
		if s.Script == nil || len(s.Script.Bytes()) == 0 {
			return "", fmt.Errorf("%w: address monitor missing script", ErrInvalidSpec)
		}
		return SpecKey(fmt.Sprintf("address/%x", s.Script.Bytes())), nil
	default:
		return "", fmt.Errorf("%w: unknown variant %q", ErrInvalidSpec, s.Variant)
	}
}

// MonitorState is the mutable lifecycle of a registered monitor.
type MonitorState struct {
	Active          bool
	Cancelled       bool
	CreatedAtHeight uint64
	LastEventHeight uint64
}

// MonitorRecord pairs a spec with its current state, as returned by
// GetMonitors and stored under monitors/<variant>/<pk>.
type MonitorRecord struct {
	Spec  MonitorSpec
	State MonitorState
}

// Live reports whether the monitor should currently be matched against new
// blocks: neither cancelled nor paused.
func (r MonitorRecord) Live() bool {
	return r.State.Active && !r.State.Cancelled
}
