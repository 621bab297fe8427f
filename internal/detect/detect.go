// Package detect implements the Detection Engine: matching a canonical
// block's transactions against registered monitors and producing the
// resulting detections and news, in the deterministic order spec §4.2
// requires (transaction position, then rule order: tx/group, utxo,
// address, pegin, newblock).
//
// Index mirrors the teacher's walletwatch reverse-index pattern
// (getTransactionsByWallet building a map from address to wallet ids)
// generalized to txid/outpoint/script keys, so a block's transactions can
// be matched against thousands of monitors in O(inputs+outputs) instead of
// O(monitors). The reverse-index buckets use internal/pkg/types.DefaultMap
// so a miss is a plain append instead of a comma-ok check, and matching an
// address rule against a transaction's outputs dedupes through
// internal/pkg/types.Set so a monitor watching a script that a
// transaction pays more than once still yields a single effect.
package detect

import (
	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/pegin"
	"github.com/nodewatch/btcmonitor/internal/pkg/types"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// Index is the reverse lookup from txid/outpoint/script to the monitors
// watching them, built fresh from the live monitor set before matching
// each block.
type Index struct {
	byTxid     types.DefaultMap[chain.Txid, []store.SpecKey]
	byOutpoint types.DefaultMap[chain.Outpoint, []store.SpecKey]
	byAddress  types.DefaultMap[string, []store.SpecKey]
	newBlock   []store.SpecKey
	pegins     []pegInEntry
}

type pegInEntry struct {
	key store.SpecKey
	fed pegin.Federation
}

func noSpecKeys() []store.SpecKey { return nil }

// BuildIndex constructs an Index from the currently live monitors. Group
// monitors register every member txid pointing back at the group's key so
// a hit on any member txid resolves to the group.
func BuildIndex(monitors []store.MonitorRecord, federations map[string]pegin.Federation) Index {
	idx := Index{
		byTxid:     types.NewDefaultMap[chain.Txid, []store.SpecKey](noSpecKeys),
		byOutpoint: types.NewDefaultMap[chain.Outpoint, []store.SpecKey](noSpecKeys),
		byAddress:  types.NewDefaultMap[string, []store.SpecKey](noSpecKeys),
	}

	for _, rec := range monitors {
		if !rec.Live() {
			continue
		}
		key, err := rec.Spec.Key()
		if err != nil {
			continue
		}

		switch rec.Spec.Variant {
		case store.VariantTx:
			idx.byTxid.Set(rec.Spec.Txid, append(idx.byTxid.Get(rec.Spec.Txid), key))
		case store.VariantGroup:
			for _, txid := range rec.Spec.GroupTxids {
				idx.byTxid.Set(txid, append(idx.byTxid.Get(txid), key))
			}
		case store.VariantUtxo:
			idx.byOutpoint.Set(rec.Spec.Outpoint, append(idx.byOutpoint.Get(rec.Spec.Outpoint), key))
		case store.VariantAddress:
			if rec.Spec.Script == nil {
				continue
			}
			scriptKey := string(rec.Spec.Script.Bytes())
			idx.byAddress.Set(scriptKey, append(idx.byAddress.Get(scriptKey), key))
		case store.VariantPegIn:
			if fed, ok := federations[rec.Spec.FederationTag]; ok {
				idx.pegins = append(idx.pegins, pegInEntry{key: key, fed: fed})
			}
		case store.VariantNewBlock:
			idx.newBlock = append(idx.newBlock, key)
		}
	}

	return idx
}

// Effect is a single candidate (detection, news) pair produced by matching
// one transaction (or the block itself, for NewBlock) against the index.
type Effect struct {
	SpecKey  store.SpecKey
	Txid     chain.Txid
	Detected bool // false for NewBlock, which has no per-detection record

	PegIn *pegin.Match
}

// Match runs the detection rules against every transaction in block, in
// deterministic order, and returns the effects to apply.
func Match(idx Index, block chain.Block) []Effect {
	var effects []Effect

	for _, tx := range block.Transactions {
		for _, key := range idx.byTxid.Get(tx.Txid) {
			effects = append(effects, Effect{SpecKey: key, Txid: tx.Txid, Detected: true})
		}

		for _, in := range tx.Inputs {
			for _, key := range idx.byOutpoint.Get(in.PrevOut) {
				effects = append(effects, Effect{SpecKey: key, Txid: tx.Txid, Detected: true})
			}
		}

		effects = append(effects, matchAddresses(idx, tx)...)

		for _, entry := range idx.pegins {
			if match, ok := pegin.Detect(entry.fed, tx); ok {
				m := match
				effects = append(effects, Effect{SpecKey: entry.key, Txid: tx.Txid, Detected: true, PegIn: &m})
			}
		}
	}

	for _, key := range idx.newBlock {
		effects = append(effects, Effect{SpecKey: key, Txid: chain.Txid{}, Detected: false})
	}

	return effects
}

// matchAddresses reports one effect per address monitor whose script
// appears in any of tx's outputs, mirroring address_exist_in_output's
// boolean semantics from the prior implementation: a script paid twice in
// the same transaction still yields a single detection, tracked with a
// types.Set of the keys already matched for this tx.
func matchAddresses(idx Index, tx chain.Tx) []Effect {
	matched := types.NewSet[store.SpecKey]()
	var effects []Effect

	for _, out := range tx.Outputs {
		if out.Script == nil {
			continue
		}
		scriptKey := string(out.Script.Bytes())
		for _, key := range idx.byAddress.Get(scriptKey) {
			if _, seen := matched[key]; seen {
				continue
			}
			matched.Add(key)
			effects = append(effects, Effect{SpecKey: key, Txid: tx.Txid, Detected: true})
		}
	}

	return effects
}
