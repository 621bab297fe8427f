package redis

import (
	"encoding/json"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// The wire shapes below mirror store's domain types field-for-field but
// swap chain.Txid/chain.Outpoint for their string encodings, since
// chainhash.Hash and transaction.Outpoint don't themselves implement
// json.Marshaler in a way this package can rely on without pulling in the
// full go-sdk transaction codec.

type monitorSpecWire struct {
	Variant       store.Variant `json:"variant"`
	Txid          string        `json:"txid,omitempty"`
	GroupID       string        `json:"group_id,omitempty"`
	GroupTxids    []string      `json:"group_txids,omitempty"`
	Outpoint      string        `json:"outpoint,omitempty"`
	FederationTag string        `json:"federation_tag,omitempty"`
	ScriptHex     string        `json:"script_hex,omitempty"`
	ContextTag    string        `json:"context_tag,omitempty"`
}

type monitorRecordWire struct {
	Spec  monitorSpecWire    `json:"spec"`
	State store.MonitorState `json:"state"`
}

func encodeMonitorRecord(rec store.MonitorRecord) ([]byte, error) {
	wire := monitorRecordWire{
		Spec: monitorSpecWire{
			Variant:       rec.Spec.Variant,
			ContextTag:    rec.Spec.ContextTag,
			GroupID:       rec.Spec.GroupID,
			FederationTag: rec.Spec.FederationTag,
		},
		State: rec.State,
	}
	if rec.Spec.Variant == store.VariantTx {
		wire.Spec.Txid = rec.Spec.Txid.String()
	}
	if rec.Spec.Variant == store.VariantUtxo {
		wire.Spec.Outpoint = rec.Spec.Outpoint.String()
	}
	if rec.Spec.Variant == store.VariantAddress && rec.Spec.Script != nil {
		wire.Spec.ScriptHex = hexEncode(rec.Spec.Script.Bytes())
	}
	for _, txid := range rec.Spec.GroupTxids {
		wire.Spec.GroupTxids = append(wire.Spec.GroupTxids, txid.String())
	}
	return json.Marshal(wire)
}

func decodeMonitorRecord(data []byte) (store.MonitorRecord, error) {
	var wire monitorRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return store.MonitorRecord{}, err
	}

	spec := store.MonitorSpec{
		Variant:       wire.Spec.Variant,
		GroupID:       wire.Spec.GroupID,
		FederationTag: wire.Spec.FederationTag,
		ContextTag:    wire.Spec.ContextTag,
	}

	if wire.Spec.Txid != "" {
		txid, err := chainhashFromString(wire.Spec.Txid)
		if err != nil {
			return store.MonitorRecord{}, err
		}
		spec.Txid = txid
	}
	if wire.Spec.Outpoint != "" {
		op, err := outpointFromString(wire.Spec.Outpoint)
		if err != nil {
			return store.MonitorRecord{}, err
		}
		spec.Outpoint = op
	}
	if wire.Spec.ScriptHex != "" {
		raw, err := hexDecode(wire.Spec.ScriptHex)
		if err != nil {
			return store.MonitorRecord{}, err
		}
		spec.Script = chain.NewLockingScript(raw)
	}
	for _, s := range wire.Spec.GroupTxids {
		txid, err := chainhashFromString(s)
		if err != nil {
			return store.MonitorRecord{}, err
		}
		spec.GroupTxids = append(spec.GroupTxids, txid)
	}

	return store.MonitorRecord{Spec: spec, State: wire.State}, nil
}

type detectionWire struct {
	SpecKey          store.SpecKey  `json:"spec_key"`
	Txid             string         `json:"txid"`
	BlockHeight      uint64         `json:"block_height"`
	BlockHash        string         `json:"block_hash"`
	Position         int            `json:"position"`
	DetectedAtHeight uint64         `json:"detected_at_height"`
	Confirmations    uint32         `json:"confirmations"`
	Finalized        bool           `json:"finalized"`
}

func encodeDetection(d store.Detection) ([]byte, error) {
	return json.Marshal(detectionWire{
		SpecKey:          d.SpecKey,
		Txid:             d.Txid.String(),
		BlockHeight:      d.Block.Height,
		BlockHash:        d.Block.Hash.String(),
		Position:         d.Position,
		DetectedAtHeight: d.DetectedAtHeight,
		Confirmations:    d.Confirmations,
		Finalized:        d.Finalized,
	})
}

func decodeDetection(data []byte) (store.Detection, error) {
	var wire detectionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return store.Detection{}, err
	}

	txid, err := chainhashFromString(wire.Txid)
	if err != nil {
		return store.Detection{}, err
	}
	blockHash, err := chainhashFromString(wire.BlockHash)
	if err != nil {
		return store.Detection{}, err
	}

	return store.Detection{
		SpecKey: wire.SpecKey,
		Txid:    txid,
		Block: chain.BlockRef{
			Height: wire.BlockHeight,
			Hash:   blockHash,
		},
		Position:         wire.Position,
		DetectedAtHeight: wire.DetectedAtHeight,
		Confirmations:    wire.Confirmations,
		Finalized:        wire.Finalized,
	}, nil
}

// newsItemWire deliberately has no Acked field: acked status lives in the
// separate ackedIndexKey Set (see keys.go) rather than in this immutable
// blob, so acking a news item never requires reading and rewriting it.
type newsItemWire struct {
	ID              uint64                 `json:"id"`
	Kind            store.NewsKind         `json:"kind"`
	SpecKey         store.SpecKey          `json:"spec_key"`
	CreatedAtHeight uint64                 `json:"created_at_height"`
	Txid            string                 `json:"txid,omitempty"`
	BlockHeight     uint64                 `json:"block_height,omitempty"`
	BlockHash       string                 `json:"block_hash,omitempty"`
	Confirmations   uint32                 `json:"confirmations,omitempty"`
	OldBlockHeight  uint64                 `json:"old_block_height,omitempty"`
	OldBlockHash    string                 `json:"old_block_hash,omitempty"`
	DepositValue    uint64                 `json:"deposit_value,omitempty"`
	PegInRecipient  string                 `json:"pegin_recipient,omitempty"`
	ErrorKind       store.IndexerErrorKind `json:"error_kind,omitempty"`
	ErrorDepth      uint32                 `json:"error_depth,omitempty"`
	ErrorMsg        string                 `json:"error_msg,omitempty"`
}

func encodeNewsItem(n store.NewsItem) ([]byte, error) {
	wire := newsItemWire{
		ID:              n.ID,
		Kind:            n.Kind,
		SpecKey:         n.SpecKey,
		CreatedAtHeight: n.CreatedAtHeight,
		Confirmations:   n.Confirmations,
		DepositValue:    n.DepositValue,
		ErrorKind:       n.ErrorKind,
		ErrorDepth:      n.ErrorDepth,
		ErrorMsg:        n.ErrorMsg,
	}

	var zeroTxid chain.Txid
	if n.Txid != zeroTxid {
		wire.Txid = n.Txid.String()
	}
	if n.Block.Hash != zeroTxid || n.Block.Height != 0 {
		wire.BlockHeight = n.Block.Height
		wire.BlockHash = n.Block.Hash.String()
	}
	if n.OldBlock.Hash != zeroTxid || n.OldBlock.Height != 0 {
		wire.OldBlockHeight = n.OldBlock.Height
		wire.OldBlockHash = n.OldBlock.Hash.String()
	}
	if n.HasPegInPayload {
		wire.PegInRecipient = hexEncode(n.PegInRecipient[:])
	}

	return json.Marshal(wire)
}

func decodeNewsItem(data []byte) (store.NewsItem, error) {
	var wire newsItemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return store.NewsItem{}, err
	}

	item := store.NewsItem{
		ID:              wire.ID,
		Kind:            wire.Kind,
		SpecKey:         wire.SpecKey,
		CreatedAtHeight: wire.CreatedAtHeight,
		Confirmations:   wire.Confirmations,
		DepositValue:    wire.DepositValue,
		ErrorKind:       wire.ErrorKind,
		ErrorDepth:      wire.ErrorDepth,
		ErrorMsg:        wire.ErrorMsg,
	}

	if wire.Txid != "" {
		txid, err := chainhashFromString(wire.Txid)
		if err != nil {
			return store.NewsItem{}, err
		}
		item.Txid = txid
	}
	if wire.BlockHash != "" {
		hash, err := chainhashFromString(wire.BlockHash)
		if err != nil {
			return store.NewsItem{}, err
		}
		item.Block = chain.BlockRef{Height: wire.BlockHeight, Hash: hash}
	}
	if wire.OldBlockHash != "" {
		hash, err := chainhashFromString(wire.OldBlockHash)
		if err != nil {
			return store.NewsItem{}, err
		}
		item.OldBlock = chain.BlockRef{Height: wire.OldBlockHeight, Hash: hash}
	}
	if wire.PegInRecipient != "" {
		raw, err := hexDecode(wire.PegInRecipient)
		if err != nil {
			return store.NewsItem{}, err
		}
		copy(item.PegInRecipient[:], raw)
		item.HasPegInPayload = true
	}

	return item, nil
}

func encodeBlockRef(ref chain.BlockRef) string {
	return ref.Hash.String()
}
