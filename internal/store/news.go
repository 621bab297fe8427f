package store

import "github.com/nodewatch/btcmonitor/internal/chain"

// NewsKind enumerates the kinds of durable notification the engine emits.
type NewsKind string

const (
	NewsDetected           NewsKind = "Detected"
	NewsConfirmationUpdate NewsKind = "ConfirmationUpdate"
	NewsFinalized          NewsKind = "Finalized"
	NewsReorged            NewsKind = "Reorged"
	NewsNewBlock           NewsKind = "NewBlock"
	NewsIndexerError       NewsKind = "IndexerError"
)

// IndexerErrorKind distinguishes the causes of an IndexerError news item.
type IndexerErrorKind string

const (
	IndexerErrorTransient IndexerErrorKind = "transient"
	IndexerErrorDeepReorg IndexerErrorKind = "deep_reorg"
)

// NewsItem is a durable, acknowledgeable notification of a monitor state
// change. Fields outside of a kind's relevance are left zero; NewsItem is
// intentionally a flat struct rather than an interface hierarchy so it can
// be stored as a single hash/record without a polymorphic payload codec.
type NewsItem struct {
	ID              uint64
	Kind            NewsKind
	SpecKey         SpecKey
	CreatedAtHeight uint64
	Acked           bool

	// Detected / ConfirmationUpdate / Finalized / Reorged
	Txid          chain.Txid
	Block         chain.BlockRef
	Confirmations uint32

	// Reorged
	OldBlock chain.BlockRef

	// PegIn Detected
	DepositValue     uint64
	PegInRecipient   [20]byte
	HasPegInPayload  bool

	// IndexerError
	ErrorKind  IndexerErrorKind
	ErrorDepth uint32
	ErrorMsg   string
}
