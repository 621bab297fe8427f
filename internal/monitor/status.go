package monitor

import (
	"context"
	"fmt"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// GetTxStatus reports confirmation state for txid by resolving it against
// the by_txid reverse index and reading whichever monitor's detection
// record exists for it. A txid can be watched by more than one monitor
// (e.g. directly and as a group member); the first live detection found
// is reported, since spec §6 defines status per-transaction, not per-spec.
//
// A txid can be registered (the by_txid reverse index references it) yet
// have no current detection, because the block that carried it was
// reorged out — reconcileReorg removes the Detection but never touches
// by_txid. Per spec §8 scenario S2 that is a zero-confirmation,
// non-finalized status, not ErrNotMonitored: the monitor is still live,
// it just hasn't seen the tx on the canonical chain right now.
// ErrNotMonitored is reserved for a txid no monitor ever referenced.
func (s *service) GetTxStatus(ctx context.Context, txid chain.Txid) (TxStatus, error) {
	keys, err := s.store.SpecKeysByTxid(ctx, txid)
	if err != nil {
		return TxStatus{}, err
	}
	if len(keys) == 0 {
		return TxStatus{}, fmt.Errorf("%w: %s", ErrNotMonitored, txid.String())
	}

	for _, key := range keys {
		detection, ok, err := s.store.DetectionByTxid(ctx, key, txid)
		if err != nil {
			return TxStatus{}, err
		}
		if !ok {
			continue
		}

		status := TxStatus{
			Confirmations: detection.Confirmations,
			Finalized:     detection.Finalized,
		}
		block := detection.Block
		status.Block = &block

		if err := s.attachLastReorg(ctx, key, txid, &status); err != nil {
			return TxStatus{}, err
		}
		return status, nil
	}

	status := TxStatus{}
	if err := s.attachLastReorg(ctx, keys[0], txid, &status); err != nil {
		return TxStatus{}, err
	}
	return status, nil
}

// attachLastReorg sets status.LastReorgAt to the height of the most recent
// Reorged news item recorded against (key, txid), if any.
func (s *service) attachLastReorg(ctx context.Context, key store.SpecKey, txid chain.Txid, status *TxStatus) error {
	news, err := s.store.NewsBySpec(ctx, key)
	if err != nil {
		return err
	}
	for i := len(news) - 1; i >= 0; i-- {
		if news[i].Kind == store.NewsReorged && news[i].Txid == txid {
			height := news[i].CreatedAtHeight
			status.LastReorgAt = &height
			break
		}
	}
	return nil
}
