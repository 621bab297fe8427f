package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/confirm"
	"github.com/nodewatch/btcmonitor/internal/detect"
	"github.com/nodewatch/btcmonitor/internal/pkg/logger"
	"github.com/nodewatch/btcmonitor/internal/reorg"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// Tick implements spec §4.5/§6 tick(): reconcile any reorg against the
// indexer, then replay forward one block at a time, each block its own
// atomic sub-batch so a crash mid-replay resumes cleanly from the cursor.
func (s *service) Tick(ctx context.Context, deadline time.Time) error {
	s.mu.Lock()
	if s.ticking {
		s.mu.Unlock()
		return ErrBusy
	}
	s.ticking = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ticking = false
		s.mu.Unlock()
	}()

	var best uint64
	if err := s.withRetry(ctx, func() error {
		var err error
		best, err = s.indexer.BestHeight(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("querying indexer best height: %w", err)
	}

	recentChain, err := s.store.RecentChain(ctx)
	if err != nil {
		return err
	}

	ancestor, err := s.reconcileReorg(ctx, recentChain, best)
	if err != nil {
		var deepErr *reorg.DeepReorgError
		if errors.As(err, &deepErr) {
			return s.emitDeepReorgFault(ctx, deepErr)
		}
		return err
	}

	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return err
	}
	from := max(cursor, ancestor) + 1

	// prevTip is the cursor height as it stood before this tick's reorg
	// reconciliation ran. Heights at or below it that are replayed here
	// (because a reorg rewound the cursor below them) were already seen by
	// a previous tick; heights above it are genuine forward progress. This
	// distinction drives the NewBlockEmitOnReplay open-question config.
	prevTip := s.lastObservedTip
	if cursor > prevTip {
		prevTip = cursor
	}

	for height := from; height <= best; height++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrInterrupted
		}

		var block chain.Block
		if err := s.withRetry(ctx, func() error {
			var err error
			block, err = s.indexer.BlockAt(ctx, height)
			return err
		}); err != nil {
			return fmt.Errorf("fetching block %d: %w", height, err)
		}

		isReplay := height <= prevTip
		if err := s.processBlock(ctx, block, isReplay); err != nil {
			return err
		}
	}

	if best > s.lastObservedTip {
		s.lastObservedTip = best
	}

	return s.pruneOldAckedNews(ctx, best)
}

// pruneOldAckedNews deletes news items that are both acked and older than
// the reorg window, per spec §4.6: until then a late reorg may still need
// to correct a Finalized into a Reorged, and the original item must stay
// visible to correlate against.
func (s *service) pruneOldAckedNews(ctx context.Context, tip uint64) error {
	all, err := s.store.AllNews(ctx)
	if err != nil {
		return err
	}

	var stale []uint64
	for _, n := range all {
		if !n.Acked {
			continue
		}
		if tip < n.CreatedAtHeight || tip-n.CreatedAtHeight <= uint64(s.reorgWindow) {
			continue
		}
		stale = append(stale, n.ID)
	}
	if len(stale) == 0 {
		return nil
	}

	batch, err := s.store.NewBatch(ctx)
	if err != nil {
		return err
	}
	batch.PruneNews(stale)
	return batch.Commit(ctx)
}

// reconcileReorg finds the common ancestor between the stored recent chain
// and the indexer's canonical chain, and if they diverge, orphans every
// detection above the ancestor and truncates the stored window, per spec
// §4.5 steps 2-3.
func (s *service) reconcileReorg(ctx context.Context, recentChain []chain.BlockRef, best uint64) (uint64, error) {
	if len(recentChain) == 0 {
		return 0, nil
	}

	storedTop := recentChain[len(recentChain)-1].Height

	var ancestor uint64
	if err := s.withRetry(ctx, func() error {
		var err error
		ancestor, err = reorg.FindCommonAncestor(ctx, s.indexer, recentChain, s.reorgWindow)
		return err
	}); err != nil {
		return 0, err
	}

	if ancestor == storedTop {
		return ancestor, nil
	}

	logger.Warn(ctx, "reorg detected", "stored_top", storedTop, "common_ancestor", ancestor)

	detections, err := s.store.AllDetections(ctx)
	if err != nil {
		return 0, err
	}

	batch, err := s.store.NewBatch(ctx)
	if err != nil {
		return 0, err
	}

	for _, d := range detections {
		if d.Block.Height <= ancestor {
			continue
		}

		oldBlock := d.Block
		batch.RemoveDetection(d.SpecKey, d.Txid)
		s.emitNews(ctx, batch, store.NewsItem{
			Kind:            store.NewsReorged,
			SpecKey:         d.SpecKey,
			Txid:            d.Txid,
			OldBlock:        oldBlock,
			CreatedAtHeight: best,
		})
	}

	truncated := make([]chain.BlockRef, 0, len(recentChain))
	for _, ref := range recentChain {
		if ref.Height <= ancestor {
			truncated = append(truncated, ref)
		}
	}
	batch.SetRecentChain(truncated)
	batch.SetCursor(ancestor)

	if err := batch.Commit(ctx); err != nil {
		return 0, err
	}

	return ancestor, nil
}

// emitDeepReorgFault records the single IndexerError(DeepReorg) news item
// spec §4.5 requires and leaves the store otherwise untouched; recovery
// requires an operator to widen the reorg window and re-tick. depth is the
// actual divergence depth (stored_top - common_ancestor) carried by the
// *reorg.DeepReorgError, not a raw chain height.
func (s *service) emitDeepReorgFault(ctx context.Context, cause *reorg.DeepReorgError) error {
	batch, err := s.store.NewBatch(ctx)
	if err != nil {
		return err
	}
	s.emitNews(ctx, batch, store.NewsItem{
		Kind:       store.NewsIndexerError,
		ErrorKind:  store.IndexerErrorDeepReorg,
		ErrorDepth: uint32(cause.Depth),
		ErrorMsg:   cause.Error(),
	})
	if err := batch.Commit(ctx); err != nil {
		return err
	}

	logger.Error(ctx, "deep reorg fault", "error", cause)
	return ErrDeepReorg
}

// processBlock runs the Detection Engine and Confirmation Tracker for one
// newly canonical block and commits the result as a single atomic batch,
// per spec §4.5 step 4. isReplay marks a block being reprocessed because a
// reorg rewound the cursor below it, rather than genuine forward progress;
// per spec §9's open question, NewBlock emission during replay is gated by
// newBlockEmitOnReplay (default false).
func (s *service) processBlock(ctx context.Context, block chain.Block, isReplay bool) error {
	monitors, err := s.store.Monitors(ctx)
	if err != nil {
		return err
	}

	idx := detect.BuildIndex(monitors, s.federations)
	effects := detect.Match(idx, block)

	batch, err := s.store.NewBatch(ctx)
	if err != nil {
		return err
	}

	var fresh []store.Detection
	for _, eff := range effects {
		if !eff.Detected {
			if isReplay && !s.newBlockEmitOnReplay {
				continue
			}
			s.emitNews(ctx, batch, store.NewsItem{
				Kind:            store.NewsNewBlock,
				SpecKey:         eff.SpecKey,
				Block:           block.Ref,
				CreatedAtHeight: block.Ref.Height,
			})
			continue
		}

		var position int
		for _, tx := range block.Transactions {
			if tx.Txid == eff.Txid {
				position = tx.Position
				break
			}
		}

		d := store.Detection{
			SpecKey:          eff.SpecKey,
			Txid:             eff.Txid,
			Block:            block.Ref,
			Position:         position,
			DetectedAtHeight: block.Ref.Height,
			Confirmations:    1,
		}
		batch.PutDetection(d)
		fresh = append(fresh, d)
		// Utxo and Address detections aren't known by txid until the match
		// happens, so the reverse index used by GetTxStatus is populated
		// here rather than at Monitor()-time (see service.go's Monitor,
		// which only indexes Tx/Group/Utxo by their registration-time
		// identifiers).
		batch.IndexTxid(eff.Txid, eff.SpecKey)

		news := store.NewsItem{
			Kind:            store.NewsDetected,
			SpecKey:         eff.SpecKey,
			Txid:            eff.Txid,
			Block:           block.Ref,
			Confirmations:   1,
			CreatedAtHeight: block.Ref.Height,
		}
		if eff.PegIn != nil {
			news.DepositValue = eff.PegIn.DepositValue
			news.PegInRecipient = eff.PegIn.Recipient
			news.HasPegInPayload = true
		}
		s.emitNews(ctx, batch, news)
	}

	if err := s.advanceConfirmations(ctx, batch, block.Ref, fresh); err != nil {
		batch.Discard()
		return err
	}

	recentChain, err := s.store.RecentChain(ctx)
	if err != nil {
		batch.Discard()
		return err
	}
	recentChain = append(recentChain, block.Ref)
	recentChain = trimWindow(recentChain, s.chainRetentionWindow)
	batch.SetRecentChain(recentChain)
	batch.SetCursor(block.Ref.Height)

	return batch.Commit(ctx)
}

// advanceConfirmations runs the Confirmation Tracker (spec §4.4) over
// every live detection at the new tip, emitting ConfirmationUpdate and
// Finalized news as boundaries are crossed. Group finalization needs every
// member's state, so it is resolved here where store access is available.
func (s *service) advanceConfirmations(ctx context.Context, batch store.Batch, tip chain.BlockRef, fresh []store.Detection) error {
	detections, err := s.store.AllDetections(ctx)
	if err != nil {
		return err
	}

	// fresh holds the detections made in this block, which are only staged
	// in batch. Their Detected news already carries the first confirmation,
	// so for them only the threshold check applies.
	stored := len(detections)
	detections = append(detections, fresh...)

	// bySpec mirrors the full detection set, kept current as this pass
	// updates confirmations, so group finalization can inspect every
	// member's post-update state without re-reading the uncommitted batch.
	bySpec := make(map[store.SpecKey]map[chain.Txid]store.Detection, len(detections))
	for _, d := range detections {
		m, ok := bySpec[d.SpecKey]
		if !ok {
			m = make(map[chain.Txid]store.Detection)
			bySpec[d.SpecKey] = m
		}
		m[d.Txid] = d
	}

	touchedGroups := make(map[store.SpecKey]struct{})

	for i, d := range detections {
		if d.Finalized || d.Block.Height > tip.Height {
			continue
		}

		prev := d.Confirmations
		if i >= stored {
			prev = 0
		}
		current := confirm.Compute(d.Block.Height, tip.Height)
		if current == prev {
			continue
		}
		d.Confirmations = current

		rec, ok, err := s.store.MonitorByKey(ctx, d.SpecKey)
		if err != nil {
			return err
		}
		isGroup := ok && rec.Spec.Variant == store.VariantGroup

		switch {
		case confirm.ReachedThreshold(prev, current, s.confirmationThreshold):
			d.Finalized = true
			if isGroup {
				touchedGroups[d.SpecKey] = struct{}{}
			} else {
				s.emitNews(ctx, batch, store.NewsItem{
					Kind:            store.NewsFinalized,
					SpecKey:         d.SpecKey,
					Txid:            d.Txid,
					Block:           d.Block,
					Confirmations:   current,
					CreatedAtHeight: tip.Height,
				})
			}
		case i < stored && confirm.CrossedBoundary(prev, current, s.confirmationThreshold):
			s.emitNews(ctx, batch, store.NewsItem{
				Kind:            store.NewsConfirmationUpdate,
				SpecKey:         d.SpecKey,
				Txid:            d.Txid,
				Block:           d.Block,
				Confirmations:   current,
				CreatedAtHeight: tip.Height,
			})
		}

		batch.PutDetection(d)
		bySpec[d.SpecKey][d.Txid] = d
	}

	for key := range touchedGroups {
		rec, ok, err := s.store.MonitorByKey(ctx, key)
		if err != nil {
			return err
		}
		if !ok || len(rec.Spec.GroupTxids) == 0 {
			continue
		}

		allFinalized := true
		for _, txid := range rec.Spec.GroupTxids {
			member, ok := bySpec[key][txid]
			if !ok || !member.Finalized {
				allFinalized = false
				break
			}
		}
		if allFinalized {
			s.emitNews(ctx, batch, store.NewsItem{
				Kind:            store.NewsFinalized,
				SpecKey:         key,
				CreatedAtHeight: tip.Height,
			})
		}
	}

	return nil
}

// trimWindow caps the stored RecentChain at window+1 entries. window here
// is the retention width (spec §3's W = max(D, confirmation_threshold) +
// margin), deliberately wider than the deep-reorg threshold D passed to
// reorg.FindCommonAncestor, so a divergence exactly D deep still leaves an
// entry beyond it to prove the depth rather than exhausting the window.
func trimWindow(chain []chain.BlockRef, window uint32) []chain.BlockRef {
	max := int(window) + 1
	if len(chain) <= max {
		return chain
	}
	return chain[len(chain)-max:]
}
