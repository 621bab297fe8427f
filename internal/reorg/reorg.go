// Package reorg implements the Reorg Resolver's common-ancestor search:
// diffing a stored RecentChain window against the indexer's current view to
// find the highest height both agree on, per spec §4.5 step 2.
package reorg

import (
	"context"
	"errors"
	"fmt"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/indexer"
)

// ErrDeepReorg is returned when the divergence between the stored chain and
// the indexer's canonical chain exceeds the configured reorg window,
// requiring operator intervention before the resolver can proceed.
var ErrDeepReorg = errors.New("reorg depth exceeds configured window")

// DeepReorgError carries the observed divergence depth alongside
// ErrDeepReorg so callers can report it (spec §4.5/§8: the
// IndexerError(DeepReorg, depth) news item's depth is the divergence
// depth, not a block height) while still matching errors.Is(err, ErrDeepReorg).
type DeepReorgError struct {
	Depth uint64
}

func (e *DeepReorgError) Error() string {
	return fmt.Sprintf("%s: depth %d", ErrDeepReorg, e.Depth)
}

func (e *DeepReorgError) Unwrap() error {
	return ErrDeepReorg
}

// FindCommonAncestor walks recentChain from its top downward, comparing
// each stored hash against the indexer's canonical hash at that height. It
// returns the greatest height where they agree. If recentChain is empty,
// there is nothing to diverge from and height 0 is returned.
//
// window is the reorg-window depth D: any candidate more than D below the
// stored top is beyond what the resolver promises to auto-handle, so the
// walk stops and reports *DeepReorgError without even querying the indexer
// for it — finding a coincidental match deeper than D would still leave the
// reorg outside the window's guarantee. recentChain must retain more than
// D+1 entries (see spec §3's W = max(D, confirmation_threshold) + margin)
// so that when every candidate at depth 0..D mismatches, the walk reaches a
// depth > D entry and can conclusively report *DeepReorgError instead of
// silently running out of stored history.
func FindCommonAncestor(ctx context.Context, port indexer.Port, recentChain []chain.BlockRef, window uint32) (uint64, error) {
	if len(recentChain) == 0 {
		return 0, nil
	}

	storedTop := recentChain[len(recentChain)-1].Height

	for i := len(recentChain) - 1; i >= 0; i-- {
		ref := recentChain[i]
		depth := storedTop - ref.Height

		if depth > uint64(window) {
			return 0, &DeepReorgError{Depth: depth}
		}

		canonicalHash, err := port.BlockHashAt(ctx, ref.Height)
		if err != nil {
			return 0, err
		}

		if canonicalHash == ref.Hash {
			return ref.Height, nil
		}
	}

	// Every retained entry was within the window yet none matched: the
	// retention margin wasn't enough to prove depth > window on its own,
	// but an exhausted walk with no ancestor found cannot be treated as a
	// clean rewind to height 0 either (spec §8 property 1). Surface it as
	// a deep reorg so the operator widens the window rather than silently
	// losing chain continuity.
	oldest := recentChain[0]
	return 0, &DeepReorgError{Depth: storedTop - oldest.Height}
}
