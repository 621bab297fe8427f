package reorg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

// fakePort is a minimal indexer.Port backed by a height->hash map, enough to
// exercise the common-ancestor search without a real transport.
type fakePort struct {
	hashes map[uint64]chain.Txid
}

func (f *fakePort) BestHeight(ctx context.Context) (uint64, error) {
	var max uint64
	for h := range f.hashes {
		if h > max {
			max = h
		}
	}
	return max, nil
}

func (f *fakePort) BlockHashAt(ctx context.Context, height uint64) (chain.Txid, error) {
	h, ok := f.hashes[height]
	if !ok {
		return chain.Txid{}, errors.New("no block at that height")
	}
	return h, nil
}

func (f *fakePort) BlockAt(ctx context.Context, height uint64) (chain.Block, error) {
	return chain.Block{}, errors.New("not implemented")
}

func (f *fakePort) GetTx(ctx context.Context, txid chain.Txid) (chain.Tx, chain.BlockRef, bool, error) {
	return chain.Tx{}, chain.BlockRef{}, false, errors.New("not implemented")
}

func (f *fakePort) UtxoSpentBy(ctx context.Context, outpoint chain.Outpoint) (chain.Txid, bool, error) {
	return chain.Txid{}, false, errors.New("not implemented")
}

func (f *fakePort) Ready(ctx context.Context) bool {
	return true
}

func hashFor(b byte) chain.Txid {
	var h chain.Txid
	h[0] = b
	return h
}

func TestFindCommonAncestorEmptyChain(t *testing.T) {
	port := &fakePort{}
	height, err := FindCommonAncestor(context.Background(), port, nil, 10)
	require.NoError(t, err)
	assert.Zero(t, height)
}

func TestFindCommonAncestorNoReorg(t *testing.T) {
	stored := []chain.BlockRef{
		{Height: 98, Hash: hashFor(98)},
		{Height: 99, Hash: hashFor(99)},
		{Height: 100, Hash: hashFor(100)},
	}
	port := &fakePort{hashes: map[uint64]chain.Txid{
		98:  hashFor(98),
		99:  hashFor(99),
		100: hashFor(100),
	}}

	height, err := FindCommonAncestor(context.Background(), port, stored, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), height, "tip agrees")
}

func TestFindCommonAncestorShallowReorg(t *testing.T) {
	stored := []chain.BlockRef{
		{Height: 98, Hash: hashFor(98)},
		{Height: 99, Hash: hashFor(0xAA)},  // diverged
		{Height: 100, Hash: hashFor(0xBB)}, // diverged
	}
	port := &fakePort{hashes: map[uint64]chain.Txid{
		98:  hashFor(98),
		99:  hashFor(99),
		100: hashFor(100),
	}}

	height, err := FindCommonAncestor(context.Background(), port, stored, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(98), height, "last agreeing height")
}

func TestFindCommonAncestorDeepReorgExceedsWindow(t *testing.T) {
	stored := []chain.BlockRef{
		{Height: 90, Hash: hashFor(0xAA)},
		{Height: 95, Hash: hashFor(0xBB)},
		{Height: 100, Hash: hashFor(0xCC)},
	}
	port := &fakePort{hashes: map[uint64]chain.Txid{
		90:  hashFor(90),
		95:  hashFor(95),
		100: hashFor(100),
	}}

	_, err := FindCommonAncestor(context.Background(), port, stored, 5)
	assert.ErrorIs(t, err, ErrDeepReorg)
}

// TestFindCommonAncestorExactWindowBoundaryMismatchIsDeepReorg exercises the
// boundary the dead-code fallthrough used to mishandle: every candidate
// from depth 0 through depth D (the oldest retained entry) mismatches, with
// no entry beyond D to trigger the in-loop depth check. The walk must still
// report a deep reorg rather than falling through to ancestor height 0.
func TestFindCommonAncestorExactWindowBoundaryMismatchIsDeepReorg(t *testing.T) {
	const window = 3
	stored := []chain.BlockRef{
		{Height: 97, Hash: hashFor(0xAA)},  // depth 3 (== window), oldest retained
		{Height: 98, Hash: hashFor(0xBB)},  // depth 2
		{Height: 99, Hash: hashFor(0xCC)},  // depth 1
		{Height: 100, Hash: hashFor(0xDD)}, // depth 0, stored top
	}
	port := &fakePort{hashes: map[uint64]chain.Txid{
		97:  hashFor(97),
		98:  hashFor(98),
		99:  hashFor(99),
		100: hashFor(100),
	}}

	_, err := FindCommonAncestor(context.Background(), port, stored, window)
	require.ErrorIs(t, err, ErrDeepReorg)

	var deepErr *DeepReorgError
	require.ErrorAs(t, err, &deepErr)
	assert.Equal(t, uint64(window), deepErr.Depth)
}

func TestFindCommonAncestorPropagatesIndexerErrors(t *testing.T) {
	stored := []chain.BlockRef{
		{Height: 100, Hash: hashFor(100)},
	}
	port := &fakePort{hashes: map[uint64]chain.Txid{}}

	_, err := FindCommonAncestor(context.Background(), port, stored, 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeepReorg, "expected a plain indexer error, not ErrDeepReorg")
}
