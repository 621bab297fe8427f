package monitor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/pegin"
	"github.com/nodewatch/btcmonitor/internal/pkg/logger"
	"github.com/nodewatch/btcmonitor/internal/store"
	"github.com/nodewatch/btcmonitor/internal/store/storetest"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeIndexer is an indexer.Port backed by an in-memory slice of blocks,
// indexed by height (blocks[0] is height 1), mirroring how the teacher's
// blockproc tests stub the chain source instead of hitting a real node.
type fakeIndexer struct {
	blocks []chain.Block
}

func (f *fakeIndexer) BestHeight(ctx context.Context) (uint64, error) {
	return uint64(len(f.blocks)), nil
}

func (f *fakeIndexer) BlockHashAt(ctx context.Context, height uint64) (chain.Txid, error) {
	if height == 0 || height > uint64(len(f.blocks)) {
		return chain.Txid{}, errors.New("height out of range")
	}
	return f.blocks[height-1].Ref.Hash, nil
}

func (f *fakeIndexer) BlockAt(ctx context.Context, height uint64) (chain.Block, error) {
	if height == 0 || height > uint64(len(f.blocks)) {
		return chain.Block{}, errors.New("height out of range")
	}
	return f.blocks[height-1], nil
}

func (f *fakeIndexer) GetTx(ctx context.Context, txid chain.Txid) (chain.Tx, chain.BlockRef, bool, error) {
	for _, b := range f.blocks {
		for _, tx := range b.Transactions {
			if tx.Txid == txid {
				return tx, b.Ref, true, nil
			}
		}
	}
	return chain.Tx{}, chain.BlockRef{}, false, nil
}

func (f *fakeIndexer) UtxoSpentBy(ctx context.Context, outpoint chain.Outpoint) (chain.Txid, bool, error) {
	for _, b := range f.blocks {
		for _, tx := range b.Transactions {
			for _, in := range tx.Inputs {
				if in.PrevOut == outpoint {
					return chain.Txid{}, true, nil
				}
			}
		}
	}
	return chain.Txid{}, false, nil
}

func (f *fakeIndexer) Ready(ctx context.Context) bool {
	return true
}

// appendBlock appends a new canonical block at the next height with a
// deterministic hash derived from the height and a salt (bumped on reorg
// to produce a competing hash at the same height).
func (f *fakeIndexer) appendBlock(salt byte, txs ...chain.Tx) chain.BlockRef {
	height := uint64(len(f.blocks)) + 1
	for i := range txs {
		txs[i].Position = i
	}
	ref := chain.BlockRef{Height: height, Hash: blockHash(height, salt)}
	f.blocks = append(f.blocks, chain.Block{Ref: ref, Transactions: txs})
	return ref
}

// reorgFrom discards blocks from height onward; callers then append the
// competing chain's blocks with a different salt via appendBlock. salt is
// not used here.
func (f *fakeIndexer) reorgFrom(height uint64, salt byte) {
	f.blocks = f.blocks[:height-1]
}

func blockHash(height uint64, salt byte) chain.Txid {
	var h chain.Txid
	h[0] = salt
	h[1] = byte(height)
	h[2] = byte(height >> 8)
	return h
}

func mustTxid(t *testing.T, b byte) chain.Txid {
	t.Helper()
	var h chain.Txid
	h[0] = b
	h[31] = 0xFF // avoid colliding with the all-zero sentinel
	return h
}

func newTestService(t *testing.T, idx *fakeIndexer, p Params) (*service, *storetest.MemoryStore) {
	t.Helper()
	st := storetest.New()
	svc, err := New(context.Background(), st, idx, nil, p)
	require.NoError(t, err)
	return svc, st
}

func TestMonitorRejectsDuplicateActive(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 2})
	ctx := context.Background()

	spec := store.MonitorSpec{Variant: store.VariantTx, Txid: mustTxid(t, 1)}
	require.NoError(t, svc.Monitor(ctx, spec))

	// spec §7: re-registering the same live spec is a no-op success, not
	// an error; only a distinct spec at the same key conflicts.
	assert.NoError(t, svc.Monitor(ctx, spec), "identical re-Monitor should be a no-op")

	distinct := store.MonitorSpec{Variant: store.VariantTx, Txid: mustTxid(t, 1), ContextTag: "other"}
	assert.ErrorIs(t, svc.Monitor(ctx, distinct), ErrDuplicateActive)
}

func TestTickDetectsAndFinalizesTxMonitor(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 3})
	ctx := context.Background()

	txid := mustTxid(t, 1)
	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantTx, Txid: txid}))

	idx.appendBlock(0, chain.Tx{Txid: txid})
	idx.appendBlock(0)
	idx.appendBlock(0)

	require.NoError(t, svc.Tick(ctx, time.Time{}))

	status, err := svc.GetTxStatus(ctx, txid)
	require.NoError(t, err)
	assert.True(t, status.Finalized, "expected tx to be finalized after 3 confirmations")
	assert.Equal(t, uint32(3), status.Confirmations)

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	var sawDetected, sawFinalized bool
	for _, n := range news {
		switch n.Kind {
		case store.NewsDetected:
			sawDetected = true
		case store.NewsFinalized:
			sawFinalized = true
		}
	}
	assert.True(t, sawDetected, "expected a Detected news item")
	assert.True(t, sawFinalized, "expected a Finalized news item")
}

func TestTickFinalizesGroupOnlyWhenAllMembersReachThreshold(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 2})
	ctx := context.Background()

	txidA := mustTxid(t, 1)
	txidB := mustTxid(t, 2)
	spec := store.MonitorSpec{Variant: store.VariantGroup, GroupID: "g1", GroupTxids: []chain.Txid{txidA, txidB}}
	require.NoError(t, svc.Monitor(ctx, spec))

	// Block 1 detects A, block 2 is empty (A now at 2 confirmations, finalizes
	// alone if it were a tx monitor — but B hasn't been seen yet).
	idx.appendBlock(0, chain.Tx{Txid: txidA})
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	for _, n := range news {
		require.NotEqual(t, store.NewsFinalized, n.Kind, "group should not finalize before every member reaches threshold")
	}

	// Block 3 detects B; blocks 4 brings B to 2 confirmations too.
	idx.appendBlock(0, chain.Tx{Txid: txidB})
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	news, err = svc.GetNews(ctx)
	require.NoError(t, err)
	var groupFinalized int
	for _, n := range news {
		if n.Kind == store.NewsFinalized {
			groupFinalized++
		}
	}
	assert.Equal(t, 1, groupFinalized, "expected exactly 1 group Finalized news once all members reach threshold")
}

func TestTickDetectsUtxoSpend(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 1})
	ctx := context.Background()

	watched := chain.NewOutpoint(mustTxid(t, 9), 0)
	spec := store.MonitorSpec{Variant: store.VariantUtxo, Outpoint: watched}
	require.NoError(t, svc.Monitor(ctx, spec))

	spendTxid := mustTxid(t, 10)
	idx.appendBlock(0, chain.Tx{Txid: spendTxid, Inputs: []chain.TxIn{{PrevOut: watched}}})
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	status, err := svc.GetTxStatus(ctx, spendTxid)
	require.NoError(t, err)
	assert.True(t, status.Finalized, "expected immediate finalization at threshold 1")
}

func TestTickDetectsAddressPayment(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 1})
	ctx := context.Background()

	watchedScript := chain.NewLockingScript([]byte{0x76, 0xa9, 0x14, 7, 7, 7, 0x88, 0xac})
	spec := store.MonitorSpec{Variant: store.VariantAddress, Script: watchedScript}
	require.NoError(t, svc.Monitor(ctx, spec))

	payTxid := mustTxid(t, 30)
	idx.appendBlock(0, chain.Tx{
		Txid: payTxid,
		Outputs: []chain.TxOut{
			{Value: 1500, Script: watchedScript},
			{Value: 500, Script: chain.NewLockingScript([]byte{0x00})},
		},
	})
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	status, err := svc.GetTxStatus(ctx, payTxid)
	require.NoError(t, err)
	assert.True(t, status.Finalized, "expected immediate finalization at threshold 1")

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	var detected int
	for _, n := range news {
		if n.Kind == store.NewsDetected {
			detected++
		}
	}
	assert.Equal(t, 1, detected, "expected exactly 1 Detected news despite two outputs")
}

func TestTickDetectsPegIn(t *testing.T) {
	idx := &fakeIndexer{}
	depositScript := chain.NewLockingScript([]byte{0x76, 0xa9, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 0x88, 0xac})
	magic := [4]byte{1, 2, 3, 4}
	recipient := [20]byte{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}

	fed := pegin.Federation{Tag: "sidechain-a", DepositScript: depositScript, Magic: magic, MinPeginAmount: 1000}
	svc, _ := newTestService(t, idx, Params{
		ConfirmationThreshold: 1,
		Federations:           map[string]pegin.Federation{"sidechain-a": fed},
	})
	ctx := context.Background()

	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantPegIn, FederationTag: "sidechain-a"}))

	payload := append([]byte{0x6a, 24}, magic[:]...)
	payload = append(payload, recipient[:]...)
	peginTxid := mustTxid(t, 20)
	idx.appendBlock(0, chain.Tx{
		Txid: peginTxid,
		Outputs: []chain.TxOut{
			{Value: 5000, Script: depositScript},
			{Value: 0, Script: chain.NewLockingScript(payload)},
		},
	})

	require.NoError(t, svc.Tick(ctx, time.Time{}))

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	var found bool
	for _, n := range news {
		if n.Kind == store.NewsDetected && n.HasPegInPayload {
			found = true
			assert.Equal(t, uint64(5000), n.DepositValue)
			assert.Equal(t, recipient, n.PegInRecipient)
		}
	}
	assert.True(t, found, "expected a peg-in Detected news item")
}

func TestTickEmitsNewBlockOncePerBlock(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 1})
	ctx := context.Background()

	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantNewBlock}))

	idx.appendBlock(0, chain.Tx{Txid: mustTxid(t, 1)}, chain.Tx{Txid: mustTxid(t, 2)})
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	var count int
	for _, n := range news {
		if n.Kind == store.NewsNewBlock {
			count++
		}
	}
	assert.Equal(t, 2, count, "expected 2 NewBlock news (one per block)")
}

func TestTickReconcilesShallowReorg(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 6, ReorgWindow: 10})
	ctx := context.Background()

	txid := mustTxid(t, 1)
	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantTx, Txid: txid}))

	idx.appendBlock(0)
	idx.appendBlock(0, chain.Tx{Txid: txid})
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	status, err := svc.GetTxStatus(ctx, txid)
	require.NoError(t, err)
	require.False(t, status.Finalized, "tx should not be finalized yet at threshold 6")

	// Reorg out blocks 2-3 (the detection's block) and replace with a
	// competing chain that doesn't carry the transaction.
	idx.reorgFrom(2, 1)
	idx.appendBlock(1)
	idx.appendBlock(1)
	idx.appendBlock(1)

	require.NoError(t, svc.Tick(ctx, time.Time{}))

	// spec §8 S2: the monitor is still registered, so a reorged-out tx
	// reports zero confirmations and not-finalized, not ErrNotMonitored.
	status, err = svc.GetTxStatus(ctx, txid)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), status.Confirmations, "expected 0 confirmations after reorg")
	assert.False(t, status.Finalized, "expected not finalized after reorg")
}

// TestTickReconcilesReorgThenReinclusion continues TestTickReconcilesShallowReorg's
// scenario per spec §8 S3: after a reorg drops a previously-detected tx back
// to zero confirmations, the tx being re-included on the new canonical chain
// must produce a fresh Detected/ConfUpdate/Finalized sequence at the same
// spec key rather than being suppressed as already-seen.
func TestTickReconcilesReorgThenReinclusion(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 3, ReorgWindow: 10})
	ctx := context.Background()

	txid := mustTxid(t, 1)
	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantTx, Txid: txid}))

	idx.appendBlock(0)
	idx.appendBlock(0, chain.Tx{Txid: txid})
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	status, err := svc.GetTxStatus(ctx, txid)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Confirmations)

	// Reorg out the block carrying txid.
	idx.reorgFrom(2, 1)
	idx.appendBlock(1)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	status, err = svc.GetTxStatus(ctx, txid)
	require.NoError(t, err)
	require.Equal(t, uint32(0), status.Confirmations, "expected 0 confirmations after reorg")

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	var sawReorged bool
	for _, n := range news {
		if n.Kind == store.NewsReorged {
			sawReorged = true
		}
	}
	require.True(t, sawReorged, "expected a Reorged news item")
	require.NoError(t, svc.AckNews(ctx, idsOf(news)))

	// Re-include txid on the new canonical chain and carry it to threshold:
	// block 3 detects it again (1 confirmation), block 4 crosses a
	// below-threshold boundary (2 confirmations), block 5 reaches the
	// threshold of 3 and finalizes.
	idx.appendBlock(1, chain.Tx{Txid: txid})
	idx.appendBlock(1)
	idx.appendBlock(1)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	status, err = svc.GetTxStatus(ctx, txid)
	require.NoError(t, err)
	assert.True(t, status.Finalized, "expected re-inclusion to finalize once threshold is reached again")

	news, err = svc.GetNews(ctx)
	require.NoError(t, err)
	var sawDetected, sawConfUpdate, sawFinalized bool
	for _, n := range news {
		switch n.Kind {
		case store.NewsDetected:
			sawDetected = true
		case store.NewsConfirmationUpdate:
			sawConfUpdate = true
		case store.NewsFinalized:
			sawFinalized = true
		}
	}
	assert.True(t, sawDetected, "expected a fresh Detected news item after re-inclusion")
	assert.True(t, sawConfUpdate, "expected a ConfirmationUpdate news item as confirmations advance")
	assert.True(t, sawFinalized, "expected a Finalized news item after re-inclusion reaches threshold")
}

func TestTickReturnsErrDeepReorgBeyondWindow(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()

	// Seed a recent-chain window wider than the service's configured
	// window below: the shape left behind when reorg_window is narrowed
	// after blocks were already retained under a wider setting, so the
	// common-ancestor search exhausts its budget before finding a match.
	var seeded []chain.BlockRef
	for h := uint64(1); h <= 10; h++ {
		seeded = append(seeded, chain.BlockRef{Height: h, Hash: blockHash(h, 0)})
	}
	seedBatch, err := st.NewBatch(ctx)
	require.NoError(t, err)
	seedBatch.SetRecentChain(seeded)
	seedBatch.SetCursor(10)
	require.NoError(t, seedBatch.Commit(ctx))

	idx := &fakeIndexer{}
	for i := 0; i < 10; i++ {
		idx.appendBlock(1) // an entirely different chain from height 1
	}

	svc, err := New(ctx, st, idx, nil, Params{ConfirmationThreshold: 6, ReorgWindow: 2})
	require.NoError(t, err)

	err = svc.Tick(ctx, time.Time{})
	require.ErrorIs(t, err, ErrDeepReorg)

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	var sawFault bool
	for _, n := range news {
		if n.Kind == store.NewsIndexerError && n.ErrorKind == store.IndexerErrorDeepReorg {
			sawFault = true
		}
	}
	assert.True(t, sawFault, "expected an IndexerError(deep_reorg) news item")
}

func TestTickIsBusyWhileAnotherTickRuns(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 1})

	svc.mu.Lock()
	svc.ticking = true
	svc.mu.Unlock()

	err := svc.Tick(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestNewAcceptsFreshStoreAndDefaultsThreshold(t *testing.T) {
	st := storetest.New()
	idx := &fakeIndexer{}

	svc, err := New(context.Background(), st, idx, nil, Params{})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), svc.GetConfirmationThreshold(context.Background()), "default ConfirmationThreshold")
}

func TestAckNewsMarksAcked(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 1})
	ctx := context.Background()

	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantNewBlock}))
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, news, "expected at least one news item")

	ids := make([]uint64, len(news))
	for i, n := range news {
		ids[i] = n.ID
	}
	require.NoError(t, svc.AckNews(ctx, ids))

	remaining, err := svc.GetNews(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining, "expected no unacked news remaining")
}

// TestPruneDeletesOldAckedNews exercises spec §4.6's pruning rule: an acked
// item is physically deleted once the tip has moved more than the reorg
// window past its creation height, but not before.
func TestPruneDeletesOldAckedNews(t *testing.T) {
	idx := &fakeIndexer{}
	svc, st := newTestService(t, idx, Params{ConfirmationThreshold: 1, ReorgWindow: 2})
	ctx := context.Background()

	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantNewBlock}))

	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	require.Len(t, news, 1, "expected 1 news item at height 1")
	firstID := news[0].ID
	require.NoError(t, svc.AckNews(ctx, []uint64{firstID}))

	// Advance two more blocks: tip-created_at = 2, still within the reorg
	// window of 2, so the acked item must survive.
	idx.appendBlock(0)
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))
	all, err := st.AllNews(ctx)
	require.NoError(t, err)
	require.True(t, containsNewsID(all, firstID), "acked item pruned too early at tip-created=2")

	// One more block pushes tip-created_at to 3, past the window: prune.
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))
	all, err = st.AllNews(ctx)
	require.NoError(t, err)
	require.False(t, containsNewsID(all, firstID), "expected acked item older than the reorg window to be pruned")
}

func containsNewsID(items []store.NewsItem, id uint64) bool {
	for _, n := range items {
		if n.ID == id {
			return true
		}
	}
	return false
}

// TestNewBlockSuppressedOnReplayByDefault exercises the open-question
// resolution in spec §9: with NewBlockEmitOnReplay left at its default
// (false), a block reprocessed because a reorg rewound the cursor below it
// does not re-emit a NewBlock news item.
func TestNewBlockSuppressedOnReplayByDefault(t *testing.T) {
	idx := &fakeIndexer{}
	svc, _ := newTestService(t, idx, Params{ConfirmationThreshold: 6, ReorgWindow: 10})
	ctx := context.Background()

	require.NoError(t, svc.Monitor(ctx, store.MonitorSpec{Variant: store.VariantNewBlock}))

	idx.appendBlock(0)
	idx.appendBlock(0)
	idx.appendBlock(0)
	require.NoError(t, svc.Tick(ctx, time.Time{}))
	firstNews, err := svc.GetNews(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.AckNews(ctx, idsOf(firstNews)))

	// Reorg out block 2 onward and replay a competing chain of the same
	// length plus one new block: heights 2-3 are replay, height 4 is new.
	idx.reorgFrom(2, 1)
	idx.appendBlock(1)
	idx.appendBlock(1)
	idx.appendBlock(1)
	require.NoError(t, svc.Tick(ctx, time.Time{}))

	news, err := svc.GetNews(ctx)
	require.NoError(t, err)
	var newBlockCount int
	for _, n := range news {
		if n.Kind == store.NewsNewBlock {
			newBlockCount++
		}
	}
	assert.Equal(t, 1, newBlockCount, "expected 1 NewBlock news for the single forward-progress block")
}

func idsOf(items []store.NewsItem) []uint64 {
	ids := make([]uint64, len(items))
	for i, n := range items {
		ids[i] = n.ID
	}
	return ids
}
