package monitor

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/nodewatch/btcmonitor/internal/indexer"
	"github.com/nodewatch/btcmonitor/internal/pegin"
	"github.com/nodewatch/btcmonitor/internal/pkg/logger"
	"github.com/nodewatch/btcmonitor/internal/pkg/resilience/retry"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// schemaVersion is the on-disk layout version this build expects. See
// spec §6 "Persisted layout".
const schemaVersion = 1

// chainRetentionMargin is the slack spec §3 requires on top of
// max(reorgWindow, confirmationThreshold) when sizing the stored
// RecentChain window: without it, a reorg exactly as deep as the window
// leaves no entry beyond the window to prove the divergence exceeds it,
// and reorg.FindCommonAncestor can't distinguish "depth == D" from
// "depth > D" (see internal/reorg for the boundary this avoids).
const chainRetentionMargin = 10

// Params configures a facade instance.
type Params struct {
	ConfirmationThreshold uint32
	ReorgWindow           uint32 // defaults to ConfirmationThreshold when 0
	Federations           map[string]pegin.Federation
	NewBlockEmitOnReplay  bool
}

// service is the concrete Api implementation, guarded single-writer for
// Tick the same way the teacher's blockproc.service guards Start: a
// sync.Mutex with a fast-fail sentinel rather than a blocking lock.
type service struct {
	mu       sync.Mutex
	ticking  bool

	store   store.Store
	indexer indexer.Port
	retry   retry.Retry

	confirmationThreshold uint32
	reorgWindow           uint32
	chainRetentionWindow  uint32
	federations           map[string]pegin.Federation
	newBlockEmitOnReplay  bool

	// lastObservedTip tracks the highest height this process has seen
	// committed, to distinguish replay from forward progress within a
	// tick per newBlockEmitOnReplay. Best-effort across restarts: it
	// re-seeds from the store cursor, which only under-counts replay for
	// a reorg that was already in flight when the process crashed.
	lastObservedTip uint64
}

var _ Api = (*service)(nil)

// New builds the Monitor Facade. It checks the store's schema version
// against the version this build expects and accepts a brand-new store
// (version 0). New does not write a schema version to the store, and no
// other code path does either.
func New(ctx context.Context, st store.Store, idx indexer.Port, r retry.Retry, p Params) (*service, error) {
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version != 0 && version != schemaVersion {
		return nil, fmt.Errorf("%w: store has %d, build expects %d", ErrSchemaMismatch, version, schemaVersion)
	}

	threshold := p.ConfirmationThreshold
	if threshold == 0 {
		threshold = 6
	}
	window := p.ReorgWindow
	if window == 0 {
		window = threshold
	}
	retention := window
	if threshold > retention {
		retention = threshold
	}
	retention += chainRetentionMargin

	cursor, err := st.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	return &service{
		store:                 st,
		indexer:               idx,
		retry:                 r,
		confirmationThreshold: threshold,
		reorgWindow:           window,
		chainRetentionWindow:  retention,
		federations:           p.Federations,
		newBlockEmitOnReplay:  p.NewBlockEmitOnReplay,
		lastObservedTip:       cursor,
	}, nil
}

// withRetry executes op through the configured retry policy, or directly
// if no retry policy was supplied.
func (s *service) withRetry(ctx context.Context, op func() error) error {
	if s.retry == nil {
		return op()
	}
	return s.retry.Execute(ctx, op)
}

func (s *service) GetConfirmationThreshold(ctx context.Context) uint32 {
	return s.confirmationThreshold
}

func (s *service) GetMonitorHeight(ctx context.Context) (uint64, error) {
	return s.store.Cursor(ctx)
}

// IsReady reports whether the store's cursor has caught up to the
// indexer's current best height and the indexer itself is ready (per
// indexer.Port.Ready) to serve canonical data — a cursor caught up to a
// node still mid initial-block-download would otherwise read as ready.
func (s *service) IsReady(ctx context.Context) (bool, error) {
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return false, err
	}

	var best uint64
	if err := s.withRetry(ctx, func() error {
		var err error
		best, err = s.indexer.BestHeight(ctx)
		return err
	}); err != nil {
		return false, err
	}

	return cursor == best && s.indexer.Ready(ctx), nil
}

func (s *service) Monitor(ctx context.Context, spec store.MonitorSpec) error {
	key, err := spec.Key()
	if err != nil {
		return err
	}

	existing, ok, err := s.store.MonitorByKey(ctx, key)
	if err != nil {
		return err
	}
	if ok && existing.Live() {
		// spec §7: re-monitoring an already-active identical spec is a
		// no-op success; only a distinct spec at the same key conflicts.
		if reflect.DeepEqual(existing.Spec, spec) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateActive, key)
	}

	batch, err := s.store.NewBatch(ctx)
	if err != nil {
		return err
	}

	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		batch.Discard()
		return err
	}

	rec := store.MonitorRecord{
		Spec: spec,
		State: store.MonitorState{
			Active:          true,
			Cancelled:       false,
			CreatedAtHeight: cursor,
			LastEventHeight: cursor,
		},
	}
	batch.PutMonitor(rec)

	switch spec.Variant {
	case store.VariantTx:
		batch.IndexTxid(spec.Txid, key)
	case store.VariantGroup:
		for _, txid := range spec.GroupTxids {
			batch.IndexTxid(txid, key)
		}
	case store.VariantUtxo:
		batch.IndexOutpoint(spec.Outpoint, key)
	}

	if err := batch.Commit(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "monitor registered", "spec_key", key, "variant", spec.Variant)
	return nil
}

func (s *service) Cancel(ctx context.Context, spec store.MonitorSpec) error {
	return s.updateMonitorState(ctx, spec, func(state *store.MonitorState) {
		state.Cancelled = true
	})
}

func (s *service) DeactivateMonitor(ctx context.Context, spec store.MonitorSpec) error {
	return s.updateMonitorState(ctx, spec, func(state *store.MonitorState) {
		state.Active = false
	})
}

func (s *service) updateMonitorState(ctx context.Context, spec store.MonitorSpec, mutate func(*store.MonitorState)) error {
	key, err := spec.Key()
	if err != nil {
		return err
	}

	rec, ok, err := s.store.MonitorByKey(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	mutate(&rec.State)

	batch, err := s.store.NewBatch(ctx)
	if err != nil {
		return err
	}
	batch.PutMonitor(rec)
	return batch.Commit(ctx)
}

func (s *service) GetMonitors(ctx context.Context) ([]store.MonitorRecord, error) {
	return s.store.Monitors(ctx)
}

func (s *service) GetNews(ctx context.Context) ([]store.NewsItem, error) {
	return s.store.UnackedNews(ctx)
}

func (s *service) AckNews(ctx context.Context, ids []uint64) error {
	batch, err := s.store.NewBatch(ctx)
	if err != nil {
		return err
	}
	batch.AckNews(ids)
	return batch.Commit(ctx)
}
