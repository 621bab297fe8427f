// Package storetest provides an in-memory store.Store/store.Batch pair for
// exercising internal/monitor and internal/detect without a Redis instance.
// It trades persistence for determinism: every write is visible to readers
// the instant Commit returns, with no network or serialization involved.
package storetest

import (
	"context"
	"sync"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// MemoryStore is a store.Store backed by plain Go maps guarded by a mutex.
// Safe for concurrent use; not a Batch itself, NewBatch builds one bound to
// it.
type MemoryStore struct {
	mu sync.Mutex

	schemaVersion int
	cursor        uint64
	recentChain   []chain.BlockRef

	monitors   map[store.SpecKey]store.MonitorRecord
	detections map[store.SpecKey]map[chain.Txid]store.Detection

	byTxid     map[chain.Txid]map[store.SpecKey]struct{}
	byOutpoint map[chain.Outpoint]map[store.SpecKey]struct{}

	news      map[uint64]store.NewsItem
	nextNewsID uint64
}

// New returns an empty MemoryStore with schema version 1.
func New() *MemoryStore {
	return &MemoryStore{
		schemaVersion: 1,
		monitors:      make(map[store.SpecKey]store.MonitorRecord),
		detections:    make(map[store.SpecKey]map[chain.Txid]store.Detection),
		byTxid:        make(map[chain.Txid]map[store.SpecKey]struct{}),
		byOutpoint:    make(map[chain.Outpoint]map[store.SpecKey]struct{}),
		news:          make(map[uint64]store.NewsItem),
	}
}

var _ store.Store = (*MemoryStore)(nil)

func (m *MemoryStore) SchemaVersion(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schemaVersion, nil
}

func (m *MemoryStore) Cursor(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *MemoryStore) RecentChain(ctx context.Context) ([]chain.BlockRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chain.BlockRef, len(m.recentChain))
	copy(out, m.recentChain)
	return out, nil
}

func (m *MemoryStore) Monitors(ctx context.Context) ([]store.MonitorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.MonitorRecord, 0, len(m.monitors))
	for _, rec := range m.monitors {
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryStore) MonitorByKey(ctx context.Context, key store.SpecKey) (store.MonitorRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.monitors[key]
	return rec, ok, nil
}

func (m *MemoryStore) DetectionsBySpec(ctx context.Context, key store.SpecKey) ([]store.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTxid := m.detections[key]
	out := make([]store.Detection, 0, len(byTxid))
	for _, d := range byTxid {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryStore) DetectionByTxid(ctx context.Context, key store.SpecKey, txid chain.Txid) (store.Detection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTxid, ok := m.detections[key]
	if !ok {
		return store.Detection{}, false, nil
	}
	d, ok := byTxid[txid]
	return d, ok, nil
}

func (m *MemoryStore) SpecKeysByTxid(ctx context.Context, txid chain.Txid) ([]store.SpecKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byTxid[txid]
	out := make([]store.SpecKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryStore) SpecKeysByOutpoint(ctx context.Context, op chain.Outpoint) ([]store.SpecKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byOutpoint[op]
	out := make([]store.SpecKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryStore) UnackedNews(ctx context.Context) ([]store.NewsItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedNewsLocked(func(n store.NewsItem) bool { return !n.Acked }), nil
}

func (m *MemoryStore) NewsBySpec(ctx context.Context, key store.SpecKey) ([]store.NewsItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedNewsLocked(func(n store.NewsItem) bool { return n.SpecKey == key }), nil
}

func (m *MemoryStore) AllNews(ctx context.Context) ([]store.NewsItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedNewsLocked(func(store.NewsItem) bool { return true }), nil
}

func (m *MemoryStore) AllDetections(ctx context.Context) ([]store.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Detection
	for _, byTxid := range m.detections {
		for _, d := range byTxid {
			out = append(out, d)
		}
	}
	return out, nil
}

// sortedNewsLocked returns news items matching keep, in ascending ID order.
// Must be called with m.mu held.
func (m *MemoryStore) sortedNewsLocked(keep func(store.NewsItem) bool) []store.NewsItem {
	out := make([]store.NewsItem, 0, len(m.news))
	for _, n := range m.news {
		if keep(n) {
			out = append(out, n)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func (m *MemoryStore) NewBatch(ctx context.Context) (store.Batch, error) {
	return &memoryBatch{store: m}, nil
}

// memoryBatch stages mutations in plain slices/maps and applies them to the
// backing MemoryStore under lock on Commit, mirroring how a Redis pipeline
// batch defers network writes until EXEC.
type memoryBatch struct {
	store *MemoryStore

	putMonitors   []store.MonitorRecord
	putDetections []store.Detection
	delDetections []delDetection

	txidIndex     []indexEntry[chain.Txid]
	outpointIndex []indexEntry[chain.Outpoint]

	appendNews []store.NewsItem
	ackNews    []uint64
	pruneNews  []uint64

	setRecentChain    []chain.BlockRef
	hasSetRecentChain bool

	setCursor    uint64
	hasSetCursor bool

	committed bool
}

type delDetection struct {
	key  store.SpecKey
	txid chain.Txid
}

type indexEntry[K comparable] struct {
	k   K
	key store.SpecKey
}

var _ store.Batch = (*memoryBatch)(nil)

func (b *memoryBatch) PutMonitor(rec store.MonitorRecord) {
	b.putMonitors = append(b.putMonitors, rec)
}

func (b *memoryBatch) PutDetection(d store.Detection) {
	b.putDetections = append(b.putDetections, d)
}

func (b *memoryBatch) RemoveDetection(key store.SpecKey, txid chain.Txid) {
	b.delDetections = append(b.delDetections, delDetection{key: key, txid: txid})
}

func (b *memoryBatch) IndexTxid(txid chain.Txid, key store.SpecKey) {
	b.txidIndex = append(b.txidIndex, indexEntry[chain.Txid]{k: txid, key: key})
}

func (b *memoryBatch) IndexOutpoint(op chain.Outpoint, key store.SpecKey) {
	b.outpointIndex = append(b.outpointIndex, indexEntry[chain.Outpoint]{k: op, key: key})
}

func (b *memoryBatch) AppendNews(item store.NewsItem) uint64 {
	b.store.mu.Lock()
	id := b.store.nextNewsID + 1
	b.store.nextNewsID = id
	b.store.mu.Unlock()

	item.ID = id
	b.appendNews = append(b.appendNews, item)
	return id
}

func (b *memoryBatch) AckNews(ids []uint64) {
	b.ackNews = append(b.ackNews, ids...)
}

func (b *memoryBatch) PruneNews(ids []uint64) {
	b.pruneNews = append(b.pruneNews, ids...)
}

func (b *memoryBatch) SetRecentChain(c []chain.BlockRef) {
	b.setRecentChain = append([]chain.BlockRef(nil), c...)
	b.hasSetRecentChain = true
}

func (b *memoryBatch) SetCursor(height uint64) {
	b.setCursor = height
	b.hasSetCursor = true
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range b.putMonitors {
		key, err := rec.Spec.Key()
		if err != nil {
			return err
		}
		s.monitors[key] = rec
	}

	for _, d := range b.putDetections {
		byTxid, ok := s.detections[d.SpecKey]
		if !ok {
			byTxid = make(map[chain.Txid]store.Detection)
			s.detections[d.SpecKey] = byTxid
		}
		byTxid[d.Txid] = d
	}

	for _, del := range b.delDetections {
		if byTxid, ok := s.detections[del.key]; ok {
			delete(byTxid, del.txid)
		}
	}

	for _, e := range b.txidIndex {
		set, ok := s.byTxid[e.k]
		if !ok {
			set = make(map[store.SpecKey]struct{})
			s.byTxid[e.k] = set
		}
		set[e.key] = struct{}{}
	}

	for _, e := range b.outpointIndex {
		set, ok := s.byOutpoint[e.k]
		if !ok {
			set = make(map[store.SpecKey]struct{})
			s.byOutpoint[e.k] = set
		}
		set[e.key] = struct{}{}
	}

	for _, item := range b.appendNews {
		s.news[item.ID] = item
	}

	for _, id := range b.ackNews {
		if n, ok := s.news[id]; ok {
			n.Acked = true
			s.news[id] = n
		}
	}

	for _, id := range b.pruneNews {
		delete(s.news, id)
	}

	if b.hasSetRecentChain {
		s.recentChain = b.setRecentChain
	}
	if b.hasSetCursor {
		s.cursor = b.setCursor
	}

	b.committed = true
	return nil
}

func (b *memoryBatch) Discard() {
	if b.committed {
		return
	}
	*b = memoryBatch{store: b.store}
}
