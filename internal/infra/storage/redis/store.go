package redis

import (
	"context"
	"errors"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/store"
)

var _ store.Store = (*client)(nil)

func (c *client) SchemaVersion(ctx context.Context) (int, error) {
	val, err := c.conn.Get(ctx, schemaVersionKey()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.Atoi(val)
}

func (c *client) Cursor(ctx context.Context) (uint64, error) {
	val, err := c.conn.Get(ctx, cursorKey()).Uint64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}

// RecentChain reads the reorg-detection window from a Redis hash keyed by
// height, oldest first.
func (c *client) RecentChain(ctx context.Context) ([]chain.BlockRef, error) {
	all, err := c.conn.HGetAll(ctx, recentChainKey()).Result()
	if err != nil {
		return nil, err
	}

	refs := make([]chain.BlockRef, 0, len(all))
	for heightStr, hashStr := range all {
		height, err := strconv.ParseUint(heightStr, 10, 64)
		if err != nil {
			return nil, err
		}
		hash, err := chainhashFromString(hashStr)
		if err != nil {
			return nil, err
		}
		refs = append(refs, chain.BlockRef{Height: height, Hash: hash})
	}

	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j-1].Height > refs[j].Height; j-- {
			refs[j-1], refs[j] = refs[j], refs[j-1]
		}
	}
	return refs, nil
}

func (c *client) Monitors(ctx context.Context) ([]store.MonitorRecord, error) {
	keys, err := c.conn.SMembers(ctx, monitorsIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]store.MonitorRecord, 0, len(keys))
	for _, k := range keys {
		data, err := c.conn.Get(ctx, monitorKey(k)).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodeMonitorRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *client) MonitorByKey(ctx context.Context, key store.SpecKey) (store.MonitorRecord, bool, error) {
	data, err := c.conn.Get(ctx, monitorKey(string(key))).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return store.MonitorRecord{}, false, nil
		}
		return store.MonitorRecord{}, false, err
	}
	rec, err := decodeMonitorRecord(data)
	return rec, true, err
}

func (c *client) DetectionsBySpec(ctx context.Context, key store.SpecKey) ([]store.Detection, error) {
	txids, err := c.conn.SMembers(ctx, detectionsBySpecIndexKey(string(key))).Result()
	if err != nil {
		return nil, err
	}

	out := make([]store.Detection, 0, len(txids))
	for _, txid := range txids {
		data, err := c.conn.Get(ctx, detectionKey(string(key), txid)).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, err
		}
		d, err := decodeDetection(data)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *client) DetectionByTxid(ctx context.Context, key store.SpecKey, txid chain.Txid) (store.Detection, bool, error) {
	data, err := c.conn.Get(ctx, detectionKey(string(key), txid.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return store.Detection{}, false, nil
		}
		return store.Detection{}, false, err
	}
	d, err := decodeDetection(data)
	return d, true, err
}

func (c *client) SpecKeysByTxid(ctx context.Context, txid chain.Txid) ([]store.SpecKey, error) {
	members, err := c.conn.SMembers(ctx, byTxidKey(txid.String())).Result()
	if err != nil {
		return nil, err
	}
	return toSpecKeys(members), nil
}

func (c *client) SpecKeysByOutpoint(ctx context.Context, op chain.Outpoint) ([]store.SpecKey, error) {
	members, err := c.conn.SMembers(ctx, byOutpointKey(op.String())).Result()
	if err != nil {
		return nil, err
	}
	return toSpecKeys(members), nil
}

func (c *client) UnackedNews(ctx context.Context) ([]store.NewsItem, error) {
	ids, err := c.conn.ZRangeByScore(ctx, newsUnackedIndexKey(), &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	return c.loadNewsByIDStrings(ctx, ids)
}

func (c *client) NewsBySpec(ctx context.Context, key store.SpecKey) ([]store.NewsItem, error) {
	ids, err := c.conn.ZRangeByScore(ctx, newsBySpecIndexKey(string(key)), &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	return c.loadNewsByIDStrings(ctx, ids)
}

func (c *client) AllNews(ctx context.Context) ([]store.NewsItem, error) {
	ids, err := c.conn.ZRangeByScore(ctx, newsIndexKey(), &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	return c.loadNewsByIDStrings(ctx, ids)
}

// loadNewsByIDStrings decodes each news item and sets its Acked field from
// ackedIndexKey membership rather than trusting an Acked field baked into
// the item's own JSON blob, since acking a news item never rewrites that
// blob (see AckNews in batch.go).
func (c *client) loadNewsByIDStrings(ctx context.Context, ids []string) ([]store.NewsItem, error) {
	acked, err := c.conn.SMembers(ctx, ackedIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	ackedSet := make(map[string]struct{}, len(acked))
	for _, a := range acked {
		ackedSet[a] = struct{}{}
	}

	out := make([]store.NewsItem, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return nil, err
		}
		data, err := c.conn.Get(ctx, newsKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, err
		}
		item, err := decodeNewsItem(data)
		if err != nil {
			return nil, err
		}
		if _, ok := ackedSet[idStr]; ok {
			item.Acked = true
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *client) AllDetections(ctx context.Context) ([]store.Detection, error) {
	keys, err := c.conn.SMembers(ctx, allDetectionsIndexKey()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]store.Detection, 0, len(keys))
	for _, k := range keys {
		data, err := c.conn.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, err
		}
		d, err := decodeDetection(data)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *client) NewBatch(ctx context.Context) (store.Batch, error) {
	return newBatch(c), nil
}

func toSpecKeys(members []string) []store.SpecKey {
	out := make([]store.SpecKey, len(members))
	for i, m := range members {
		out[i] = store.SpecKey(m)
	}
	return out
}
