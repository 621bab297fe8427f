package redis

import "fmt"

// keyPrefix namespaces every key this store owns, matching the teacher's
// per-package prefix convention (chainstream:, wallet:, walletwatch:).
const keyPrefix = "btcmonitor"

func schemaVersionKey() string {
	return fmt.Sprintf("%s:meta:schema_version", keyPrefix)
}

func cursorKey() string {
	return fmt.Sprintf("%s:cursor", keyPrefix)
}

func nextNewsIDKey() string {
	return fmt.Sprintf("%s:meta:next_news_id", keyPrefix)
}

func recentChainKey() string {
	return fmt.Sprintf("%s:chain", keyPrefix)
}

func monitorKey(specKey string) string {
	return fmt.Sprintf("%s:monitors:%s", keyPrefix, specKey)
}

func monitorsIndexKey() string {
	return fmt.Sprintf("%s:monitors:index", keyPrefix)
}

func detectionKey(specKey, txid string) string {
	return fmt.Sprintf("%s:detections:%s:%s", keyPrefix, specKey, txid)
}

func detectionsBySpecIndexKey(specKey string) string {
	return fmt.Sprintf("%s:detections_by_spec:%s", keyPrefix, specKey)
}

func allDetectionsIndexKey() string {
	return fmt.Sprintf("%s:detections:index", keyPrefix)
}

func byTxidKey(txid string) string {
	return fmt.Sprintf("%s:by_txid:%s", keyPrefix, txid)
}

func byOutpointKey(outpoint string) string {
	return fmt.Sprintf("%s:by_outpoint:%s", keyPrefix, outpoint)
}

func newsKey(id uint64) string {
	return fmt.Sprintf("%s:news:%d", keyPrefix, id)
}

// newsIndexKey is a sorted set scored by news_id, giving get_news() its
// ascending order without a client-side sort over the whole keyspace.
func newsIndexKey() string {
	return fmt.Sprintf("%s:news_index", keyPrefix)
}

func newsBySpecIndexKey(specKey string) string {
	return fmt.Sprintf("%s:news_by_spec:%s", keyPrefix, specKey)
}

func newsUnackedIndexKey() string {
	return fmt.Sprintf("%s:news_unacked", keyPrefix)
}

// ackedIndexKey is a Set of acked news ids, checked at read time instead of
// flipping an Acked field inside the news item's own JSON blob. Keeping
// acked-status out of that blob means AckNews never needs to read a news
// item back before writing it, so it can queue a blind SAdd inside
// Commit's TxPipelined instead of racing a concurrent Tick/PruneNews over
// a live Get-modify-Set round trip.
func ackedIndexKey() string {
	return fmt.Sprintf("%s:news_acked", keyPrefix)
}
