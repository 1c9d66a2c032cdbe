// Package cache provides the caching rules of the web cache proxy.
//
// An entry is addressed by the SHA-1 of the request URL and holds three
// fields in a field-oriented store:
//
//   - saved_date - when the entry was stored or last revalidated
//   - last_modified_date - the origin's Last-Modified value, may be empty
//   - entity_body - the response payload
//
// # Basic Usage
//
//	manager := cache.NewManager(store, 2*time.Second)
//	key := cache.DeriveKey([]byte(target))
//
//	entry, err := manager.Lookup(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the origin, then manager.Save on 200
//	}
//
//	if entry.IsFresh(time.Now()) {
//		// serve entry.Body
//	}
//
// # Freshness
//
// An entry is fresh for FreshnessWindow (7 days) after saved_date. A stale
// entry is revalidated with If-Modified-Since; a 304 reply only refreshes
// saved_date through Manager.Touch.
//
// # Metrics
//
//   - webcache_cache_hits_total - lookups that found an entry
//   - webcache_cache_misses_total - lookups that found nothing
//   - webcache_cache_written_bytes_total - body bytes written
//   - webcache_store_errors_total{operation} - store failures
package cache
