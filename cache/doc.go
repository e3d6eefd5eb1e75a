// Package cache provides bounded caches with concurrent access.
// This package implements:
// - Sharded storage keyed with xxhash
// - TTL-based expiration swept by a background cleaner
// - Per-shard size cap evicting the oldest entries
package cache
