//go:build !nocache

package store

// noCache is false in normal builds; the nocache build tag flips it to
// shrink every CachingStore's caches to one entry (five for BlockInfo), making test
// assertions about store round-trips deterministic regardless of
// eviction order.
const noCache = false
