// Package hotcache mirrors the current value of every metric identity
// into Redis and feeds updates back onto the in-process pub/sub fabric.
//
// The cache is optional. When configured, ingestion writes each sample
// as a JSON record keyed by the identity's JSON form; a second
// connection subscribes to keyspace notifications, fetches notified
// records, and a one-second drain publishes the accumulated batch on
// the metricUpdate topic. When the cache is absent or unreachable after
// the bounded connect retries, callers publish updates directly and
// nothing downstream changes shape.
//
// Rebuild folds every cached record into a topology projection, which
// backs the current-value view without touching the live ingestion
// host. Entries whose keys do not parse as identities are logged and
// skipped, never fatal.
package hotcache
