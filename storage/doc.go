// Package storage is the TimescaleDB persistence layer.
//
// A single Store wraps a pgxpool.Pool and owns every table the system
// writes:
//
//   - history: one row per recorded sample, routed into exactly one of
//     the int/float/string/bool value columns by the metric's declared
//     type. Hypertable chunked by day, compressed after one hour.
//   - history_properties: per-property sample history, same column
//     routing, compressed after one day.
//   - metric_properties: one JSONB document per identity, maintained by
//     shallow-merge upsert (incoming keys overwrite, absent keys stay).
//   - hidden_items: operator-managed visibility rows consumed by the
//     hidden package.
//   - alarm_rules / alarm_state / alarm_history: alarm engine
//     persistence; state and history cascade on rule delete.
//
// # Migrations
//
// Schema DDL ships embedded under migrations/ and applies in
// lexicographic filename order, one transaction per file, tracked in
// schema_migrations. Files beginning with an "-- optional" marker are
// allowed to fail: they carry the TimescaleDB-specific DDL (extension,
// hypertables, chunk intervals, compression policies) so the layer
// stays usable on plain PostgreSQL, just without chunking or
// compression.
//
// # Failure posture
//
// Duplicate sample inserts (unique violation on identity+ts) are
// swallowed; the payload was already recorded. Every other error
// surfaces to the caller wrapped as a classified error. Pool
// construction failure is fatal at startup.
//
// # Time
//
// The API speaks int64 milliseconds since epoch like the rest of the
// system; columns are TIMESTAMPTZ and conversion happens at this
// boundary only.
package storage
