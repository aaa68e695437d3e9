// Package sparkplug implements the Sparkplug-B wire formats: the topic
// grammar and the protobuf payload codec.
//
// # Topics
//
// Sparkplug-B topics follow
// "spBv1.0/{group}/{type}/{node}[/{device}]" where type is one of the
// eight message classes (NBIRTH, NDEATH, DBIRTH, DDEATH, NDATA, DDATA,
// NCMD, DCMD). ParseTopic validates the grammar strictly: device-level
// classes require the fifth segment and node-level classes reject it.
// SubscribeFilter builds the wildcard filters ingestion subscribes to,
// optionally wrapped in an MQTT shared subscription.
//
// # Payloads
//
// The payload codec is hand-written on protowire against the field
// numbers of the Eclipse Tahu sparkplug_b.proto schema. Decoding is
// lenient about unknown fields (skipped) and strict about truncation
// (errors wrapping errors.ErrDecodeFailed). Scalar values decode into
// types.Value with the datatype-directed interpretation: signed integer
// types widen from two's complement, UInt64 beyond MaxInt64 promotes to
// float64, and is_null wins over any value field. DataSet values are
// not materialized; their fields skip like unknown fields.
//
// Generated protobuf bindings were deliberately avoided: the schema is
// stable, the message shapes are small, and protowire keeps the module
// free of a code generation step.
package sparkplug
