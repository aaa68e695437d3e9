// Package topology maintains the in-memory model of everything the
// Sparkplug feed has announced: groups, nodes, devices, and their
// metrics with last values, plus template definitions harvested from
// BIRTH frames.
//
// The tree is mutated by the ingestion pipeline and by delete
// mutations, always under the Host mutex; no reader ever observes a
// partially applied frame. Readers call Snapshot, which returns sorted,
// deeply copied view slices that share nothing with the live tree, so
// request handlers can hold results as long as they like.
//
// The model is deliberately value-only. Connection liveness, sequence
// numbers, and death certificates are broker-session concerns that stay
// in the ingestion layer; the topology answers "what exists and what
// was its last value", nothing more.
package topology
