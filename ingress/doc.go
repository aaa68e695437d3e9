// Package ingress consumes Sparkplug-B frames from the MQTT broker and
// drives everything downstream: the in-memory topology, the history
// tables, property upserts, alarm evaluation, and the metric update
// fan-out (hot cache when connected, in-process pub/sub otherwise).
//
// Frames are dispatched onto a keyed worker pool hashed by the
// group|node|device prefix, so samples for one identity are processed
// in arrival order (history insert, then alarm evaluation to
// completion) while distinct identities proceed in parallel. The paho
// receive callback only parses the topic and enqueues; a backlogged
// lane drops the frame with a warning rather than stalling the broker
// connection.
//
// The package also owns the outbound command path (WriteMetric encodes
// NCMD/DCMD frames with a per-edge-node sequence counter) and the
// delete cascade that removes a node, device, or metric scope from
// topology, hot cache, history, hidden items, and properties in order.
package ingress
