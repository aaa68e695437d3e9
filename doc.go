// Package mantle is a Sparkplug B historian and application node.
//
// Mantle consumes Sparkplug B traffic from an MQTT broker, maintains a
// live topology of every group, node, device, and metric it has seen,
// persists metric history to TimescaleDB, evaluates alarm rules against
// the stream, and exposes the whole surface over GraphQL with live
// subscriptions.
//
// # Architecture
//
// Data flows through the process in one direction. The ingress consumes
// broker traffic, the topology and storage layers record it, and the
// gateway serves it:
//
//	┌──────────────────────────────────────┐
//	│            MQTT Broker               │  spBv1.0 traffic
//	│     (Sparkplug B, shared subs)       │
//	└──────────────────┬───────────────────┘
//	                   ↓
//	┌──────────────────────────────────────┐
//	│             Ingress                  │  decode, seq checks,
//	│  (session, pipeline, rebirth, cmd)   │  rebirth requests
//	└──────┬───────────┬───────────┬───────┘
//	       ↓           ↓           ↓
//	┌──────────┐ ┌──────────┐ ┌──────────┐
//	│ Topology │ │ Storage  │ │  Alarms  │
//	│ (memory) │ │(Timescale│ │ (rules,  │
//	│          │ │ + Redis) │ │ webhooks)│
//	└──────┬───┘ └────┬─────┘ └────┬─────┘
//	       ↓          ↓            ↓
//	┌──────────────────────────────────────┐
//	│          In-process pub/sub          │  metric and alarm
//	│             (broker)                 │  fan-out
//	└──────────────────┬───────────────────┘
//	                   ↓
//	┌──────────────────────────────────────┐
//	│           GraphQL gateway            │  queries, mutations,
//	│     (HTTP POST + websocket subs)     │  subscriptions
//	└──────────────────────────────────────┘
//
// # Packages
//
// The top-level packages map onto the stages above:
//
//   - sparkplug: topic parsing and protobuf payload codec for the
//     Sparkplug B wire format
//   - ingress: MQTT session management, the decode pipeline, sequence
//     tracking with rebirth requests, and the NCMD/DCMD write path
//   - topology: the in-memory group/node/device/metric tree and
//     template registry
//   - storage: TimescaleDB history, property persistence, hidden
//     items, usage reporting, and schema migrations
//   - hotcache: optional Redis write-through of latest values
//   - alarm: rule evaluation, delay timers that survive restarts, and
//     at-most-once webhook dispatch
//   - pubsub: the in-process broker connecting ingress and alarms to
//     gateway subscriptions
//   - gateway/graphql: the GraphQL executor, resolver, and transport
//   - service: ordered lifecycle for the long-running components
//
// Supporting packages (config, errors, health, metric, types, hidden,
// and pkg/...) carry the ambient concerns: configuration layering,
// error classification, health aggregation, Prometheus metrics, and
// small reusable utilities.
//
// # Sparkplug session
//
// Mantle is a Sparkplug application node, not a primary host. It
// subscribes to the birth, death, and data classes of the spBv1.0
// namespace, optionally through a shared subscription group so
// multiple replicas split the load, and tracks each edge node's
// birth/death lifecycle. Out-of-order sequence numbers trigger a
// rebirth request (NCMD "Node Control/Rebirth") so the node
// re-announces its full metric set.
//
// Metric writes travel the other way: a GraphQL mutation becomes an
// NCMD or DCMD publish addressed to the owning edge node, which is
// expected to echo the new value back through its own data publish.
//
// # Alarm delivery
//
// Alarm rules evaluate on every metric update. Rules with a delay only
// fire after the condition has held continuously for the configured
// duration; pending transitions are persisted so a restart mid-delay
// resumes the timer instead of dropping it. Webhook notifications are
// dispatched at most once per transition: the transition is committed
// to storage before the HTTP POST, so a crash between commit and post
// drops the notification rather than duplicating it.
package mantle
