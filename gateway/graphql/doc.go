// Package graphql is the query gateway for Mantle.
//
// It serves the full read and write surface over a single endpoint:
// live topology, recorded history, visibility controls, alarm rule
// management, and Sparkplug command writes, plus real-time
// subscriptions for metric updates and alarm transitions.
//
// # Endpoints
//
//	POST /query   queries and mutations
//	WS   /query   subscriptions (graphql-transport-ws subprotocol)
//	GET  /        GraphQL playground (when enabled)
//	GET  /health  aggregated component health
//
// # Execution model
//
// The schema is authored as SDL (schema.graphql) and loaded with
// gqlparser. Requests are parsed and validated against it, variables
// are coerced, and each top-level field dispatches to a resolver
// method on the in-process components. Resolved values are then
// projected through the request's selection set, which handles
// aliases, fragments, and skip/include directives. Introspection is
// precomputed from the schema at startup, so the playground and other
// schema-aware clients work out of the box.
//
// There is no code generation step. Adding a field means editing
// schema.graphql and the matching resolver case.
//
// # Subscriptions
//
// Subscriptions follow the graphql-transport-ws protocol: the client
// sends connection_init, receives connection_ack, then subscribes with
// an id. Each subscription attaches to the in-process broker topic for
// its field and streams events as next messages until the client
// completes or disconnects. Slow consumers do not block publishers;
// the broker drops events past each subscriber's buffer.
//
// Example:
//
//	subscription {
//	  metricUpdate {
//	    group
//	    node
//	    metric
//	    value
//	    timestamp
//	  }
//	}
//
// # Error handling
//
// Resolver errors are mapped to GraphQL errors with a stable code in
// the extensions:
//
//	INVALID_INPUT       - bad arguments or unknown identifiers
//	TRANSIENT_ERROR     - backend temporarily unavailable (retryable)
//	DEADLINE_EXCEEDED   - operation timed out (retryable)
//	INTERNAL_ERROR      - server-side failure
//
// Timestamps cross this API as the Timestamp scalar, a millisecond
// Unix epoch number.
package graphql
