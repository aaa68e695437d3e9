// Package health defines the status reports served on the gateway's
// health endpoint.
//
// Components expose a Health() Status method. The service group polls
// them on demand and Aggregate folds the results into one system
// status. Three states exist:
//
//   - healthy: operating normally
//   - degraded: reduced service, such as the hot cache reconnecting
//     while ingestion and history writes continue
//   - unhealthy: not functioning
//
// Aggregation takes the worst member state: any unhealthy component
// marks the system unhealthy, otherwise any degraded component marks it
// degraded. The aggregate message names the offending components.
//
// # Redaction
//
// NewUnhealthyFromError builds a status from a raw error. URLs, file
// paths, IP addresses, ports, and credential fragments are masked so
// driver errors can be exposed without leaking broker or database
// locations:
//
//	st := health.NewUnhealthyFromError("storage", err)
//	// st.Message: "dial [URL] refused" rather than the connection string
package health
