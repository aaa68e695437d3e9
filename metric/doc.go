// Package metric provides Prometheus-based metrics collection and serving.
//
// # Architecture
//
// A single MetricsRegistry owns the Prometheus registry for the whole
// process. Process-level metrics (build info, broker and cache
// connection state) are created once at startup; components register
// their own counters through the registry:
//
//	registry := metric.NewMetricsRegistry()
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "mantle",
//	    Subsystem: "ingress",
//	    Name:      "samples_total",
//	    Help:      "Total metric samples decoded from Sparkplug payloads",
//	})
//	if err := registry.RegisterCounter("ingress", "samples_total", counter); err != nil {
//	    return err
//	}
//
// Registration is tracked per (component, metric) pair so a component
// restarted within the same process fails fast on double registration
// instead of silently double counting.
//
// # Naming
//
// All metrics use the "mantle" namespace with a subsystem per concern:
// mantle_ingress_frames_total, mantle_broker_connected,
// mantle_hotcache_connected, and so on.
//
// # Serving
//
// Server exposes the registry on its own HTTP port with OpenMetrics
// negotiation enabled, plus a trivial /health endpoint:
//
//	srv := metric.NewServer(9090, "/metrics", registry)
//	go srv.Start()
//	defer srv.Stop()
//
// Go runtime and process collectors are included automatically.
package metric
