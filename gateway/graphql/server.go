package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/joyautomation/mantle/config"
	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/health"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/pubsub"
)

// Server is the HTTP front of the gateway. It serves queries and
// mutations on POST /query, subscriptions on the same path via
// graphql-transport-ws, the playground at /, and component health
// at /health.
type Server struct {
	config   config.GraphQLConfig
	resolver *Resolver
	broker   *pubsub.Broker
	healthFn func() []health.Status
	logger   *slog.Logger
	metrics  *gatewayMetrics

	executor   *Executor
	httpServer *http.Server
	listener   net.Listener

	running  bool
	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{wsSubprotocol},
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewServer creates the gateway server. healthFn supplies component
// statuses for the health endpoint and may be nil, as may reg when
// metrics are not wanted.
func NewServer(cfg config.GraphQLConfig, resolver *Resolver, broker *pubsub.Broker, healthFn func() []health.Status, logger *slog.Logger, reg *metric.MetricsRegistry) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "graphql", "NewServer", "config validation")
	}
	if resolver == nil {
		return nil, errors.WrapFatal(fmt.Errorf("resolver is nil"), "graphql", "NewServer",
			"resolver is required")
	}
	if broker == nil {
		return nil, errors.WrapFatal(fmt.Errorf("broker is nil"), "graphql", "NewServer",
			"broker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newGatewayMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:   cfg,
		resolver: resolver,
		broker:   broker,
		healthFn: healthFn,
		logger:   logger,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}, nil
}

// Name identifies the component.
func (s *Server) Name() string { return "graphql" }

// Initialize loads the schema and builds the HTTP routing.
func (s *Server) Initialize() error {
	executor, err := NewExecutor(s.resolver)
	if err != nil {
		return err
	}
	s.executor = executor

	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/health", s.handleHealth)
	if s.config.Playground {
		mux.Handle("/", playground.Handler("Mantle GraphQL", "/query"))
	}

	s.httpServer = &http.Server{
		Addr:        s.config.Addr,
		Handler:     s.corsMiddleware(mux),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("graphql server configured",
		"address", s.config.Addr,
		"playground", s.config.Playground)
	return nil
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "graphql", "Start", "server already running")
	}
	if s.httpServer == nil {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrNotStarted, "graphql", "Start", "call Initialize first")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapTransient(err, "graphql", "Start",
			fmt.Sprintf("listen on %s", s.config.Addr))
	}
	s.listener = ln
	s.running = true
	server := s.httpServer
	s.mu.Unlock()

	s.logger.Info("graphql server listening", "address", ln.Addr().String())
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("graphql server failed", "error", err)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

// Stop closes the stop channel so websocket sessions end, then shuts
// the HTTP server down gracefully.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	s.logger.Info("graphql server stopping")
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "graphql", "Stop", "graceful shutdown failed")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Health reports listener status.
func (s *Server) Health() health.Status {
	s.mu.RLock()
	running := s.running
	var addr string
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	s.mu.RUnlock()

	if !running {
		return health.NewUnhealthy("graphql", "server not running")
	}
	return health.NewHealthy("graphql", fmt.Sprintf("listening on %s", addr))
}

// Addr returns the bound address once the server has started, which
// matters when the configured address uses port 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleSubscription(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &Response{Errors: gqlerror.List{
			gqlerror.Errorf("malformed request body"),
		}})
		return
	}

	start := time.Now()
	resp := s.executor.Execute(r.Context(), req)
	s.metrics.observeRequest(time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.metrics.sessionOpened()
	defer s.metrics.sessionClosed()
	newWSSession(conn, s.executor, s.broker, s.logger).run(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := []health.Status{}
	if s.healthFn != nil {
		statuses = s.healthFn()
	}

	healthy := true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
			break
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy":    healthy,
		"components": statuses,
	})
}

// corsMiddleware allows browser clients from any origin. The gateway
// is expected to sit behind an ingress that narrows this when needed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type gatewayMetrics struct {
	requestDuration prometheus.Histogram
	wsSessions      prometheus.Gauge
}

// newGatewayMetrics returns nil when reg is nil; recording methods are
// nil-safe so callers never branch.
func newGatewayMetrics(reg *metric.MetricsRegistry) (*gatewayMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &gatewayMetrics{
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mantle", Subsystem: "gateway", Name: "request_duration_seconds",
			Help:    "GraphQL request execution time over POST /query",
			Buckets: prometheus.DefBuckets,
		}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mantle", Subsystem: "gateway", Name: "websocket_sessions",
			Help: "Open graphql-transport-ws sessions",
		}),
	}
	if err := reg.RegisterHistogram("gateway", "request_duration_seconds", m.requestDuration); err != nil {
		return nil, err
	}
	if err := reg.RegisterGauge("gateway", "websocket_sessions", m.wsSessions); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gatewayMetrics) observeRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.Observe(d.Seconds())
}

func (m *gatewayMetrics) sessionOpened() {
	if m == nil {
		return
	}
	m.wsSessions.Inc()
}

func (m *gatewayMetrics) sessionClosed() {
	if m == nil {
		return
	}
	m.wsSessions.Dec()
}
