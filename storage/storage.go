package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joyautomation/mantle/config"
	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/health"
	"github.com/joyautomation/mantle/metric"
)

// Store wraps a pgxpool.Pool and exposes every persistence operation
// the system performs. Safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	log     *slog.Logger
	metrics *storeMetrics
}

// New connects to the configured database, verifies the connection, and
// returns a ready Store. Pool construction failure is fatal to startup;
// callers should not retry here.
func New(ctx context.Context, cfg config.DBConfig, log *slog.Logger, reg *metric.MetricsRegistry) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, errors.WrapFatal(err, "storage", "New", "pool construction")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "storage", "New", "database ping")
	}

	m, err := newStoreMetrics(reg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("storage connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Name)
	return &Store{pool: pool, log: log, metrics: m}, nil
}

// NewWithPool wraps an existing pool. Used by tests that manage their
// own connection lifecycle.
func NewWithPool(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log}
}

// EnsureDatabase connects to the admin database and creates the target
// database when it does not exist yet.
func EnsureDatabase(ctx context.Context, cfg config.DBConfig) error {
	conn, err := pgx.Connect(ctx, cfg.AdminConnString())
	if err != nil {
		return errors.WrapTransient(err, "storage", "EnsureDatabase", "admin connection")
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Name).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "storage", "EnsureDatabase", "database lookup")
	}
	if exists {
		return nil
	}

	// CREATE DATABASE takes no bind parameters; the name must be quoted
	// as an identifier.
	stmt := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{cfg.Name}.Sanitize())
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return errors.Wrap(err, "storage", "EnsureDatabase", "database creation")
	}
	return nil
}

// Close releases the pool. The Store is unusable afterwards.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.WrapTransient(err, "storage", "Ping", "database ping")
	}
	return nil
}

// Health reports connectivity as a health status.
func (s *Store) Health() health.Status {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return health.NewUnhealthyFromError("storage", err)
	}
	stat := s.pool.Stat()
	return health.NewHealthy("storage",
		fmt.Sprintf("pool %d/%d connections", stat.AcquiredConns(), stat.MaxConns()))
}

type storeMetrics struct {
	inserts   prometheus.Counter
	conflicts prometheus.Counter
	deletes   prometheus.Counter
}

// newStoreMetrics returns nil when reg is nil; recording methods are
// nil-safe so callers never branch.
func newStoreMetrics(reg *metric.MetricsRegistry) (*storeMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &storeMetrics{
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle", Subsystem: "storage", Name: "inserts_total",
			Help: "History rows inserted",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle", Subsystem: "storage", Name: "conflicts_total",
			Help: "Duplicate sample inserts swallowed",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle", Subsystem: "storage", Name: "deleted_rows_total",
			Help: "Rows removed by delete cascades",
		}),
	}
	if err := reg.RegisterCounter("storage", "inserts_total", m.inserts); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter("storage", "conflicts_total", m.conflicts); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter("storage", "deleted_rows_total", m.deletes); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) recordInsert() {
	if m == nil {
		return
	}
	m.inserts.Inc()
}

func (m *storeMetrics) recordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *storeMetrics) recordDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.deletes.Add(float64(n))
}
