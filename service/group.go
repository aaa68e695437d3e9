// Package service wires the long-running parts of the process into a
// single ordered lifecycle. Components register in dependency order;
// the group initializes and starts them front to back, stops them back
// to front, and aggregates their health statuses for the health
// endpoint.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/health"
)

// Component is the lifecycle contract every managed part implements.
// Initialize allocates resources without touching the network, Start
// connects and launches goroutines, Stop drains within the timeout.
type Component interface {
	Name() string
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// HealthSource reports health for a part whose lifetime the group does
// not manage, such as the shared database pool that outlives every
// component.
type HealthSource interface {
	Health() health.Status
}

// Group runs registered components as one unit.
type Group struct {
	name   string
	logger *slog.Logger

	// regMu guards the registration slices so health snapshots never
	// block behind a slow component Stop.
	regMu      sync.Mutex
	components []Component
	sources    []HealthSource

	// lifeMu serializes Initialize, Start, and Stop.
	lifeMu      sync.Mutex
	initialized bool
	started     int
}

// NewGroup creates an empty group. name labels the aggregate health
// status.
func NewGroup(name string, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{
		name:   name,
		logger: logger.With("component", "service"),
	}
}

// Add registers components. Registration order is start order; Stop
// runs in reverse.
func (g *Group) Add(components ...Component) {
	g.regMu.Lock()
	defer g.regMu.Unlock()
	g.components = append(g.components, components...)
}

// AddHealthSource registers a health-only member. Sources appear before
// components in Statuses, since they are the substrate the components
// depend on.
func (g *Group) AddHealthSource(sources ...HealthSource) {
	g.regMu.Lock()
	defer g.regMu.Unlock()
	g.sources = append(g.sources, sources...)
}

// Initialize initializes every component in registration order. The
// first failure aborts; nothing is rolled back because Initialize must
// not acquire external resources.
func (g *Group) Initialize() error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()

	if g.initialized {
		return nil
	}
	for _, c := range g.snapshotComponents() {
		if err := c.Initialize(); err != nil {
			return errors.Wrap(err, "service", "Initialize",
				fmt.Sprintf("initializing %s", c.Name()))
		}
		g.logger.Debug("component initialized", "name", c.Name())
	}
	g.initialized = true
	return nil
}

// Start starts every component in registration order. On failure the
// error is returned immediately; components already running stay up so
// the caller can Stop the group for an orderly unwind.
func (g *Group) Start(ctx context.Context) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()

	if !g.initialized {
		return errors.WrapInvalid(errors.ErrNotStarted, "service", "Start", "call Initialize first")
	}
	if g.started > 0 {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "service", "Start", "group already started")
	}

	components := g.snapshotComponents()
	for _, c := range components {
		startedAt := time.Now()
		if err := c.Start(ctx); err != nil {
			return errors.Wrap(err, "service", "Start",
				fmt.Sprintf("starting %s", c.Name()))
		}
		g.started++
		g.logger.Info("component started",
			"name", c.Name(),
			"duration_ms", time.Since(startedAt).Milliseconds())
	}
	g.logger.Info("all components started", "count", len(components))
	return nil
}

// Stop stops started components in reverse order, giving each the full
// timeout. A component that fails to stop is logged and skipped so the
// rest still get their shutdown. Safe to call more than once.
func (g *Group) Stop(timeout time.Duration) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()

	if g.started == 0 {
		g.initialized = false
		return nil
	}

	components := g.snapshotComponents()
	overallStart := time.Now()
	var failures []error
	for i := g.started - 1; i >= 0; i-- {
		c := components[i]
		stopStart := time.Now()
		if err := c.Stop(timeout); err != nil {
			g.logger.Error("component stop failed",
				"name", c.Name(),
				"duration_ms", time.Since(stopStart).Milliseconds(),
				"error", err)
			failures = append(failures, fmt.Errorf("stop %s: %w", c.Name(), err))
			continue
		}
		g.logger.Debug("component stopped",
			"name", c.Name(),
			"duration_ms", time.Since(stopStart).Milliseconds())
	}
	g.started = 0
	g.initialized = false

	g.logger.Info("shutdown sequence completed",
		"duration_ms", time.Since(overallStart).Milliseconds(),
		"errors", len(failures))
	if len(failures) > 0 {
		return fmt.Errorf("failed to stop %d components: %v", len(failures), failures)
	}
	return nil
}

// Statuses returns the current health of every registered member,
// sources first, components in registration order.
func (g *Group) Statuses() []health.Status {
	g.regMu.Lock()
	sources := make([]HealthSource, len(g.sources))
	copy(sources, g.sources)
	components := make([]Component, len(g.components))
	copy(components, g.components)
	g.regMu.Unlock()

	statuses := make([]health.Status, 0, len(sources)+len(components))
	for _, s := range sources {
		statuses = append(statuses, s.Health())
	}
	for _, c := range components {
		statuses = append(statuses, c.Health())
	}
	return statuses
}

// Health aggregates every member status into one: unhealthy dominates,
// then degraded, then healthy.
func (g *Group) Health() health.Status {
	return health.Aggregate(g.name, g.Statuses())
}

func (g *Group) snapshotComponents() []Component {
	g.regMu.Lock()
	defer g.regMu.Unlock()
	components := make([]Component, len(g.components))
	copy(components, g.components)
	return components
}
