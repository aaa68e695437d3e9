package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/health"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/pubsub"
	"github.com/joyautomation/mantle/storage"
	"github.com/joyautomation/mantle/types"
)

// commitTimeout bounds storage writes made from timer callbacks, which
// have no caller context.
const commitTimeout = 5 * time.Second

// Store is the persistence surface the engine needs. *storage.Store
// implements it.
type Store interface {
	Rules(ctx context.Context) ([]types.AlarmRule, error)
	CreateRule(ctx context.Context, rule types.AlarmRule) error
	UpdateRule(ctx context.Context, rule types.AlarmRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	RuleStates(ctx context.Context) ([]types.AlarmStatus, error)
	UpdateRuleState(ctx context.Context, st types.AlarmStatus) error
	CommitTransition(ctx context.Context, st types.AlarmStatus, ev types.AlarmEvent) (types.AlarmEvent, error)
	AlarmEvents(ctx context.Context, filter storage.AlarmEventFilter) ([]types.AlarmEvent, error)
}

// Engine owns the alarm rule cache and every rule's state machine.
// All mutation goes through the engine so the cache, the in-memory
// states, and the durable rows never diverge.
type Engine struct {
	store   Store
	broker  *pubsub.Broker
	hook    *Dispatcher
	log     *slog.Logger
	metrics *engineMetrics

	mu      sync.Mutex
	rules   map[string][]*types.AlarmRule
	byID    map[uuid.UUID]*types.AlarmRule
	states  map[uuid.UUID]types.AlarmStatus
	timers  map[uuid.UUID]*time.Timer
	stopped bool

	// Overridable for deterministic tests.
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates an engine. hook may be nil when webhooks are not
// configured; transitions then only publish on the broker.
func New(store Store, broker *pubsub.Broker, hook *Dispatcher, log *slog.Logger, reg *metric.MetricsRegistry) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	metrics, err := newEngineMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:     store,
		broker:    broker,
		hook:      hook,
		log:       log.With("component", "alarm"),
		metrics:   metrics,
		rules:     make(map[string][]*types.AlarmRule),
		byID:      make(map[uuid.UUID]*types.AlarmRule),
		states:    make(map[uuid.UUID]types.AlarmStatus),
		timers:    make(map[uuid.UUID]*time.Timer),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}, nil
}

// Name identifies the component.
func (e *Engine) Name() string { return "alarm" }

// Initialize is part of the lifecycle contract; the engine allocates
// in New and loads in Start, so there is nothing to do.
func (e *Engine) Initialize() error { return nil }

// Start loads rules and states, rebuilds the rule cache, and recovers
// pending alarms: overdue ones activate immediately, the rest get a
// timer for the remaining delay, and rules disabled while pending
// reset to normal.
func (e *Engine) Start(ctx context.Context) error {
	rules, err := e.store.Rules(ctx)
	if err != nil {
		return err
	}
	states, err := e.store.RuleStates(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range rules {
		rule := &rules[i]
		e.byID[rule.ID] = rule
		key := rule.Identity.Key()
		e.rules[key] = append(e.rules[key], rule)
	}
	for _, st := range states {
		e.states[st.RuleID] = st
	}

	recovered := 0
	for _, st := range states {
		if st.State != types.StatePending {
			continue
		}
		rule, ok := e.byID[st.RuleID]
		if !ok {
			continue
		}
		recovered++

		if !rule.Enabled {
			if err := e.commitLocked(ctx, rule, types.StateNormal, st.LastValue); err != nil {
				e.log.Error("failed to reset disabled pending alarm", "rule", rule.ID, "error", err)
			}
			continue
		}

		remaining := time.Duration(rule.DelaySeconds)*time.Second - e.now().Sub(derefTime(st.ConditionMetAt))
		if st.ConditionMetAt == nil || remaining <= 0 {
			if err := e.commitLocked(ctx, rule, types.StateActive, st.LastValue); err != nil {
				e.log.Error("failed to activate overdue pending alarm", "rule", rule.ID, "error", err)
			}
			continue
		}
		e.armTimerLocked(rule.ID, remaining)
		e.log.Info("re-armed pending alarm", "rule", rule.ID, "remaining", remaining)
	}

	e.log.Info("alarm engine started", "rules", len(rules), "pending_recovered", recovered)
	return nil
}

// Stop cancels every pending timer. In-flight timer callbacks see the
// stopped flag and do nothing.
func (e *Engine) Stop(time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "alarm", "Stop", "engine already stopped")
	}
	e.stopped = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	return nil
}

// Health reports rule and timer counts.
func (e *Engine) Health() health.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return health.NewHealthy("alarm",
		fmt.Sprintf("%d rules, %d pending timers", len(e.byID), len(e.timers)))
}

// CreateRule validates and persists a new rule, assigns its id and
// timestamps, and registers it in the cache with a normal state.
func (e *Engine) CreateRule(ctx context.Context, rule types.AlarmRule) (types.AlarmRule, error) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := e.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := rule.Validate(); err != nil {
		return types.AlarmRule{}, err
	}

	if err := e.store.CreateRule(ctx, rule); err != nil {
		return types.AlarmRule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	r := rule
	e.byID[r.ID] = &r
	key := r.Identity.Key()
	e.rules[key] = append(e.rules[key], &r)
	e.states[r.ID] = types.AlarmStatus{RuleID: r.ID, State: types.StateNormal, UpdatedAt: now}
	return rule, nil
}

// UpdateRule rewrites a rule's definition and keeps the cache
// coherent, rebucketing when the identity changed. Disabling a
// non-normal rule cancels its timer and forces the state to normal.
func (e *Engine) UpdateRule(ctx context.Context, rule types.AlarmRule) (types.AlarmRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.byID[rule.ID]
	if !ok {
		return types.AlarmRule{}, errors.WrapInvalid(errors.ErrRuleNotFound, "alarm", "UpdateRule",
			fmt.Sprintf("rule %s", rule.ID))
	}

	rule.CreatedAt = current.CreatedAt
	rule.UpdatedAt = e.now().UTC()
	if err := rule.Validate(); err != nil {
		return types.AlarmRule{}, err
	}

	if err := e.store.UpdateRule(ctx, rule); err != nil {
		return types.AlarmRule{}, err
	}

	e.removeFromBucketLocked(current)
	r := rule
	e.byID[r.ID] = &r
	key := r.Identity.Key()
	e.rules[key] = append(e.rules[key], &r)

	if !r.Enabled {
		e.cancelTimerLocked(r.ID)
		if st := e.states[r.ID]; st.State != types.StateNormal {
			if err := e.commitLocked(ctx, &r, types.StateNormal, st.LastValue); err != nil {
				return types.AlarmRule{}, err
			}
		}
	}
	return rule, nil
}

// DeleteRule removes a rule, its timer, and its cache entries. The
// state and history rows go with it through the schema cascade.
func (e *Engine) DeleteRule(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.byID[id]
	if !ok {
		return errors.WrapInvalid(errors.ErrRuleNotFound, "alarm", "DeleteRule",
			fmt.Sprintf("rule %s", id))
	}
	if err := e.store.DeleteRule(ctx, id); err != nil {
		return err
	}

	e.cancelTimerLocked(id)
	e.removeFromBucketLocked(rule)
	delete(e.byID, id)
	delete(e.states, id)
	return nil
}

// Acknowledge moves an active alarm to acknowledged. Any other state
// is rejected with ErrAlarmNotActive.
func (e *Engine) Acknowledge(ctx context.Context, id uuid.UUID) (types.AlarmStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.byID[id]
	if !ok {
		return types.AlarmStatus{}, errors.WrapInvalid(errors.ErrRuleNotFound, "alarm", "Acknowledge",
			fmt.Sprintf("rule %s", id))
	}
	st := e.states[id]
	if st.State != types.StateActive {
		return types.AlarmStatus{}, errors.WrapInvalid(errors.ErrAlarmNotActive, "alarm", "Acknowledge",
			fmt.Sprintf("rule %s is %s", id, st.State))
	}

	if err := e.commitLocked(ctx, rule, types.StateAcknowledged, st.LastValue); err != nil {
		return types.AlarmStatus{}, err
	}
	return e.states[id], nil
}

// Rules returns every rule, oldest first.
func (e *Engine) Rules() []types.AlarmRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.AlarmRule, 0, len(e.byID))
	for _, rule := range e.byID {
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Rule returns one rule by id.
func (e *Engine) Rule(id uuid.UUID) (types.AlarmRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.byID[id]
	if !ok {
		return types.AlarmRule{}, false
	}
	return *rule, true
}

// States returns every rule's current state, ordered by rule id.
func (e *Engine) States() []types.AlarmStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.AlarmStatus, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID.String() < out[j].RuleID.String() })
	return out
}

// StateFor returns the state of one rule.
func (e *Engine) StateFor(id uuid.UUID) (types.AlarmStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	return st, ok
}

// History returns transition audit rows through the store.
func (e *Engine) History(ctx context.Context, filter storage.AlarmEventFilter) ([]types.AlarmEvent, error) {
	return e.store.AlarmEvents(ctx, filter)
}

func (e *Engine) removeFromBucketLocked(rule *types.AlarmRule) {
	key := rule.Identity.Key()
	bucket := e.rules[key]
	for i, r := range bucket {
		if r.ID == rule.ID {
			e.rules[key] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(e.rules[key]) == 0 {
		delete(e.rules, key)
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

type engineMetrics struct {
	evaluations prometheus.Counter
	transitions *prometheus.CounterVec
}

func newEngineMetrics(reg *metric.MetricsRegistry) (*engineMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &engineMetrics{
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "alarm",
			Name:      "evaluations_total",
			Help:      "Total number of rule evaluations",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "alarm",
			Name:      "transitions_total",
			Help:      "Total number of alarm state transitions",
		}, []string{"to_state"}),
	}
	if err := reg.RegisterCounter("alarm", "evaluations_total", m.evaluations); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounterVec("alarm", "transitions_total", m.transitions); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *engineMetrics) recordEvaluation() {
	if m == nil {
		return
	}
	m.evaluations.Inc()
}

func (m *engineMetrics) recordTransition(to types.AlarmState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}
