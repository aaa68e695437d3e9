package alarm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/types"
)

// Evaluate runs every enabled rule bound to the metric identity
// against the sample value. Each rule advances its own state machine
// independently; one rule's storage failure does not stop the others.
// Transition timestamps come from the engine clock, not the sample,
// so delay recovery after a restart stays correct.
func (e *Engine) Evaluate(ctx context.Context, id types.Identity, value types.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	bucket := e.rules[id.Key()]
	if len(bucket) == 0 {
		return nil
	}

	var errs []error
	for _, rule := range bucket {
		if !rule.Enabled {
			continue
		}
		e.metrics.recordEvaluation()
		if err := e.evaluateRuleLocked(ctx, rule, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// evaluateRuleLocked advances one rule given a fresh sample. A sample
// arriving while pending never re-arms the timer; it only refreshes
// the observed value.
func (e *Engine) evaluateRuleLocked(ctx context.Context, rule *types.AlarmRule, value types.Value) error {
	st := e.states[rule.ID]
	met := conditionMet(rule, value)

	switch st.State {
	case types.StateNormal:
		if !met {
			return nil
		}
		if rule.DelaySeconds <= 0 {
			return e.commitLocked(ctx, rule, types.StateActive, value.String())
		}
		if err := e.commitLocked(ctx, rule, types.StatePending, value.String()); err != nil {
			return err
		}
		e.armTimerLocked(rule.ID, time.Duration(rule.DelaySeconds)*time.Second)
		return nil

	case types.StatePending:
		if !met {
			e.cancelTimerLocked(rule.ID)
			return e.commitLocked(ctx, rule, types.StateNormal, value.String())
		}
		// Still met: refresh the observed value without touching the
		// timer or the audit trail.
		st.LastValue = value.String()
		st.UpdatedAt = e.now().UTC()
		if err := e.store.UpdateRuleState(ctx, st); err != nil {
			return err
		}
		e.states[rule.ID] = st
		return nil

	case types.StateActive, types.StateAcknowledged:
		if met {
			st.LastValue = value.String()
			st.UpdatedAt = e.now().UTC()
			if err := e.store.UpdateRuleState(ctx, st); err != nil {
				return err
			}
			e.states[rule.ID] = st
			return nil
		}
		return e.commitLocked(ctx, rule, types.StateNormal, value.String())
	}
	return nil
}

// conditionMet reports whether the sample satisfies the rule
// condition. Values that cannot be read numerically never match, and
// a missing threshold on a threshold rule never matches.
func conditionMet(rule *types.AlarmRule, value types.Value) bool {
	f, ok := value.Numeric()
	if !ok {
		return false
	}
	switch rule.Type {
	case types.RuleTrue:
		return f != 0
	case types.RuleFalse:
		return f == 0
	case types.RuleAbove:
		return rule.Threshold != nil && f > *rule.Threshold
	case types.RuleBelow:
		return rule.Threshold != nil && f < *rule.Threshold
	}
	return false
}

// commitLocked performs a full state transition: build the next
// status, persist it atomically with its history row, update the
// cache, publish the transition, and hand webhook-worthy ones to the
// dispatcher. Callers hold e.mu.
func (e *Engine) commitLocked(ctx context.Context, rule *types.AlarmRule, to types.AlarmState, lastValue string) error {
	prev := e.states[rule.ID]
	now := e.now().UTC()

	next := types.AlarmStatus{
		RuleID:    rule.ID,
		State:     to,
		LastValue: lastValue,
		UpdatedAt: now,
	}
	switch to {
	case types.StatePending:
		next.ConditionMetAt = &now
	case types.StateActive:
		next.ConditionMetAt = prev.ConditionMetAt
		if next.ConditionMetAt == nil {
			next.ConditionMetAt = &now
		}
		next.ActivatedAt = &now
	case types.StateAcknowledged:
		next.ConditionMetAt = prev.ConditionMetAt
		next.ActivatedAt = prev.ActivatedAt
	case types.StateNormal:
		// Both markers clear.
	}

	tr := types.AlarmTransition{
		EventID:   uuid.NewString(),
		RuleID:    rule.ID.String(),
		RuleName:  rule.Name,
		Identity:  rule.Identity,
		FromState: string(prev.State),
		ToState:   string(to),
		Value:     lastValue,
		Timestamp: timestamp.ToUnixMs(now),
	}
	worthy := tr.IsWebhookWorthy() && e.hook != nil
	if worthy {
		next.LastNotifiedAt = &now
	} else {
		next.LastNotifiedAt = prev.LastNotifiedAt
	}

	ev := types.AlarmEvent{
		RuleID:     rule.ID,
		FromState:  prev.State,
		ToState:    to,
		Value:      lastValue,
		OccurredAt: now,
	}
	if _, err := e.store.CommitTransition(ctx, next, ev); err != nil {
		return err
	}

	e.states[rule.ID] = next
	e.metrics.recordTransition(to)
	if e.broker != nil {
		e.broker.Publish(types.TopicAlarmStateChange, tr)
	}
	if worthy {
		e.hook.Dispatch(tr)
	}
	e.log.Info("alarm transition",
		"rule", rule.ID, "name", rule.Name,
		"from", prev.State, "to", to, "value", lastValue)
	return nil
}

// armTimerLocked schedules the pending-to-active promotion. Any
// previous timer for the rule is cancelled first, though the state
// machine never arms twice without passing through normal.
func (e *Engine) armTimerLocked(ruleID uuid.UUID, d time.Duration) {
	e.cancelTimerLocked(ruleID)
	e.timers[ruleID] = e.afterFunc(d, func() { e.fireTimer(ruleID) })
}

func (e *Engine) cancelTimerLocked(ruleID uuid.UUID) {
	if t, ok := e.timers[ruleID]; ok {
		t.Stop()
		delete(e.timers, ruleID)
	}
}

// fireTimer runs when a rule's delay elapses. The rule may have been
// deleted, disabled, or returned to normal since the timer was armed;
// only a still-pending rule activates.
func (e *Engine) fireTimer(ruleID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	rule, ok := e.byID[ruleID]
	if !ok {
		return
	}
	st := e.states[ruleID]
	if st.State != types.StatePending {
		return
	}
	delete(e.timers, ruleID)

	if err := e.commitLocked(ctx, rule, types.StateActive, st.LastValue); err != nil {
		e.log.Error("failed to activate alarm after delay", "rule", ruleID, "error", err)
	}
}
