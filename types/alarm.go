package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joyautomation/mantle/errors"
)

// RuleType selects the alarm condition applied to incoming samples.
type RuleType string

// Supported rule types. Above and below compare against Threshold;
// true and false test the numeric promotion of the value.
const (
	RuleTrue  RuleType = "true"
	RuleFalse RuleType = "false"
	RuleAbove RuleType = "above"
	RuleBelow RuleType = "below"
)

// Valid reports whether the rule type is one of the supported four.
func (r RuleType) Valid() bool {
	switch r {
	case RuleTrue, RuleFalse, RuleAbove, RuleBelow:
		return true
	default:
		return false
	}
}

// RequiresThreshold reports whether the rule type compares against a
// numeric threshold.
func (r RuleType) RequiresThreshold() bool {
	return r == RuleAbove || r == RuleBelow
}

// AlarmState is the durable state of an alarm rule.
type AlarmState string

// Alarm states. Pending exists only for rules with a non-zero delay.
const (
	StateNormal       AlarmState = "normal"
	StatePending      AlarmState = "pending"
	StateActive       AlarmState = "active"
	StateAcknowledged AlarmState = "acknowledged"
)

// Valid reports whether the state is one of the four known states.
func (s AlarmState) Valid() bool {
	switch s {
	case StateNormal, StatePending, StateActive, StateAcknowledged:
		return true
	default:
		return false
	}
}

// AlarmRule defines one alarm condition bound to a metric identity.
type AlarmRule struct {
	ID uuid.UUID `json:"id"`
	Identity
	Name         string    `json:"name"`
	Type         RuleType  `json:"ruleType"`
	Threshold    *float64  `json:"threshold,omitempty"`
	DelaySeconds int       `json:"delaySec"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Validate enforces the rule invariants: a valid identity, a known rule
// type, a threshold present exactly when the type needs one, and a
// non-negative delay.
func (r AlarmRule) Validate() error {
	if err := r.Identity.Validate(); err != nil {
		return err
	}
	if r.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AlarmRule", "Validate", "rule name cannot be empty")
	}
	if !r.Type.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AlarmRule", "Validate",
			fmt.Sprintf("unknown rule type %q", r.Type))
	}
	if r.Type.RequiresThreshold() && r.Threshold == nil {
		return errors.WrapInvalid(errors.ErrThresholdRequired, "AlarmRule", "Validate",
			fmt.Sprintf("rule type %q requires a threshold", r.Type))
	}
	if r.DelaySeconds < 0 {
		return errors.WrapInvalid(errors.ErrNegativeDelay, "AlarmRule", "Validate",
			fmt.Sprintf("delay %d seconds", r.DelaySeconds))
	}
	return nil
}

// AlarmStatus is the current durable state row for a rule.
// ConditionMetAt is set on entry to pending (or direct activation),
// ActivatedAt on entry to active; both clear on return to normal.
type AlarmStatus struct {
	RuleID         uuid.UUID  `json:"ruleId"`
	State          AlarmState `json:"state"`
	LastValue      string     `json:"lastValue"`
	ConditionMetAt *time.Time `json:"conditionMetAt,omitempty"`
	ActivatedAt    *time.Time `json:"activatedAt,omitempty"`
	LastNotifiedAt *time.Time `json:"lastNotifiedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// AlarmEvent is one row of the alarm transition history.
type AlarmEvent struct {
	ID         int64      `json:"id"`
	RuleID     uuid.UUID  `json:"ruleId"`
	FromState  AlarmState `json:"fromState"`
	ToState    AlarmState `json:"toState"`
	Value      string     `json:"value"`
	OccurredAt time.Time  `json:"occurredAt"`
}
