package types

// Pub/sub topics carried by the in-process event fabric. Defined here
// so publishers and subscribers share one vocabulary without importing
// each other.
const (
	// TopicMetricUpdate carries flattened MetricUpdate records, either
	// directly from ingestion or batched through the hot-cache drain.
	TopicMetricUpdate = "metricUpdate"

	// TopicAlarmStateChange carries AlarmTransition records for every
	// durable alarm state transition.
	TopicAlarmStateChange = "alarmStateChange"
)

// MetricUpdate is the flattened record published on TopicMetricUpdate.
// Values are always stringified here regardless of the persisted column
// type; subscribers that need numbers re-parse.
type MetricUpdate struct {
	Identity
	Type      string `json:"type"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// Topic returns the pub/sub topic for metric updates.
func (MetricUpdate) Topic() string { return TopicMetricUpdate }

// AlarmTransition is published on TopicAlarmStateChange for every state
// change, and forms the body of webhook deliveries for transitions to
// active and from any non-normal state to normal.
type AlarmTransition struct {
	EventID   string     `json:"eventId"`
	RuleID    string     `json:"ruleId"`
	RuleName  string     `json:"ruleName"`
	Identity  Identity   `json:"identity"`
	FromState AlarmState `json:"fromState"`
	ToState   AlarmState `json:"toState"`
	Value     string     `json:"value"`
	Timestamp int64      `json:"timestamp"`
}

// Topic returns the pub/sub topic for alarm transitions.
func (AlarmTransition) Topic() string { return TopicAlarmStateChange }

// IsWebhookWorthy reports whether the transition should produce a
// webhook delivery: any entry into active, or any return to normal from
// a non-normal state. Normal-to-normal and pending bookkeeping stay
// internal.
func (t AlarmTransition) IsWebhookWorthy() bool {
	if t.ToState == StateActive {
		return true
	}
	return t.ToState == StateNormal && t.FromState != StateNormal
}
