package health

import (
	"fmt"
	"strings"
	"time"
)

// State is the reported condition of a component.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is a point-in-time report from one component, or an aggregate
// over several. The gateway serves these verbatim on its health
// endpoint, so messages must already be safe to expose.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a component operating normally.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded reports reduced but functional service, such as the hot
// cache reconnecting while ingestion and history writes continue.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy reports a component that is not functioning.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewUnhealthyFromError reports a failure described by err. The error
// text is redacted first so connection strings never reach the health
// endpoint.
func NewUnhealthyFromError(component string, err error) Status {
	if err == nil {
		return NewUnhealthy(component, "component unhealthy")
	}
	return NewUnhealthy(component, redact(err.Error()))
}

// IsHealthy reports whether the component is operating normally.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports whether the component runs with reduced service.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports whether the component is down.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// Aggregate folds component statuses into one. Any unhealthy member
// makes the aggregate unhealthy; otherwise any degraded member makes it
// degraded. The offending components are named in the message and the
// member statuses are carried as SubStatuses.
func Aggregate(component string, statuses []Status) Status {
	if len(statuses) == 0 {
		return NewHealthy(component, "no components registered")
	}

	var degraded, unhealthy []string
	for _, st := range statuses {
		switch st.Status {
		case StateDegraded:
			degraded = append(degraded, st.Component)
		case StateUnhealthy:
			unhealthy = append(unhealthy, st.Component)
		}
	}

	var agg Status
	switch {
	case len(unhealthy) > 0:
		agg = NewUnhealthy(component, "unhealthy: "+strings.Join(unhealthy, ", "))
	case len(degraded) > 0:
		agg = NewDegraded(component, "degraded: "+strings.Join(degraded, ", "))
	default:
		agg = NewHealthy(component, fmt.Sprintf("%d components healthy", len(statuses)))
	}
	agg.SubStatuses = append([]Status(nil), statuses...)
	return agg
}
