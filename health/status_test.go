package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		wantState State
		healthy   bool
	}{
		{name: "healthy", status: NewHealthy("storage", "connected"), wantState: StateHealthy, healthy: true},
		{name: "degraded", status: NewDegraded("hotcache", "reconnecting"), wantState: StateDegraded},
		{name: "unhealthy", status: NewUnhealthy("ingress", "broker lost"), wantState: StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantState, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.False(t, tt.status.Timestamp.IsZero())
			assert.NotEmpty(t, tt.status.Component)
			assert.NotEmpty(t, tt.status.Message)
		})
	}
}

func TestStatePredicates(t *testing.T) {
	assert.True(t, NewHealthy("a", "m").IsHealthy())
	assert.True(t, NewDegraded("a", "m").IsDegraded())
	assert.True(t, NewUnhealthy("a", "m").IsUnhealthy())

	var zero Status
	assert.False(t, zero.IsHealthy(), "the zero value reports no state")
	assert.False(t, zero.IsDegraded())
	assert.False(t, zero.IsUnhealthy())
}

func TestNewUnhealthyFromError(t *testing.T) {
	st := NewUnhealthyFromError("ingress", errors.New("dial ssl://broker.example.com:8883 refused"))
	assert.Equal(t, "ingress", st.Component)
	assert.True(t, st.IsUnhealthy())
	assert.False(t, st.Healthy)
	assert.Equal(t, "dial [URL] refused", st.Message)

	st = NewUnhealthyFromError("storage", nil)
	assert.Equal(t, "component unhealthy", st.Message)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []Status
		wantState   State
		wantMessage string
	}{
		{
			name:        "no members",
			statuses:    nil,
			wantState:   StateHealthy,
			wantMessage: "no components registered",
		},
		{
			name: "all healthy",
			statuses: []Status{
				NewHealthy("storage", "ok"),
				NewHealthy("ingress", "ok"),
			},
			wantState:   StateHealthy,
			wantMessage: "2 components healthy",
		},
		{
			name: "degraded member degrades the aggregate",
			statuses: []Status{
				NewHealthy("storage", "ok"),
				NewDegraded("hotcache", "reconnecting"),
			},
			wantState:   StateDegraded,
			wantMessage: "degraded: hotcache",
		},
		{
			name: "unhealthy dominates degraded",
			statuses: []Status{
				NewDegraded("hotcache", "reconnecting"),
				NewUnhealthy("ingress", "down"),
				NewUnhealthy("storage", "down"),
			},
			wantState:   StateUnhealthy,
			wantMessage: "unhealthy: ingress, storage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate("mantle", tt.statuses)
			assert.Equal(t, "mantle", agg.Component)
			assert.Equal(t, tt.wantState, agg.Status)
			assert.Equal(t, tt.wantMessage, agg.Message)
			assert.Len(t, agg.SubStatuses, len(tt.statuses))
			assert.False(t, agg.Timestamp.IsZero())
		})
	}
}

func TestAggregateCopiesMembers(t *testing.T) {
	members := []Status{
		NewHealthy("storage", "ok"),
		NewUnhealthy("ingress", "down"),
	}

	agg := Aggregate("mantle", members)
	require.Len(t, agg.SubStatuses, 2)

	agg.SubStatuses[0].Component = "mutated"
	assert.Equal(t, "storage", members[0].Component)
}

func TestConstructorTimestampWindow(t *testing.T) {
	before := time.Now()
	st := NewHealthy("storage", "ok")
	after := time.Now()

	assert.False(t, st.Timestamp.Before(before))
	assert.False(t, st.Timestamp.After(after))
}
