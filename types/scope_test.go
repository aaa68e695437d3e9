package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScope_Matches(t *testing.T) {
	nodeMetric := Identity{Group: "g", Node: "n", Metric: "m"}
	devMetric := Identity{Group: "g", Node: "n", Device: "d", Metric: "m"}

	tests := []struct {
		name  string
		scope Scope
		id    Identity
		want  bool
	}{
		{"node covers node metric", NodeScope("g", "n"), nodeMetric, true},
		{"node covers device metric", NodeScope("g", "n"), devMetric, true},
		{"node other group", NodeScope("other", "n"), devMetric, false},
		{"node other node", NodeScope("g", "other"), devMetric, false},
		{"device covers its metric", DeviceScope("g", "n", "d"), devMetric, true},
		{"device excludes node metric", DeviceScope("g", "n", "d"), nodeMetric, false},
		{"device other device", DeviceScope("g", "n", "other"), devMetric, false},
		{"metric exact", MetricScope(devMetric), devMetric, true},
		{"metric other metric", MetricScope(devMetric), Identity{Group: "g", Node: "n", Device: "d", Metric: "x"}, false},
		{"node-level metric exact", MetricScope(nodeMetric), nodeMetric, true},
		{"node-level metric excludes device", MetricScope(nodeMetric), devMetric, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.Matches(tt.id))
		})
	}
}

func TestScope_String(t *testing.T) {
	assert.Equal(t, "node g/n", NodeScope("g", "n").String())
	assert.Equal(t, "device g/n/d", DeviceScope("g", "n", "d").String())
	assert.Equal(t, "metric g/n/d/m", MetricScope(Identity{Group: "g", Node: "n", Device: "d", Metric: "m"}).String())
}
