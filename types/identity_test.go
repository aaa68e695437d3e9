package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_Key(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{
			name: "device-level metric",
			id:   Identity{Group: "plant1", Node: "line1", Device: "press", Metric: "Temperature"},
			want: "plant1|line1|press|Temperature",
		},
		{
			name: "node-level metric keeps empty device segment",
			id:   Identity{Group: "plant1", Node: "line1", Metric: "Status"},
			want: "plant1|line1||Status",
		},
		{
			name: "metric name with slashes",
			id:   Identity{Group: "g", Node: "n", Device: "d", Metric: "Motor/Current"},
			want: "g|n|d|Motor/Current",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.Key())
		})
	}
}

func TestParseKey_RoundTrip(t *testing.T) {
	ids := []Identity{
		{Group: "plant1", Node: "line1", Device: "press", Metric: "Temperature"},
		{Group: "plant1", Node: "line1", Metric: "Status"},
	}

	for _, id := range ids {
		got, err := ParseKey(id.Key())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestParseKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"too few segments", "g|n|m"},
		{"too many segments", "g|n|d|m|extra"},
		{"empty string", ""},
		{"missing metric", "g|n|d|"},
		{"missing group", "|n|d|m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestIdentity_CacheKey(t *testing.T) {
	id := Identity{Group: "plant1", Node: "line1", Device: "press", Metric: "Temperature"}

	// Field order is fixed so equal identities produce identical keys.
	want := `{"group":"plant1","node":"line1","device":"press","metric":"Temperature"}`
	assert.Equal(t, want, id.CacheKey())

	got, err := ParseCacheKey(id.CacheKey())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseCacheKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not JSON", "plant1|line1|press|Temperature"},
		{"wrong shape", `["plant1","line1"]`},
		{"missing metric", `{"group":"g","node":"n","device":"d"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCacheKey(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestIdentity_Validate(t *testing.T) {
	valid := Identity{Group: "g", Node: "n", Device: "d", Metric: "m"}
	require.NoError(t, valid.Validate())

	nodeLevel := Identity{Group: "g", Node: "n", Metric: "m"}
	require.NoError(t, nodeLevel.Validate())
	assert.True(t, nodeLevel.IsNodeLevel())
	assert.False(t, valid.IsNodeLevel())

	tests := []struct {
		name string
		id   Identity
	}{
		{"missing group", Identity{Node: "n", Metric: "m"}},
		{"missing node", Identity{Group: "g", Metric: "m"}},
		{"missing metric", Identity{Group: "g", Node: "n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.id.Validate())
		})
	}
}
