package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyautomation/mantle/types"
)

func sampleTemp(value float64, ts int64) MetricSample {
	return MetricSample{
		Name:      "Temperature",
		Type:      "Double",
		Value:     types.NewFloat(value),
		Timestamp: ts,
	}
}

func TestHost_ApplyNodeBirth(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{
		sampleTemp(72.5, 1000),
		{Name: "Status", Type: "String", Value: types.NewString("running"), Timestamp: 1000},
	})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Temperature"})
	require.True(t, ok)
	assert.Equal(t, "Double", m.Type)
	f, ok := m.Value.Float64()
	require.True(t, ok)
	assert.Equal(t, 72.5, f)
	assert.Equal(t, int64(1000), m.Timestamp)

	st := h.Stats()
	assert.Equal(t, 1, st.Groups)
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, 0, st.Devices)
	assert.Equal(t, 2, st.Metrics)
}

func TestHost_ApplyDeviceBirth(t *testing.T) {
	h := NewHost()
	h.ApplyDeviceBirth("plant", "line1", "press", []MetricSample{
		{Name: "Cycles", Type: "Int64", Value: types.NewInt(42), Timestamp: 5},
	})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "Cycles"})
	require.True(t, ok)
	i, ok := m.Value.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(42), i)

	st := h.Stats()
	assert.Equal(t, 1, st.Devices)
	assert.Equal(t, 1, st.Metrics)
}

func TestHost_DataUpdatePreservesType(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{sampleTemp(72.5, 1000)})

	// NDATA frames usually omit the datatype.
	h.ApplyNodeData("plant", "line1", []MetricSample{
		{Name: "Temperature", Value: types.NewFloat(73.1), Timestamp: 2000},
	})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Temperature"})
	require.True(t, ok)
	assert.Equal(t, "Double", m.Type)
	f, _ := m.Value.Float64()
	assert.Equal(t, 73.1, f)
	assert.Equal(t, int64(2000), m.Timestamp)
}

func TestHost_DataCreatesUnknownMetric(t *testing.T) {
	h := NewHost()
	h.ApplyNodeData("plant", "line1", []MetricSample{
		{Name: "Pressure", Value: types.NewFloat(1.5), Timestamp: 10},
	})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Pressure"})
	require.True(t, ok)
	assert.Equal(t, "", m.Type)
	f, _ := m.Value.Float64()
	assert.Equal(t, 1.5, f)
}

func TestHost_NullValueUpdates(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{sampleTemp(72.5, 1000)})
	h.ApplyNodeData("plant", "line1", []MetricSample{
		{Name: "Temperature", Value: types.NullValue(), Timestamp: 2000},
	})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Temperature"})
	require.True(t, ok)
	assert.True(t, m.Value.IsNull())
	assert.Equal(t, int64(2000), m.Timestamp)
}

func TestHost_PropertyMerge(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{{
		Name:      "Temperature",
		Type:      "Double",
		Value:     types.NewFloat(72.5),
		Timestamp: 1000,
		Properties: types.PropertyMap{
			"engUnit": {Value: "degF", Type: "String", UpdatedAt: 1000},
			"engHigh": {Value: 100.0, Type: "Double", UpdatedAt: 1000},
		},
	}})
	h.ApplyNodeData("plant", "line1", []MetricSample{{
		Name:      "Temperature",
		Value:     types.NewFloat(73.0),
		Timestamp: 2000,
		Properties: types.PropertyMap{
			"engUnit": {Value: "degC", Type: "String", UpdatedAt: 2000},
		},
	}})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Temperature"})
	require.True(t, ok)
	require.Len(t, m.Properties, 2)
	assert.Equal(t, "degC", m.Properties["engUnit"].Value)
	assert.Equal(t, 100.0, m.Properties["engHigh"].Value)
}

func TestHost_ScanRateAndTemplateRefSticky(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{{
		Name:        "Motor",
		Type:        "Template",
		Value:       types.NullValue(),
		Timestamp:   1000,
		ScanRate:    5000,
		TemplateRef: "MotorType",
	}})

	// Updates that omit scan rate and template ref keep the birth values.
	h.ApplyNodeData("plant", "line1", []MetricSample{
		{Name: "Motor", Value: types.NullValue(), Timestamp: 2000},
	})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Motor"})
	require.True(t, ok)
	assert.Equal(t, int64(5000), m.ScanRate)
	assert.Equal(t, "MotorType", m.TemplateRef)
}

func TestHost_SkipsUnnamedSamples(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{
		{Value: types.NewInt(1), Timestamp: 1},
		sampleTemp(72.5, 1000),
	})
	assert.Equal(t, 1, h.Stats().Metrics)
}

func TestHost_GetMisses(t *testing.T) {
	h := NewHost()
	h.ApplyDeviceBirth("plant", "line1", "press", []MetricSample{sampleTemp(72.5, 1)})

	cases := []types.Identity{
		{Group: "other", Node: "line1", Metric: "Temperature"},
		{Group: "plant", Node: "other", Metric: "Temperature"},
		{Group: "plant", Node: "line1", Device: "other", Metric: "Temperature"},
		{Group: "plant", Node: "line1", Device: "press", Metric: "other"},
		{Group: "plant", Node: "line1", Metric: "Temperature"},
	}
	for _, id := range cases {
		_, ok := h.Get(id)
		assert.False(t, ok, "identity %s", id.Key())
	}
}

func TestHost_GetReturnsPropertyCopy(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{{
		Name:       "Temperature",
		Value:      types.NewFloat(1),
		Properties: types.PropertyMap{"engUnit": {Value: "degF", Type: "String"}},
	}})

	m, ok := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Temperature"})
	require.True(t, ok)
	m.Properties["engUnit"] = types.PropertyEntry{Value: "mutated", Type: "String"}

	again, _ := h.Get(types.Identity{Group: "plant", Node: "line1", Metric: "Temperature"})
	assert.Equal(t, "degF", again.Properties["engUnit"].Value)
}

func TestHost_SnapshotSortedAndIndependent(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("zeta", "n1", []MetricSample{sampleTemp(1, 1)})
	h.ApplyNodeBirth("alpha", "n2", []MetricSample{
		{Name: "b", Value: types.NewInt(2), Timestamp: 1},
		{Name: "a", Value: types.NewInt(1), Timestamp: 1},
	})
	h.ApplyNodeBirth("alpha", "n1", []MetricSample{sampleTemp(1, 1)})
	h.ApplyDeviceBirth("alpha", "n1", "d2", []MetricSample{sampleTemp(1, 1)})
	h.ApplyDeviceBirth("alpha", "n1", "d1", []MetricSample{sampleTemp(1, 1)})

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].ID)
	assert.Equal(t, "zeta", snap[1].ID)

	require.Len(t, snap[0].Nodes, 2)
	assert.Equal(t, "n1", snap[0].Nodes[0].ID)
	assert.Equal(t, "n2", snap[0].Nodes[1].ID)

	require.Len(t, snap[0].Nodes[0].Devices, 2)
	assert.Equal(t, "d1", snap[0].Nodes[0].Devices[0].ID)
	assert.Equal(t, "d2", snap[0].Nodes[0].Devices[1].ID)

	require.Len(t, snap[0].Nodes[1].Metrics, 2)
	assert.Equal(t, "a", snap[0].Nodes[1].Metrics[0].Name)
	assert.Equal(t, "b", snap[0].Nodes[1].Metrics[1].Name)

	// Mutating the snapshot leaves the tree alone.
	snap[0].Nodes[1].Metrics[0].Name = "mutated"
	again := h.Snapshot()
	assert.Equal(t, "a", again[0].Nodes[1].Metrics[0].Name)
}

func TestHost_SnapshotEmpty(t *testing.T) {
	h := NewHost()
	assert.Empty(t, h.Snapshot())
}

func TestHost_DeleteMetric(t *testing.T) {
	h := NewHost()
	h.ApplyDeviceBirth("plant", "line1", "press", []MetricSample{sampleTemp(1, 1)})

	id := types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "Temperature"}
	assert.True(t, h.DeleteMetric(id))
	assert.False(t, h.DeleteMetric(id))

	_, ok := h.Get(id)
	assert.False(t, ok)

	// The device stays even when emptied.
	assert.Equal(t, 1, h.Stats().Devices)
}

func TestHost_DeleteDevice(t *testing.T) {
	h := NewHost()
	h.ApplyDeviceBirth("plant", "line1", "press", []MetricSample{sampleTemp(1, 1)})
	h.ApplyNodeBirth("plant", "line1", []MetricSample{sampleTemp(1, 1)})

	assert.True(t, h.DeleteDevice("plant", "line1", "press"))
	assert.False(t, h.DeleteDevice("plant", "line1", "press"))

	st := h.Stats()
	assert.Equal(t, 0, st.Devices)
	assert.Equal(t, 1, st.Metrics)
	assert.Equal(t, 1, st.Nodes)
}

func TestHost_DeleteNodePrunesEmptyGroup(t *testing.T) {
	h := NewHost()
	h.ApplyNodeBirth("plant", "line1", []MetricSample{sampleTemp(1, 1)})
	h.ApplyNodeBirth("plant", "line2", []MetricSample{sampleTemp(1, 1)})

	assert.True(t, h.DeleteNode("plant", "line1"))
	assert.Equal(t, 1, h.Stats().Groups)

	assert.True(t, h.DeleteNode("plant", "line2"))
	assert.Equal(t, 0, h.Stats().Groups)

	assert.False(t, h.DeleteNode("plant", "line2"))
	assert.False(t, h.DeleteDevice("plant", "line2", "press"))
}

func TestMetric_Identity(t *testing.T) {
	m := Metric{Name: "Temperature"}
	id := m.Identity("plant", "line1", "press")
	assert.Equal(t, "plant|line1|press|Temperature", id.Key())
}
