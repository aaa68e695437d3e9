package ingress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/sparkplug"
	"github.com/joyautomation/mantle/types"
)

func TestCommandTopic(t *testing.T) {
	tests := []struct {
		name    string
		id      types.Identity
		want    string
		wantErr bool
	}{
		{
			name: "node metric routes NCMD",
			id:   types.Identity{Group: "plant", Node: "line1", Metric: "setpoint"},
			want: "spBv1.0/plant/NCMD/line1",
		},
		{
			name: "device metric routes DCMD",
			id:   types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "setpoint"},
			want: "spBv1.0/plant/DCMD/line1/press",
		},
		{
			name: "node control prefix overrides device segment",
			id:   types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "Node Control/Rebirth"},
			want: "spBv1.0/plant/NCMD/line1",
		},
		{
			name: "device control prefix routes DCMD",
			id:   types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "Device Control/Rebirth"},
			want: "spBv1.0/plant/DCMD/line1/press",
		},
		{
			name:    "device control without device fails",
			id:      types.Identity{Group: "plant", Node: "line1", Metric: "Device Control/Rebirth"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, err := commandTopic(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, topic.String())
		})
	}
}

func TestInferCommandValue(t *testing.T) {
	tests := []struct {
		raw      string
		wantType sparkplug.DataType
		want     types.Value
	}{
		{"true", sparkplug.DataTypeBoolean, types.NewBool(true)},
		{"false", sparkplug.DataTypeBoolean, types.NewBool(false)},
		{"42.5", sparkplug.DataTypeFloat, types.NewFloat(42.5)},
		{"-3", sparkplug.DataTypeFloat, types.NewFloat(-3)},
		{"1e3", sparkplug.DataTypeFloat, types.NewFloat(1000)},
		{"True", sparkplug.DataTypeString, types.NewString("True")},
		{"open", sparkplug.DataTypeString, types.NewString("open")},
		{"", sparkplug.DataTypeString, types.NewString("")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			dt, val := inferCommandValue(tt.raw)
			assert.Equal(t, tt.wantType, dt)
			assert.Equal(t, tt.want, val)
		})
	}
}

func TestNextSeq_WrapsPerEdgeNode(t *testing.T) {
	ing := newTestIngress(t, Deps{Store: newFakeHistorian(), Alarms: &fakeEvaluator{}})

	for want := uint64(0); want < 256; want++ {
		assert.Equal(t, want, ing.nextSeq("plant", "line1"))
	}
	assert.Equal(t, uint64(0), ing.nextSeq("plant", "line1"), "sequence wraps after 255")
	assert.Equal(t, uint64(0), ing.nextSeq("plant", "line2"), "each edge node counts independently")
}

func TestWriteMetric_RequiresConnection(t *testing.T) {
	ing := newTestIngress(t, Deps{Store: newFakeHistorian(), Alarms: &fakeEvaluator{}})

	id := types.Identity{Group: "plant", Node: "line1", Metric: "setpoint"}
	err := ing.WriteMetric(context.Background(), id, "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestWriteMetric_RejectsInvalidIdentity(t *testing.T) {
	ing := newTestIngress(t, Deps{Store: newFakeHistorian(), Alarms: &fakeEvaluator{}})

	err := ing.WriteMetric(context.Background(), types.Identity{Group: "plant"}, "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidIdentity)
}
