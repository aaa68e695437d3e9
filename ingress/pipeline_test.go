package ingress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyautomation/mantle/config"
	"github.com/joyautomation/mantle/hotcache"
	"github.com/joyautomation/mantle/pubsub"
	"github.com/joyautomation/mantle/sparkplug"
	"github.com/joyautomation/mantle/storage"
	"github.com/joyautomation/mantle/topology"
	"github.com/joyautomation/mantle/types"
)

type fakeHistorian struct {
	mu         sync.Mutex
	samples    []storage.Sample
	properties map[string]types.PropertyMap
	propCh     chan types.Identity

	recordErr error

	historyScopes  []types.Scope
	hiddenScopes   []types.Scope
	propertyScopes []types.Scope
	historyErr     error
	hiddenErr      error
}

func newFakeHistorian() *fakeHistorian {
	return &fakeHistorian{
		properties: make(map[string]types.PropertyMap),
		propCh:     make(chan types.Identity, 16),
	}
}

func (f *fakeHistorian) RecordSample(_ context.Context, sample storage.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeHistorian) UpsertProperties(_ context.Context, id types.Identity, entries types.PropertyMap) error {
	f.mu.Lock()
	f.properties[id.Key()] = entries
	f.mu.Unlock()
	f.propCh <- id
	return nil
}

func (f *fakeHistorian) DeleteHistory(_ context.Context, sc types.Scope) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return 0, f.historyErr
	}
	f.historyScopes = append(f.historyScopes, sc)
	return 2, nil
}

func (f *fakeHistorian) DeleteHiddenByScope(_ context.Context, sc types.Scope) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hiddenErr != nil {
		return 0, f.hiddenErr
	}
	f.hiddenScopes = append(f.hiddenScopes, sc)
	return 1, nil
}

func (f *fakeHistorian) DeleteProperties(_ context.Context, sc types.Scope) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.propertyScopes = append(f.propertyScopes, sc)
	return 1, nil
}

func (f *fakeHistorian) recorded() []storage.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Sample, len(f.samples))
	copy(out, f.samples)
	return out
}

type fakeEvaluator struct {
	mu    sync.Mutex
	calls []evalCall
}

type evalCall struct {
	id    types.Identity
	value types.Value
}

func (f *fakeEvaluator) Evaluate(_ context.Context, id types.Identity, value types.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, evalCall{id: id, value: value})
	return nil
}

func (f *fakeEvaluator) evaluated() []evalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]evalCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeCache struct {
	mu        sync.Mutex
	connected bool
	storeErr  error
	deleteErr error
	records   []hotcache.Record
	scopes    []types.Scope
}

func (f *fakeCache) Connected() bool { return f.connected }

func (f *fakeCache) Store(_ context.Context, rec hotcache.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeCache) DeleteByScope(_ context.Context, sc types.Scope) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.scopes = append(f.scopes, sc)
	return 1, nil
}

func newTestIngress(t *testing.T, deps Deps) *Ingress {
	t.Helper()
	if deps.Topology == nil {
		deps.Topology = topology.NewHost()
	}
	ing, err := New(config.MQTTConfig{BrokerURL: "tcp://localhost:1883"}, deps, slog.Default(), nil)
	require.NoError(t, err)
	return ing
}

func encodeFrame(t *testing.T, topic string, p *sparkplug.Payload, received int64) frame {
	t.Helper()
	parsed, err := sparkplug.ParseTopic(topic)
	require.NoError(t, err)
	return frame{topic: parsed, payload: sparkplug.EncodePayload(p), received: received}
}

func TestProcessFrame_NodeBirth(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	topo := topology.NewHost()
	ing := newTestIngress(t, Deps{
		Topology: topo, Store: hist, Alarms: eval, Historian: true,
	})

	f := encodeFrame(t, "spBv1.0/plant/NBIRTH/line1", &sparkplug.Payload{
		Timestamp: 1700000000000,
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Timestamp: 1700000000100, Datatype: sparkplug.DataTypeDouble, Value: types.NewFloat(72.5)},
			{Name: "running", Datatype: sparkplug.DataTypeBoolean, Value: types.NewBool(true)},
		},
	}, 1700000001000)

	require.NoError(t, ing.processFrame(context.Background(), f))

	m, ok := topo.Get(types.Identity{Group: "plant", Node: "line1", Metric: "temperature"})
	require.True(t, ok)
	assert.Equal(t, "Double", m.Type)
	assert.Equal(t, int64(1700000000100), m.Timestamp, "metric stamp wins over payload stamp")

	m, ok = topo.Get(types.Identity{Group: "plant", Node: "line1", Metric: "running"})
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), m.Timestamp, "payload stamp fills missing metric stamp")

	samples := hist.recorded()
	require.Len(t, samples, 2, "births are recorded like data")
	assert.Equal(t, "temperature", samples[0].Identity.Metric)
	assert.Equal(t, int64(1700000000100), samples[0].TS)

	calls := eval.evaluated()
	require.Len(t, calls, 2)
	assert.Equal(t, "temperature", calls[0].id.Metric)
	f64v, ok := calls[0].value.Float64()
	require.True(t, ok)
	assert.Equal(t, 72.5, f64v)
}

func TestProcessFrame_DeviceDataIdentity(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Historian: true})

	f := encodeFrame(t, "spBv1.0/plant/DDATA/line1/press", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "pressure", Datatype: sparkplug.DataTypeFloat, Value: types.NewFloat(4.2)},
		},
	}, 1700000002000)

	require.NoError(t, ing.processFrame(context.Background(), f))

	samples := hist.recorded()
	require.Len(t, samples, 1)
	want := types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "pressure"}
	assert.Equal(t, want, samples[0].Identity)
	assert.Equal(t, int64(1700000002000), samples[0].TS, "arrival clock backstops missing stamps")
}

func TestProcessFrame_UndecodableFrameDropped(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Historian: true})

	parsed, err := sparkplug.ParseTopic("spBv1.0/plant/NDATA/line1")
	require.NoError(t, err)
	f := frame{topic: parsed, payload: []byte{0xff, 0xff, 0xff}, received: 1}

	require.NoError(t, ing.processFrame(context.Background(), f), "drops are not worker failures")
	assert.Empty(t, hist.recorded())
	assert.Empty(t, eval.evaluated())
}

func TestProcessFrame_AliasOnlyMetricSkipped(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Historian: true})

	f := encodeFrame(t, "spBv1.0/plant/NDATA/line1", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Alias: 7, Datatype: sparkplug.DataTypeInt32, Value: types.NewInt(1)},
			{Name: "named", Datatype: sparkplug.DataTypeInt32, Value: types.NewInt(2)},
		},
	}, 1)

	require.NoError(t, ing.processFrame(context.Background(), f))

	samples := hist.recorded()
	require.Len(t, samples, 1)
	assert.Equal(t, "named", samples[0].Identity.Metric)
}

func TestProcessFrame_HistorianDisabled(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	broker, err := pubsub.NewBroker(nil)
	require.NoError(t, err)
	t.Cleanup(broker.Close)
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Broker: broker, Historian: false})

	sub, err := broker.Subscribe(types.TopicMetricUpdate, 4)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	f := encodeFrame(t, "spBv1.0/plant/NDATA/line1", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Datatype: sparkplug.DataTypeDouble, Value: types.NewFloat(70)},
		},
	}, 1)

	require.NoError(t, ing.processFrame(context.Background(), f))

	assert.Empty(t, hist.recorded(), "no history rows without the historian")
	assert.Len(t, eval.evaluated(), 1, "alarms still evaluate")

	select {
	case raw := <-sub.C():
		update, ok := raw.(types.MetricUpdate)
		require.True(t, ok)
		assert.Equal(t, "70", update.Value)
	case <-time.After(time.Second):
		t.Fatal("no metric update published")
	}
}

func TestProcessFrame_FanOutPrefersConnectedCache(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	cache := &fakeCache{connected: true}
	broker, err := pubsub.NewBroker(nil)
	require.NoError(t, err)
	t.Cleanup(broker.Close)
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Cache: cache, Broker: broker, Historian: true})

	sub, err := broker.Subscribe(types.TopicMetricUpdate, 4)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	f := encodeFrame(t, "spBv1.0/plant/NDATA/line1", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Timestamp: 5000, Datatype: sparkplug.DataTypeDouble, Value: types.NewFloat(71)},
		},
	}, 1)

	require.NoError(t, ing.processFrame(context.Background(), f))

	require.Len(t, cache.records, 1)
	rec := cache.records[0]
	assert.Equal(t, "temperature", rec.Identity.Metric)
	assert.Equal(t, int64(5000), rec.Timestamp)
	fv, ok := rec.Value.Float64()
	require.True(t, ok)
	assert.Equal(t, 71.0, fv, "cache keeps the typed value")

	select {
	case <-sub.C():
		t.Fatal("connected cache must swallow the update; its keyspace feed publishes")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessFrame_CacheFailureFallsBackToBroker(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	cache := &fakeCache{connected: true, storeErr: errors.New("redis down")}
	broker, err := pubsub.NewBroker(nil)
	require.NoError(t, err)
	t.Cleanup(broker.Close)
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Cache: cache, Broker: broker, Historian: true})

	sub, err := broker.Subscribe(types.TopicMetricUpdate, 4)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	f := encodeFrame(t, "spBv1.0/plant/NDATA/line1", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Datatype: sparkplug.DataTypeDouble, Value: types.NewFloat(71)},
		},
	}, 1)

	require.NoError(t, ing.processFrame(context.Background(), f))

	select {
	case raw := <-sub.C():
		update, ok := raw.(types.MetricUpdate)
		require.True(t, ok)
		assert.Equal(t, "71", update.Value)
	case <-time.After(time.Second):
		t.Fatal("update lost when cache store failed")
	}
}

func TestProcessFrame_PropertiesUpsertedAsync(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Historian: true})

	f := encodeFrame(t, "spBv1.0/plant/DBIRTH/line1/press", &sparkplug.Payload{
		Timestamp: 9000,
		Metrics: []sparkplug.Metric{{
			Name:     "temperature",
			Datatype: sparkplug.DataTypeDouble,
			Value:    types.NewFloat(70),
			Properties: &sparkplug.PropertySet{
				Keys: []string{"engUnit", "scanRate"},
				Values: []sparkplug.PropertyValue{
					{Type: sparkplug.DataTypeString, Value: types.NewString("degF")},
					{Type: sparkplug.DataTypeInt32, Value: types.NewInt(1000)},
				},
			},
		}},
	}, 1)

	require.NoError(t, ing.processFrame(context.Background(), f))

	select {
	case id := <-hist.propCh:
		assert.Equal(t, "temperature", id.Metric)
		hist.mu.Lock()
		props := hist.properties[id.Key()]
		hist.mu.Unlock()
		require.Contains(t, props, "engUnit")
		assert.Equal(t, "degF", props["engUnit"].Value)
		assert.Equal(t, int64(9000), props["engUnit"].UpdatedAt)
	case <-time.After(2 * time.Second):
		t.Fatal("property upsert never happened")
	}

	m, ok := ing.deps.Topology.Get(types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "temperature"})
	require.True(t, ok)
	assert.Equal(t, int64(1000), m.ScanRate, "scanRate property lands on the topology metric")
}

func TestProcessFrame_TemplateDefinitionRegistered(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	topo := topology.NewHost()
	ing := newTestIngress(t, Deps{Topology: topo, Store: hist, Alarms: eval, Historian: true})

	f := encodeFrame(t, "spBv1.0/plant/NBIRTH/line1", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{{
			Name:     "MotorType",
			Datatype: sparkplug.DataTypeTemplate,
			Template: &sparkplug.Template{
				Version:      "1.2",
				IsDefinition: true,
				Metrics: []sparkplug.Metric{
					{Name: "rpm", Datatype: sparkplug.DataTypeDouble},
					{Name: "state", Datatype: sparkplug.DataTypeString},
				},
			},
		}},
	}, 1)

	require.NoError(t, ing.processFrame(context.Background(), f))

	defs := topo.Templates()
	require.Len(t, defs, 1)
	assert.Equal(t, "MotorType", defs[0].Name)
	assert.Equal(t, "1.2", defs[0].Version)
	require.Len(t, defs[0].Members, 2)
	assert.Equal(t, "rpm", defs[0].Members[0].Name)
	assert.Equal(t, "Double", defs[0].Members[0].Type)

	assert.Empty(t, hist.recorded(), "definitions are not samples")
	assert.Empty(t, eval.evaluated())
}

func TestProcessFrame_TemplateInstanceKeepsRef(t *testing.T) {
	hist := newFakeHistorian()
	eval := &fakeEvaluator{}
	topo := topology.NewHost()
	ing := newTestIngress(t, Deps{Topology: topo, Store: hist, Alarms: eval, Historian: true})

	f := encodeFrame(t, "spBv1.0/plant/DBIRTH/line1/press", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{{
			Name:     "motor1",
			Datatype: sparkplug.DataTypeTemplate,
			Template: &sparkplug.Template{TemplateRef: "MotorType"},
		}},
	}, 1)

	require.NoError(t, ing.processFrame(context.Background(), f))

	m, ok := topo.Get(types.Identity{Group: "plant", Node: "line1", Device: "press", Metric: "motor1"})
	require.True(t, ok)
	assert.Equal(t, "MotorType", m.TemplateRef)
	assert.Empty(t, topo.Templates(), "instances register nothing")
}

func TestProcessFrame_HistoryErrorSurfacesButContinues(t *testing.T) {
	hist := newFakeHistorian()
	hist.recordErr = errors.New("insert failed")
	eval := &fakeEvaluator{}
	ing := newTestIngress(t, Deps{Store: hist, Alarms: eval, Historian: true})

	f := encodeFrame(t, "spBv1.0/plant/NDATA/line1", &sparkplug.Payload{
		Metrics: []sparkplug.Metric{
			{Name: "temperature", Datatype: sparkplug.DataTypeDouble, Value: types.NewFloat(70)},
		},
	}, 1)

	err := ing.processFrame(context.Background(), f)
	require.Error(t, err)
	assert.Len(t, eval.evaluated(), 1, "evaluation proceeds past a failed insert")
}

func TestEffectiveTimestamp(t *testing.T) {
	m := &sparkplug.Metric{Timestamp: 1_700_000_000_100}
	p := &sparkplug.Payload{Timestamp: 1_700_000_000_200}
	assert.Equal(t, int64(1_700_000_000_100), effectiveTimestamp(m, p, 1_700_000_000_300))

	m.Timestamp = 0
	assert.Equal(t, int64(1_700_000_000_200), effectiveTimestamp(m, p, 1_700_000_000_300))

	p.Timestamp = 0
	assert.Equal(t, int64(1_700_000_000_300), effectiveTimestamp(m, p, 1_700_000_000_300))
}

func TestEffectiveTimestampScalesSecondStamps(t *testing.T) {
	m := &sparkplug.Metric{Timestamp: 1_700_000_000}
	p := &sparkplug.Payload{}
	assert.Equal(t, int64(1_700_000_000_000), effectiveTimestamp(m, p, 1_700_000_000_300))
}

func TestScanRateFrom(t *testing.T) {
	assert.Equal(t, int64(0), scanRateFrom(nil))
	assert.Equal(t, int64(0), scanRateFrom(types.PropertyMap{"engUnit": {Value: "degF"}}))
	assert.Equal(t, int64(500), scanRateFrom(types.PropertyMap{"scanRate": {Value: int64(500)}}))
	assert.Equal(t, int64(500), scanRateFrom(types.PropertyMap{"scanRate": {Value: float64(500)}}))
	assert.Equal(t, int64(0), scanRateFrom(types.PropertyMap{"scanRate": {Value: "fast"}}))
}
