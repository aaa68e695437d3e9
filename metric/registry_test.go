package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyautomation/mantle/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func testCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mantle",
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestNewMetricsRegistryIncludesCoreAndRuntime(t *testing.T) {
	r := NewMetricsRegistry()
	r.CoreMetrics().RecordBuildInfo("test")
	r.CoreMetrics().RecordBrokerStatus(true)

	names := gatheredNames(t, r)
	assert.True(t, names["mantle_build_info"])
	assert.True(t, names["mantle_broker_connected"])
	assert.True(t, names["go_goroutines"], "runtime collectors should be present")
}

func TestRegisterCounterAndDuplicate(t *testing.T) {
	r := NewMetricsRegistry()

	require.NoError(t, r.RegisterCounter("ingress", "frames_total", testCounter("frames_total")))

	err := r.RegisterCounter("ingress", "frames_total", testCounter("frames_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterDistinctComponentsSameMetricName(t *testing.T) {
	r := NewMetricsRegistry()

	a := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mantle", Subsystem: "alpha", Name: "events_total", Help: "h",
	})
	b := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mantle", Subsystem: "beta", Name: "events_total", Help: "h",
	})

	require.NoError(t, r.RegisterCounter("alpha", "events_total", a))
	require.NoError(t, r.RegisterCounter("beta", "events_total", b))
}

func TestRegisterVariants(t *testing.T) {
	r := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mantle", Subsystem: "test", Name: "depth", Help: "h",
	})
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mantle", Subsystem: "test", Name: "latency_seconds", Help: "h",
	})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mantle", Subsystem: "test", Name: "events_total", Help: "h",
	}, []string{"kind"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mantle", Subsystem: "test", Name: "level", Help: "h",
	}, []string{"kind"})
	histVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mantle", Subsystem: "test", Name: "duration_seconds", Help: "h",
	}, []string{"kind"})

	require.NoError(t, r.RegisterGauge("test", "depth", gauge))
	require.NoError(t, r.RegisterHistogram("test", "latency_seconds", hist))
	require.NoError(t, r.RegisterCounterVec("test", "events_total", counterVec))
	require.NoError(t, r.RegisterGaugeVec("test", "level", gaugeVec))
	require.NoError(t, r.RegisterHistogramVec("test", "duration_seconds", histVec))

	counterVec.WithLabelValues("a").Inc()
	names := gatheredNames(t, r)
	assert.True(t, names["mantle_test_events_total"])
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()
	c := testCounter("gone_total")

	require.NoError(t, r.RegisterCounter("test", "gone_total", c))
	assert.True(t, r.Unregister("test", "gone_total"))
	assert.False(t, r.Unregister("test", "gone_total"), "second unregister finds nothing")

	// Re-registration after unregister must succeed.
	require.NoError(t, r.RegisterCounter("test", "gone_total", testCounter("gone_total")))
}

func TestConcurrentRegistration(t *testing.T) {
	r := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("c%d_total", n)
			errs[n] = r.RegisterCounter("test", name, testCounter(name))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoreRecordMethods(t *testing.T) {
	r := NewMetricsRegistry()
	core := r.CoreMetrics()

	core.RecordBrokerStatus(true)
	core.RecordBrokerStatus(false)
	core.RecordBrokerReconnect()
	core.RecordCacheStatus(true)
	core.RecordBuildInfo("1.2.3")

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[f.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 0.0, values["mantle_broker_connected"])
	assert.Equal(t, 1.0, values["mantle_broker_reconnects_total"])
	assert.Equal(t, 1.0, values["mantle_hotcache_connected"])
	assert.Equal(t, 1.0, values["mantle_build_info"])
}
