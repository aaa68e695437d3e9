package ingress

import (
	"context"
	"time"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/hotcache"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/sparkplug"
	"github.com/joyautomation/mantle/storage"
	"github.com/joyautomation/mantle/topology"
	"github.com/joyautomation/mantle/types"
)

// propertyTimeout bounds the fire-and-forget property upsert, which
// runs outside the worker's context.
const propertyTimeout = 5 * time.Second

// processFrame is the pipeline worker body. One frame decodes into
// samples which update topology, then per sample: history insert,
// property upsert (fire-and-forget), alarm evaluation, and fan-out.
// Sample order within the frame and frame order within an identity are
// preserved by the keyed pool.
func (i *Ingress) processFrame(ctx context.Context, f frame) error {
	payload, err := sparkplug.DecodePayload(f.payload)
	if err != nil {
		i.metrics.recordDecodeError()
		i.log.Warn("dropping undecodable frame", "topic", f.topic.String(), "error", err)
		return nil
	}

	samples := make([]topology.MetricSample, 0, len(payload.Metrics))
	for idx := range payload.Metrics {
		m := &payload.Metrics[idx]
		if m.Name == "" {
			// Alias-only metric; without the birth alias table there is
			// no identity to attribute it to.
			i.log.Debug("skipping unnamed metric", "topic", f.topic.String(), "alias", m.Alias)
			continue
		}
		if def := templateDefinition(m); def != nil {
			if f.topic.Type.IsBirth() {
				i.deps.Topology.RegisterTemplate(*def)
			}
			continue
		}
		samples = append(samples, metricSample(m, payload, f.received))
	}

	i.applyTopology(f.topic, samples)

	var errs []error
	for _, s := range samples {
		id := f.topic.Identity(s.Name)
		i.metrics.recordSample()

		if i.deps.Historian {
			sample := storage.Sample{Identity: id, TS: s.Timestamp, Type: s.Type, Value: s.Value}
			if err := i.deps.Store.RecordSample(ctx, sample); err != nil {
				i.log.Error("history insert failed", "identity", id.Key(), "error", err)
				errs = append(errs, err)
			}
		}
		if len(s.Properties) > 0 {
			go i.upsertProperties(id, s.Properties)
		}
		if err := i.deps.Alarms.Evaluate(ctx, id, s.Value); err != nil {
			i.log.Error("alarm evaluation failed", "identity", id.Key(), "error", err)
		}
		i.fanOut(ctx, id, s)
	}
	return errors.Join(errs...)
}

// applyTopology folds the frame's samples into the tree. Birth and
// data apply identically at the tree level; metrics absent from the
// frame stay in place either way.
func (i *Ingress) applyTopology(t sparkplug.Topic, samples []topology.MetricSample) {
	switch t.Type {
	case sparkplug.MessageNBirth:
		i.deps.Topology.ApplyNodeBirth(t.Group, t.Node, samples)
	case sparkplug.MessageNData:
		i.deps.Topology.ApplyNodeData(t.Group, t.Node, samples)
	case sparkplug.MessageDBirth:
		i.deps.Topology.ApplyDeviceBirth(t.Group, t.Node, t.Device, samples)
	case sparkplug.MessageDData:
		i.deps.Topology.ApplyDeviceData(t.Group, t.Node, t.Device, samples)
	}
}

// upsertProperties merges metric properties without blocking the
// pipeline. Errors are logged and dropped.
func (i *Ingress) upsertProperties(id types.Identity, props types.PropertyMap) {
	ctx, cancel := context.WithTimeout(context.Background(), propertyTimeout)
	defer cancel()
	if err := i.deps.Store.UpsertProperties(ctx, id, props); err != nil {
		i.log.Warn("property upsert failed", "identity", id.Key(), "error", err)
	}
}

// fanOut delivers the current value: into the hot cache when it is
// connected (its keyspace feed publishes the update), otherwise
// directly onto the in-process broker. A cache write failure falls
// back to direct publish so the update is never lost.
func (i *Ingress) fanOut(ctx context.Context, id types.Identity, s topology.MetricSample) {
	if i.deps.Cache != nil && i.deps.Cache.Connected() {
		rec := hotcache.Record{Identity: id, Type: s.Type, Value: s.Value, Timestamp: s.Timestamp}
		err := i.deps.Cache.Store(ctx, rec)
		if err == nil {
			return
		}
		i.log.Warn("hot cache store failed, publishing directly", "identity", id.Key(), "error", err)
	}
	if i.deps.Broker != nil {
		update := types.MetricUpdate{
			Identity:  id,
			Type:      s.Type,
			Value:     s.Value.String(),
			Timestamp: s.Timestamp,
		}
		i.deps.Broker.Publish(types.TopicMetricUpdate, update)
	}
}

// metricSample converts one decoded metric into a topology sample with
// its effective timestamp resolved.
func metricSample(m *sparkplug.Metric, p *sparkplug.Payload, received int64) topology.MetricSample {
	ts := effectiveTimestamp(m, p, received)
	props := m.Properties.ToMap(ts)

	s := topology.MetricSample{
		Name:       m.Name,
		Type:       m.Datatype.String(),
		Value:      m.Value,
		Timestamp:  ts,
		ScanRate:   scanRateFrom(props),
		Properties: props,
	}
	if m.Datatype == sparkplug.DataTypeTemplate && m.Template != nil {
		s.TemplateRef = m.Template.TemplateRef
	}
	return s
}

// effectiveTimestamp resolves ms since epoch: the metric's own stamp,
// else the payload stamp, else the arrival clock. Wire stamps written
// in epoch seconds are scaled up.
func effectiveTimestamp(m *sparkplug.Metric, p *sparkplug.Payload, received int64) int64 {
	if m.Timestamp != 0 {
		return timestamp.Normalize(int64(m.Timestamp))
	}
	if p.Timestamp != 0 {
		return timestamp.Normalize(int64(p.Timestamp))
	}
	return received
}

// scanRateFrom pulls the conventional scanRate property when present.
func scanRateFrom(props types.PropertyMap) int64 {
	entry, ok := props["scanRate"]
	if !ok {
		return 0
	}
	switch v := entry.Value.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// templateDefinition extracts a registrable definition, or nil when
// the metric is not a template definition.
func templateDefinition(m *sparkplug.Metric) *topology.TemplateDefinition {
	if m.Datatype != sparkplug.DataTypeTemplate || m.Template == nil || !m.Template.IsDefinition {
		return nil
	}
	def := topology.TemplateDefinition{Name: m.Name, Version: m.Template.Version}
	for _, member := range m.Template.Metrics {
		if member.Name == "" {
			continue
		}
		def.Members = append(def.Members, topology.TemplateMember{
			Name: member.Name,
			Type: member.Datatype.String(),
		})
	}
	return &def
}
