package ingress

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/sparkplug"
	"github.com/joyautomation/mantle/types"
)

const publishTimeout = 10 * time.Second

// Command metric name prefixes with fixed routing regardless of the
// identity's device segment.
const (
	nodeControlPrefix   = "Node Control/"
	deviceControlPrefix = "Device Control/"
)

// WriteMetric publishes a Sparkplug write command carrying one metric.
// Node Control names route NCMD to the edge node, Device Control names
// route DCMD; otherwise the identity's device segment decides. The
// value type is inferred from the string: "true"/"false" publish a
// Boolean, a parseable number publishes a Float, anything else a
// String. A per-edge-node sequence counter (0-255 wrap) is attached.
func (i *Ingress) WriteMetric(ctx context.Context, id types.Identity, value string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if i.client == nil || !i.client.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "ingress", "WriteMetric", "broker not connected")
	}

	topic, err := commandTopic(id)
	if err != nil {
		return err
	}
	dt, val := inferCommandValue(value)

	now := uint64(timestamp.Now())
	payload := &sparkplug.Payload{
		Timestamp: now,
		Metrics: []sparkplug.Metric{{
			Name:      id.Metric,
			Timestamp: now,
			Datatype:  dt,
			Value:     val,
		}},
		Seq: i.nextSeq(id.Group, id.Node),
	}

	token := i.client.Publish(topic.String(), 0, false, sparkplug.EncodePayload(payload))
	select {
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "ingress", "WriteMetric", "publishing "+topic.String())
	case <-time.After(publishTimeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "ingress", "WriteMetric",
			"publishing "+topic.String())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "ingress", "WriteMetric", "publishing "+topic.String())
	}

	i.metrics.recordCommand()
	i.log.Info("write command published", "topic", topic.String(), "value", value, "type", dt.String())
	return nil
}

// commandTopic routes a write to NCMD or DCMD.
func commandTopic(id types.Identity) (sparkplug.Topic, error) {
	switch {
	case strings.HasPrefix(id.Metric, nodeControlPrefix):
		return sparkplug.Topic{Group: id.Group, Type: sparkplug.MessageNCmd, Node: id.Node}, nil
	case strings.HasPrefix(id.Metric, deviceControlPrefix):
		if id.Device == "" {
			return sparkplug.Topic{}, errors.WrapInvalid(errors.ErrInvalidIdentity, "ingress", "WriteMetric",
				"device control command requires a device")
		}
		return sparkplug.Topic{Group: id.Group, Type: sparkplug.MessageDCmd, Node: id.Node, Device: id.Device}, nil
	case id.Device == "":
		return sparkplug.Topic{Group: id.Group, Type: sparkplug.MessageNCmd, Node: id.Node}, nil
	default:
		return sparkplug.Topic{Group: id.Group, Type: sparkplug.MessageDCmd, Node: id.Node, Device: id.Device}, nil
	}
}

// inferCommandValue picks the wire type for a raw string value.
func inferCommandValue(raw string) (sparkplug.DataType, types.Value) {
	switch raw {
	case "true":
		return sparkplug.DataTypeBoolean, types.NewBool(true)
	case "false":
		return sparkplug.DataTypeBoolean, types.NewBool(false)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return sparkplug.DataTypeFloat, types.NewFloat(f)
	}
	return sparkplug.DataTypeString, types.NewString(raw)
}

// nextSeq returns the edge node's current command sequence position
// and advances it, wrapping after 255.
func (i *Ingress) nextSeq(group, node string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := group + "|" + node
	seq := i.seq[key]
	i.seq[key] = (seq + 1) % 256
	return seq
}
