// Package hidden implements declarative visibility filtering over the
// topology. Operators hide nodes, devices, or single metrics through
// rows in the hidden_items table; this package turns those rows into a
// constant-time lookup set and applies the cascade to topology
// projections: a hidden node takes its devices and metrics with it, a
// hidden device takes its metrics, and groups left without nodes are
// pruned from the result.
package hidden

import (
	"github.com/joyautomation/mantle/topology"
)

// Item mirrors one hidden_items row. Empty Device and Metric hide a
// whole node; empty Metric alone hides a whole device.
type Item struct {
	Group    string `json:"group"`
	Node     string `json:"node"`
	Device   string `json:"device"`
	Metric   string `json:"metric"`
	HiddenAt int64  `json:"hiddenAt"`
}

// Key returns the lookup key for the scope this item hides.
func (it Item) Key() string {
	switch {
	case it.Metric != "":
		return MetricKey(it.Group, it.Node, it.Device, it.Metric)
	case it.Device != "":
		return DeviceKey(it.Group, it.Node, it.Device)
	default:
		return NodeKey(it.Group, it.Node)
	}
}

// NodeKey is the lookup key hiding every metric and device under a node.
func NodeKey(group, node string) string {
	return "node:" + group + "/" + node
}

// DeviceKey is the lookup key hiding every metric under a device.
func DeviceKey(group, node, device string) string {
	return "device:" + group + "/" + node + "/" + device
}

// MetricKey is the lookup key hiding a single metric. Device is empty
// for node-level metrics.
func MetricKey(group, node, device, metric string) string {
	return group + "/" + node + "/" + device + "/" + metric
}

// Set answers visibility questions in O(1) after one pass over the
// hidden_items rows.
type Set map[string]struct{}

// NewSet builds the lookup set from table rows.
func NewSet(items []Item) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it.Key()] = struct{}{}
	}
	return s
}

// NodeHidden reports whether the node itself is hidden.
func (s Set) NodeHidden(group, node string) bool {
	_, ok := s[NodeKey(group, node)]
	return ok
}

// DeviceHidden reports whether the device is hidden, directly or
// through its node.
func (s Set) DeviceHidden(group, node, device string) bool {
	if s.NodeHidden(group, node) {
		return true
	}
	_, ok := s[DeviceKey(group, node, device)]
	return ok
}

// MetricHidden reports whether the metric is hidden, directly or
// through an ancestor.
func (s Set) MetricHidden(group, node, device, metric string) bool {
	if s.NodeHidden(group, node) {
		return true
	}
	if device != "" {
		if _, ok := s[DeviceKey(group, node, device)]; ok {
			return true
		}
	}
	_, ok := s[MetricKey(group, node, device, metric)]
	return ok
}

// Filter removes hidden entries from a topology projection. Groups left
// without nodes are dropped. An empty set returns the input unchanged;
// the input slices are never mutated.
func Filter(groups []topology.Group, s Set) []topology.Group {
	if len(s) == 0 {
		return groups
	}
	out := make([]topology.Group, 0, len(groups))
	for _, g := range groups {
		nodes := make([]topology.Node, 0, len(g.Nodes))
		for _, n := range g.Nodes {
			if s.NodeHidden(g.ID, n.ID) {
				continue
			}
			n.Metrics = filterMetrics(g.ID, n.ID, "", n.Metrics, s)
			devices := make([]topology.Device, 0, len(n.Devices))
			for _, d := range n.Devices {
				if s.DeviceHidden(g.ID, n.ID, d.ID) {
					continue
				}
				d.Metrics = filterMetrics(g.ID, n.ID, d.ID, d.Metrics, s)
				devices = append(devices, d)
			}
			n.Devices = devices
			nodes = append(nodes, n)
		}
		if len(nodes) == 0 {
			continue
		}
		g.Nodes = nodes
		out = append(out, g)
	}
	return out
}

func filterMetrics(group, node, device string, metrics []topology.Metric, s Set) []topology.Metric {
	out := make([]topology.Metric, 0, len(metrics))
	for _, m := range metrics {
		if s.MetricHidden(group, node, device, m.Name) {
			continue
		}
		out = append(out, m)
	}
	return out
}
