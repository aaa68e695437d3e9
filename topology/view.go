package topology

import (
	"sort"

	"github.com/joyautomation/mantle/types"
)

// Group is a snapshot view of one Sparkplug group.
type Group struct {
	ID    string
	Nodes []Node
}

// Node is a snapshot view of one edge node with its own metrics and
// attached devices.
type Node struct {
	ID      string
	Metrics []Metric
	Devices []Device
}

// Device is a snapshot view of one device under a node.
type Device struct {
	ID      string
	Metrics []Metric
}

// Metric is the last known state of one metric.
type Metric struct {
	Name        string
	Type        string
	Value       types.Value
	Timestamp   int64
	ScanRate    int64
	Properties  types.PropertyMap
	TemplateRef string
}

// Identity returns the metric's full identity within the tree walk
// that produced it.
func (m Metric) Identity(group, node, device string) types.Identity {
	return types.Identity{Group: group, Node: node, Device: device, Metric: m.Name}
}

func copyMetricList(in map[string]Metric) []Metric {
	out := make([]Metric, 0, len(in))
	for _, m := range in {
		if len(m.Properties) > 0 {
			m.Properties = m.Properties.Merge(nil)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
