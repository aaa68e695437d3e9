package types

import "fmt"

// ScopeLevel selects how much of an identity a Scope pins down.
type ScopeLevel int

const (
	// ScopeNode covers a node and everything under it.
	ScopeNode ScopeLevel = iota
	// ScopeDevice covers a device and its metrics.
	ScopeDevice
	// ScopeMetric covers exactly one metric.
	ScopeMetric
)

// String returns the level name.
func (l ScopeLevel) String() string {
	switch l {
	case ScopeNode:
		return "node"
	case ScopeDevice:
		return "device"
	case ScopeMetric:
		return "metric"
	default:
		return fmt.Sprintf("ScopeLevel(%d)", int(l))
	}
}

// Scope is an identity prefix used by delete cascades and cache
// invalidation: a whole node, a whole device, or a single metric.
// Construct with NodeScope, DeviceScope, or MetricScope.
type Scope struct {
	Level  ScopeLevel `json:"level"`
	Group  string     `json:"group"`
	Node   string     `json:"node"`
	Device string     `json:"device,omitempty"`
	Metric string     `json:"metric,omitempty"`
}

// NodeScope covers the node (group, node) with all its devices and metrics.
func NodeScope(group, node string) Scope {
	return Scope{Level: ScopeNode, Group: group, Node: node}
}

// DeviceScope covers the device (group, node, device) with its metrics.
func DeviceScope(group, node, device string) Scope {
	return Scope{Level: ScopeDevice, Group: group, Node: node, Device: device}
}

// MetricScope covers one metric identity.
func MetricScope(id Identity) Scope {
	return Scope{Level: ScopeMetric, Group: id.Group, Node: id.Node, Device: id.Device, Metric: id.Metric}
}

// Matches reports whether the identity falls inside the scope.
func (s Scope) Matches(id Identity) bool {
	if id.Group != s.Group || id.Node != s.Node {
		return false
	}
	switch s.Level {
	case ScopeNode:
		return true
	case ScopeDevice:
		return id.Device == s.Device
	case ScopeMetric:
		return id.Device == s.Device && id.Metric == s.Metric
	default:
		return false
	}
}

// String renders the scope for logs.
func (s Scope) String() string {
	switch s.Level {
	case ScopeDevice:
		return fmt.Sprintf("device %s/%s/%s", s.Group, s.Node, s.Device)
	case ScopeMetric:
		return fmt.Sprintf("metric %s/%s/%s/%s", s.Group, s.Node, s.Device, s.Metric)
	default:
		return fmt.Sprintf("node %s/%s", s.Group, s.Node)
	}
}
