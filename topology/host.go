package topology

import (
	"sort"
	"sync"

	"github.com/joyautomation/mantle/types"
)

// Host is the root of the in-memory topology. All access goes through
// its methods; the internal maps never escape.
type Host struct {
	mu        sync.RWMutex
	groups    map[string]*groupState
	templates map[string]TemplateDefinition
}

type groupState struct {
	nodes map[string]*nodeState
}

type nodeState struct {
	metrics map[string]Metric
	devices map[string]*deviceState
}

type deviceState struct {
	metrics map[string]Metric
}

// NewHost returns an empty topology.
func NewHost() *Host {
	return &Host{
		groups:    make(map[string]*groupState),
		templates: make(map[string]TemplateDefinition),
	}
}

// MetricSample is one decoded metric ready to apply to the tree.
// Zero-valued optional fields (Type, ScanRate, TemplateRef, Properties)
// leave the existing metric state untouched on update.
type MetricSample struct {
	Name        string
	Type        string
	Value       types.Value
	Timestamp   int64
	ScanRate    int64
	Properties  types.PropertyMap
	TemplateRef string
}

// ApplyNodeBirth creates or updates node-level metrics from an NBIRTH
// frame. Metrics absent from the frame stay in place.
func (h *Host) ApplyNodeBirth(group, node string, samples []MetricSample) {
	h.applyNode(group, node, samples)
}

// ApplyNodeData applies NDATA metric changes to a node.
func (h *Host) ApplyNodeData(group, node string, samples []MetricSample) {
	h.applyNode(group, node, samples)
}

// ApplyDeviceBirth creates or updates device metrics from a DBIRTH frame.
func (h *Host) ApplyDeviceBirth(group, node, device string, samples []MetricSample) {
	h.applyDevice(group, node, device, samples)
}

// ApplyDeviceData applies DDATA metric changes to a device.
func (h *Host) ApplyDeviceData(group, node, device string, samples []MetricSample) {
	h.applyDevice(group, node, device, samples)
}

func (h *Host) applyNode(group, node string, samples []MetricSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.node(group, node)
	for _, s := range samples {
		upsertMetric(n.metrics, s)
	}
}

func (h *Host) applyDevice(group, node, device string, samples []MetricSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.device(group, node, device)
	for _, s := range samples {
		upsertMetric(d.metrics, s)
	}
}

func (h *Host) node(group, node string) *nodeState {
	g, ok := h.groups[group]
	if !ok {
		g = &groupState{nodes: make(map[string]*nodeState)}
		h.groups[group] = g
	}
	n, ok := g.nodes[node]
	if !ok {
		n = &nodeState{
			metrics: make(map[string]Metric),
			devices: make(map[string]*deviceState),
		}
		g.nodes[node] = n
	}
	return n
}

func (h *Host) device(group, node, device string) *deviceState {
	n := h.node(group, node)
	d, ok := n.devices[device]
	if !ok {
		d = &deviceState{metrics: make(map[string]Metric)}
		n.devices[device] = d
	}
	return d
}

func upsertMetric(metrics map[string]Metric, s MetricSample) {
	if s.Name == "" {
		return
	}
	cur, ok := metrics[s.Name]
	if !ok {
		cur = Metric{Name: s.Name}
	}
	if s.Type != "" {
		cur.Type = s.Type
	}
	cur.Value = s.Value
	cur.Timestamp = s.Timestamp
	if s.ScanRate != 0 {
		cur.ScanRate = s.ScanRate
	}
	if s.TemplateRef != "" {
		cur.TemplateRef = s.TemplateRef
	}
	if len(s.Properties) > 0 {
		cur.Properties = cur.Properties.Merge(s.Properties)
	}
	metrics[s.Name] = cur
}

// Get returns a copy of one metric's state.
func (h *Host) Get(id types.Identity) (Metric, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g, ok := h.groups[id.Group]
	if !ok {
		return Metric{}, false
	}
	n, ok := g.nodes[id.Node]
	if !ok {
		return Metric{}, false
	}

	metrics := n.metrics
	if id.Device != "" {
		d, ok := n.devices[id.Device]
		if !ok {
			return Metric{}, false
		}
		metrics = d.metrics
	}

	m, ok := metrics[id.Metric]
	if !ok {
		return Metric{}, false
	}
	if len(m.Properties) > 0 {
		m.Properties = m.Properties.Merge(nil)
	}
	return m, true
}

// DeleteMetric removes one metric. It reports whether the metric existed.
func (h *Host) DeleteMetric(id types.Identity) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[id.Group]
	if !ok {
		return false
	}
	n, ok := g.nodes[id.Node]
	if !ok {
		return false
	}

	metrics := n.metrics
	if id.Device != "" {
		d, ok := n.devices[id.Device]
		if !ok {
			return false
		}
		metrics = d.metrics
	}

	if _, ok := metrics[id.Metric]; !ok {
		return false
	}
	delete(metrics, id.Metric)
	return true
}

// DeleteDevice removes a device and every metric under it.
func (h *Host) DeleteDevice(group, node, device string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[group]
	if !ok {
		return false
	}
	n, ok := g.nodes[node]
	if !ok {
		return false
	}
	if _, ok := n.devices[device]; !ok {
		return false
	}
	delete(n.devices, device)
	return true
}

// DeleteNode removes a node with its devices and metrics. A group left
// without nodes is pruned.
func (h *Host) DeleteNode(group, node string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[group]
	if !ok {
		return false
	}
	if _, ok := g.nodes[node]; !ok {
		return false
	}
	delete(g.nodes, node)
	if len(g.nodes) == 0 {
		delete(h.groups, group)
	}
	return true
}

// Snapshot returns the whole tree as sorted view slices. The result
// shares nothing with the live tree.
func (h *Host) Snapshot() []Group {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := make([]Group, 0, len(h.groups))
	for gid, g := range h.groups {
		gv := Group{ID: gid, Nodes: make([]Node, 0, len(g.nodes))}
		for nid, n := range g.nodes {
			nv := Node{
				ID:      nid,
				Metrics: copyMetricList(n.metrics),
				Devices: make([]Device, 0, len(n.devices)),
			}
			for did, d := range n.devices {
				nv.Devices = append(nv.Devices, Device{ID: did, Metrics: copyMetricList(d.metrics)})
			}
			sort.Slice(nv.Devices, func(i, j int) bool { return nv.Devices[i].ID < nv.Devices[j].ID })
			gv.Nodes = append(gv.Nodes, nv)
		}
		sort.Slice(gv.Nodes, func(i, j int) bool { return gv.Nodes[i].ID < gv.Nodes[j].ID })
		groups = append(groups, gv)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// Stats counts the current tree for health reporting.
type Stats struct {
	Groups  int
	Nodes   int
	Devices int
	Metrics int
}

// Stats returns current tree counts.
func (h *Host) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var s Stats
	s.Groups = len(h.groups)
	for _, g := range h.groups {
		s.Nodes += len(g.nodes)
		for _, n := range g.nodes {
			s.Metrics += len(n.metrics)
			s.Devices += len(n.devices)
			for _, d := range n.devices {
				s.Metrics += len(d.metrics)
			}
		}
	}
	return s
}
