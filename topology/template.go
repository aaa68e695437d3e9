package topology

import "sort"

// TemplateDefinition describes a Sparkplug template published in a
// BIRTH frame. Instances reference it by name through Metric.TemplateRef.
type TemplateDefinition struct {
	Name    string           `json:"name"`
	Version string           `json:"version,omitempty"`
	Members []TemplateMember `json:"members"`
}

// TemplateMember is one named member of a template definition.
type TemplateMember struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RegisterTemplate stores a definition, replacing any existing one with
// the same name. Definitions without a name are ignored.
func (h *Host) RegisterTemplate(def TemplateDefinition) {
	if def.Name == "" {
		return
	}
	def.Members = append([]TemplateMember(nil), def.Members...)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.templates[def.Name] = def
}

// Templates returns all registered definitions sorted by name. Member
// slices are copies.
func (h *Host) Templates() []TemplateDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	defs := make([]TemplateDefinition, 0, len(h.templates))
	for _, def := range h.templates {
		def.Members = append([]TemplateMember(nil), def.Members...)
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
