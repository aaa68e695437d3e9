package types

// PropertyEntry is one named property of a metric, as stored in the
// per-identity JSON document. Type carries the Sparkplug type tag the
// value arrived with.
type PropertyEntry struct {
	Value     any    `json:"value"`
	Type      string `json:"type"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PropertyMap is the JSON document stored per identity: property name
// to entry. Upserts shallow-merge maps of this shape, so incoming keys
// overwrite and absent keys are preserved.
type PropertyMap map[string]PropertyEntry

// Merge returns a copy of m with the entries of in applied on top.
// Neither input map is modified.
func (m PropertyMap) Merge(in PropertyMap) PropertyMap {
	out := make(PropertyMap, len(m)+len(in))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}
