// Package types contains the shared domain types used across the mantle platform.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joyautomation/mantle/errors"
)

// Identity is the 4-tuple keying every telemetry point. Device is the
// empty string for node-level metrics. Identity is the join key used by
// storage, the hot cache, alarms, hidden items, and property rows alike.
type Identity struct {
	Group  string `json:"group"`
	Node   string `json:"node"`
	Device string `json:"device"`
	Metric string `json:"metric"`
}

// Key returns the pipe-joined form used by the alarm rule cache and the
// keyed ingestion workers: "group|node|device|metric". Device stays in
// place even when empty so the segments are positional.
func (i Identity) Key() string {
	return strings.Join([]string{i.Group, i.Node, i.Device, i.Metric}, "|")
}

// CacheKey returns the hot-cache key: a JSON object with fields in
// fixed declaration order, so the same identity always yields the same
// byte string.
func (i Identity) CacheKey() string {
	// Marshal of a string-only struct cannot fail.
	b, _ := json.Marshal(i)
	return string(b)
}

// IsNodeLevel reports whether the metric lives directly under a node.
func (i Identity) IsNodeLevel() bool {
	return i.Device == ""
}

// Validate checks that the identity can address a metric. Group, node,
// and metric are required; device is optional.
func (i Identity) Validate() error {
	if i.Group == "" {
		return errors.WrapInvalid(errors.ErrInvalidIdentity, "Identity", "Validate", "group cannot be empty")
	}
	if i.Node == "" {
		return errors.WrapInvalid(errors.ErrInvalidIdentity, "Identity", "Validate", "node cannot be empty")
	}
	if i.Metric == "" {
		return errors.WrapInvalid(errors.ErrInvalidIdentity, "Identity", "Validate", "metric cannot be empty")
	}
	return nil
}

// ParseKey parses the pipe-joined form produced by Key.
func ParseKey(s string) (Identity, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return Identity{}, errors.WrapInvalid(errors.ErrMalformedKey, "Identity", "ParseKey",
			fmt.Sprintf("expected 4 segments, got %d", len(parts)))
	}

	id := Identity{Group: parts[0], Node: parts[1], Device: parts[2], Metric: parts[3]}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// ParseCacheKey parses the JSON form produced by CacheKey. Used when
// rebuilding the topology projection from hot-cache keys.
func ParseCacheKey(s string) (Identity, error) {
	var id Identity
	if err := json.Unmarshal([]byte(s), &id); err != nil {
		return Identity{}, errors.WrapInvalid(errors.ErrMalformedKey, "Identity", "ParseCacheKey", "decode key JSON")
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}
