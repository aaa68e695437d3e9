package sparkplug

import (
	"fmt"
	"strings"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/types"
)

// Namespace is the Sparkplug-B topic namespace prefix.
const Namespace = "spBv1.0"

// MessageType is the Sparkplug message class carried in the third topic
// segment.
type MessageType string

// Sparkplug-B message classes.
const (
	MessageNBirth MessageType = "NBIRTH"
	MessageNDeath MessageType = "NDEATH"
	MessageDBirth MessageType = "DBIRTH"
	MessageDDeath MessageType = "DDEATH"
	MessageNData  MessageType = "NDATA"
	MessageDData  MessageType = "DDATA"
	MessageNCmd   MessageType = "NCMD"
	MessageDCmd   MessageType = "DCMD"
)

// IsDeviceLevel reports whether the class addresses a device, in which
// case the topic carries a fifth segment.
func (m MessageType) IsDeviceLevel() bool {
	switch m {
	case MessageDBirth, MessageDDeath, MessageDData, MessageDCmd:
		return true
	}
	return false
}

// IsBirth reports whether the class announces a node or device with its
// full metric set.
func (m MessageType) IsBirth() bool { return m == MessageNBirth || m == MessageDBirth }

// IsData reports whether the class carries changed metric values.
func (m MessageType) IsData() bool { return m == MessageNData || m == MessageDData }

// IsDeath reports whether the class announces a node or device going
// offline.
func (m MessageType) IsDeath() bool { return m == MessageNDeath || m == MessageDDeath }

// IsCommand reports whether the class is a write command.
func (m MessageType) IsCommand() bool { return m == MessageNCmd || m == MessageDCmd }

func (m MessageType) valid() bool {
	switch m {
	case MessageNBirth, MessageNDeath, MessageDBirth, MessageDDeath,
		MessageNData, MessageDData, MessageNCmd, MessageDCmd:
		return true
	}
	return false
}

// Topic is a parsed Sparkplug-B topic:
// "spBv1.0/{group}/{type}/{node}[/{device}]".
type Topic struct {
	Group  string
	Type   MessageType
	Node   string
	Device string
}

// ParseTopic parses a Sparkplug-B topic string. Device-level classes
// require the fifth segment; node-level classes must not carry one.
func ParseTopic(s string) (Topic, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 4 || len(parts) > 5 {
		return Topic{}, errors.WrapInvalid(errors.ErrMalformedTopic, "sparkplug", "ParseTopic",
			fmt.Sprintf("expected 4 or 5 segments, got %d", len(parts)))
	}
	if parts[0] != Namespace {
		return Topic{}, errors.WrapInvalid(errors.ErrMalformedTopic, "sparkplug", "ParseTopic",
			fmt.Sprintf("unexpected namespace %q", parts[0]))
	}

	mt := MessageType(parts[2])
	if !mt.valid() {
		return Topic{}, errors.WrapInvalid(errors.ErrMalformedTopic, "sparkplug", "ParseTopic",
			fmt.Sprintf("unknown message type %q", parts[2]))
	}

	t := Topic{Group: parts[1], Type: mt, Node: parts[3]}
	if t.Group == "" || t.Node == "" {
		return Topic{}, errors.WrapInvalid(errors.ErrMalformedTopic, "sparkplug", "ParseTopic",
			"empty group or node segment")
	}

	if mt.IsDeviceLevel() {
		if len(parts) != 5 || parts[4] == "" {
			return Topic{}, errors.WrapInvalid(errors.ErrMalformedTopic, "sparkplug", "ParseTopic",
				fmt.Sprintf("%s requires a device segment", mt))
		}
		t.Device = parts[4]
	} else if len(parts) == 5 {
		return Topic{}, errors.WrapInvalid(errors.ErrMalformedTopic, "sparkplug", "ParseTopic",
			fmt.Sprintf("%s must not carry a device segment", mt))
	}

	return t, nil
}

// String renders the topic for publishing.
func (t Topic) String() string {
	if t.Device != "" {
		return strings.Join([]string{Namespace, t.Group, string(t.Type), t.Node, t.Device}, "/")
	}
	return strings.Join([]string{Namespace, t.Group, string(t.Type), t.Node}, "/")
}

// Identity returns the identity of a named metric carried on this topic.
func (t Topic) Identity(metric string) types.Identity {
	return types.Identity{Group: t.Group, Node: t.Node, Device: t.Device, Metric: metric}
}

// SubscribeFilter returns the wildcard filter covering one message class
// across all groups and nodes. A non-empty sharedGroup wraps the filter
// in an MQTT shared subscription so scaled-out instances split the feed.
func SubscribeFilter(mt MessageType, sharedGroup string) string {
	filter := Namespace + "/+/" + string(mt) + "/+"
	if mt.IsDeviceLevel() {
		filter += "/+"
	}
	if sharedGroup != "" {
		filter = "$share/" + sharedGroup + "/" + filter
	}
	return filter
}
