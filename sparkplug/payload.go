package sparkplug

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/types"
)

// Field numbers from the Sparkplug-B protobuf schema. Kept in sync with
// org.eclipse.tahu.protobuf.Payload; do not renumber.
const (
	fieldPayloadTimestamp = 1
	fieldPayloadMetrics   = 2
	fieldPayloadSeq       = 3
	fieldPayloadUUID      = 4
	fieldPayloadBody      = 5
)

const (
	fieldMetricName          = 1
	fieldMetricAlias         = 2
	fieldMetricTimestamp     = 3
	fieldMetricDatatype      = 4
	fieldMetricIsHistorical  = 5
	fieldMetricIsTransient   = 6
	fieldMetricIsNull        = 7
	fieldMetricProperties    = 9
	fieldMetricIntValue      = 10
	fieldMetricLongValue     = 11
	fieldMetricFloatValue    = 12
	fieldMetricDoubleValue   = 13
	fieldMetricBooleanValue  = 14
	fieldMetricStringValue   = 15
	fieldMetricBytesValue    = 16
	fieldMetricTemplateValue = 18
)

const (
	fieldPropertySetKeys   = 1
	fieldPropertySetValues = 2
)

const (
	fieldPropertyValueType    = 1
	fieldPropertyValueIsNull  = 2
	fieldPropertyValueInt     = 3
	fieldPropertyValueLong    = 4
	fieldPropertyValueFloat   = 5
	fieldPropertyValueDouble  = 6
	fieldPropertyValueBoolean = 7
	fieldPropertyValueString  = 8
	fieldPropertyValueSet     = 9
)

const (
	fieldTemplateVersion      = 1
	fieldTemplateMetrics      = 2
	fieldTemplateParameters   = 3
	fieldTemplateRef          = 4
	fieldTemplateIsDefinition = 5
)

const (
	fieldParameterName    = 1
	fieldParameterType    = 2
	fieldParameterInt     = 3
	fieldParameterLong    = 4
	fieldParameterFloat   = 5
	fieldParameterDouble  = 6
	fieldParameterBoolean = 7
	fieldParameterString  = 8
)

// Payload is one Sparkplug-B frame body.
type Payload struct {
	// Timestamp is ms since epoch; 0 when the publisher omitted it, in
	// which case ingestion falls back to the arrival clock.
	Timestamp uint64
	Metrics   []Metric
	// Seq is the 0-255 message ordering counter.
	Seq  uint64
	UUID string
	Body []byte
}

// Metric is a single value within a payload.
type Metric struct {
	Name      string
	Alias     uint64
	Timestamp uint64
	Datatype  DataType

	IsHistorical bool
	IsTransient  bool
	IsNull       bool

	// Value holds the decoded scalar. Null metrics decode to a null
	// Value regardless of any wire value field.
	Value types.Value
	// Raw holds Bytes/File payloads.
	Raw []byte

	Properties *PropertySet
	Template   *Template
}

// PropertySet carries per-metric properties as parallel key/value lists.
type PropertySet struct {
	Keys   []string
	Values []PropertyValue
}

// PropertyValue is one property value with its declared type. Nested
// property sets land in Set; scalars in Value.
type PropertyValue struct {
	Type   DataType
	IsNull bool
	Value  types.Value
	Set    *PropertySet
}

// Template is a Sparkplug template instance or definition. Definitions
// arrive on NBIRTH and feed the templateDefinitions query.
type Template struct {
	Version      string
	Metrics      []Metric
	Parameters   []TemplateParameter
	TemplateRef  string
	IsDefinition bool
}

// TemplateParameter is a named, typed template parameter.
type TemplateParameter struct {
	Name  string
	Type  DataType
	Value types.Value
}

// ToMap folds the parallel key/value lists into a property map with the
// given update timestamp. Keys beyond the shorter list are dropped.
func (ps *PropertySet) ToMap(updatedAt int64) types.PropertyMap {
	if ps == nil || len(ps.Keys) == 0 {
		return nil
	}
	n := len(ps.Keys)
	if len(ps.Values) < n {
		n = len(ps.Values)
	}
	out := make(types.PropertyMap, n)
	for i := 0; i < n; i++ {
		pv := ps.Values[i]
		entry := types.PropertyEntry{Type: pv.Type.String(), UpdatedAt: updatedAt}
		switch {
		case pv.IsNull:
		case pv.Set != nil:
			entry.Value = pv.Set.ToMap(updatedAt)
		default:
			entry.Value = pv.Value.Any()
		}
		out[ps.Keys[i]] = entry
	}
	return out
}

// EncodePayload renders p in Sparkplug-B protobuf form. The seq field is
// always written, since 0 is a legitimate position in the 0-255 cycle.
func EncodePayload(p *Payload) []byte {
	var b []byte
	if p.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldPayloadTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Timestamp)
	}
	for i := range p.Metrics {
		b = protowire.AppendTag(b, fieldPayloadMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, appendMetric(nil, &p.Metrics[i]))
	}
	b = protowire.AppendTag(b, fieldPayloadSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Seq)
	if p.UUID != "" {
		b = protowire.AppendTag(b, fieldPayloadUUID, protowire.BytesType)
		b = protowire.AppendString(b, p.UUID)
	}
	if len(p.Body) > 0 {
		b = protowire.AppendTag(b, fieldPayloadBody, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Body)
	}
	return b
}

func appendMetric(b []byte, m *Metric) []byte {
	if m.Name != "" {
		b = protowire.AppendTag(b, fieldMetricName, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Alias != 0 {
		b = protowire.AppendTag(b, fieldMetricAlias, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Alias)
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldMetricTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Timestamp)
	}
	if m.Datatype != DataTypeUnknown {
		b = protowire.AppendTag(b, fieldMetricDatatype, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Datatype))
	}
	if m.IsHistorical {
		b = protowire.AppendTag(b, fieldMetricIsHistorical, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.IsTransient {
		b = protowire.AppendTag(b, fieldMetricIsTransient, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.IsNull {
		b = protowire.AppendTag(b, fieldMetricIsNull, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.Properties != nil {
		b = protowire.AppendTag(b, fieldMetricProperties, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPropertySet(nil, m.Properties))
	}
	if !m.IsNull {
		b = appendMetricValue(b, m)
	}
	return b
}

// appendMetricValue writes the oneof field selected by the datatype.
func appendMetricValue(b []byte, m *Metric) []byte {
	switch m.Datatype {
	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		if i, ok := metricInt(m.Value); ok {
			b = protowire.AppendTag(b, fieldMetricIntValue, protowire.VarintType)
			// Signed values travel as two's complement within 32 bits.
			b = protowire.AppendVarint(b, uint64(uint32(int32(i))))
		}
	case DataTypeUInt8, DataTypeUInt16, DataTypeUInt32:
		if i, ok := metricInt(m.Value); ok {
			b = protowire.AppendTag(b, fieldMetricIntValue, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(i)))
		}
	case DataTypeInt64, DataTypeDateTime:
		if i, ok := metricInt(m.Value); ok {
			b = protowire.AppendTag(b, fieldMetricLongValue, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(i))
		}
	case DataTypeUInt64:
		if i, ok := m.Value.Int64(); ok {
			b = protowire.AppendTag(b, fieldMetricLongValue, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(i))
		} else if f, ok := m.Value.Float64(); ok {
			b = protowire.AppendTag(b, fieldMetricLongValue, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64FromFloat(f))
		}
	case DataTypeFloat:
		if f, ok := metricFloat(m.Value); ok {
			b = protowire.AppendTag(b, fieldMetricFloatValue, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(float32(f)))
		}
	case DataTypeDouble:
		if f, ok := metricFloat(m.Value); ok {
			b = protowire.AppendTag(b, fieldMetricDoubleValue, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(f))
		}
	case DataTypeBoolean:
		if v, ok := m.Value.Bool(); ok {
			b = protowire.AppendTag(b, fieldMetricBooleanValue, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeBool(v))
		}
	case DataTypeString, DataTypeText, DataTypeUUID:
		if !m.Value.IsNull() {
			b = protowire.AppendTag(b, fieldMetricStringValue, protowire.BytesType)
			b = protowire.AppendString(b, m.Value.String())
		}
	case DataTypeBytes, DataTypeFile:
		if len(m.Raw) > 0 {
			b = protowire.AppendTag(b, fieldMetricBytesValue, protowire.BytesType)
			b = protowire.AppendBytes(b, m.Raw)
		}
	case DataTypeTemplate:
		if m.Template != nil {
			b = protowire.AppendTag(b, fieldMetricTemplateValue, protowire.BytesType)
			b = protowire.AppendBytes(b, appendTemplate(nil, m.Template))
		}
	}
	return b
}

func appendPropertySet(b []byte, ps *PropertySet) []byte {
	for _, k := range ps.Keys {
		b = protowire.AppendTag(b, fieldPropertySetKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for i := range ps.Values {
		b = protowire.AppendTag(b, fieldPropertySetValues, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPropertyValue(nil, &ps.Values[i]))
	}
	return b
}

func appendPropertyValue(b []byte, pv *PropertyValue) []byte {
	if pv.Type != DataTypeUnknown {
		b = protowire.AppendTag(b, fieldPropertyValueType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(pv.Type))
	}
	if pv.IsNull {
		b = protowire.AppendTag(b, fieldPropertyValueIsNull, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
		return b
	}
	if pv.Set != nil {
		b = protowire.AppendTag(b, fieldPropertyValueSet, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPropertySet(nil, pv.Set))
		return b
	}

	switch pv.Type {
	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		if i, ok := metricInt(pv.Value); ok {
			b = protowire.AppendTag(b, fieldPropertyValueInt, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(int32(i))))
		}
	case DataTypeUInt8, DataTypeUInt16, DataTypeUInt32:
		if i, ok := metricInt(pv.Value); ok {
			b = protowire.AppendTag(b, fieldPropertyValueInt, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(i)))
		}
	case DataTypeInt64, DataTypeUInt64, DataTypeDateTime:
		if i, ok := metricInt(pv.Value); ok {
			b = protowire.AppendTag(b, fieldPropertyValueLong, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(i))
		}
	case DataTypeFloat:
		if f, ok := metricFloat(pv.Value); ok {
			b = protowire.AppendTag(b, fieldPropertyValueFloat, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(float32(f)))
		}
	case DataTypeDouble:
		if f, ok := metricFloat(pv.Value); ok {
			b = protowire.AppendTag(b, fieldPropertyValueDouble, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(f))
		}
	case DataTypeBoolean:
		if v, ok := pv.Value.Bool(); ok {
			b = protowire.AppendTag(b, fieldPropertyValueBoolean, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeBool(v))
		}
	default:
		if !pv.Value.IsNull() {
			b = protowire.AppendTag(b, fieldPropertyValueString, protowire.BytesType)
			b = protowire.AppendString(b, pv.Value.String())
		}
	}
	return b
}

func appendTemplate(b []byte, t *Template) []byte {
	if t.Version != "" {
		b = protowire.AppendTag(b, fieldTemplateVersion, protowire.BytesType)
		b = protowire.AppendString(b, t.Version)
	}
	for i := range t.Metrics {
		b = protowire.AppendTag(b, fieldTemplateMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, appendMetric(nil, &t.Metrics[i]))
	}
	for i := range t.Parameters {
		b = protowire.AppendTag(b, fieldTemplateParameters, protowire.BytesType)
		b = protowire.AppendBytes(b, appendParameter(nil, &t.Parameters[i]))
	}
	if t.TemplateRef != "" {
		b = protowire.AppendTag(b, fieldTemplateRef, protowire.BytesType)
		b = protowire.AppendString(b, t.TemplateRef)
	}
	if t.IsDefinition {
		b = protowire.AppendTag(b, fieldTemplateIsDefinition, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func appendParameter(b []byte, p *TemplateParameter) []byte {
	if p.Name != "" {
		b = protowire.AppendTag(b, fieldParameterName, protowire.BytesType)
		b = protowire.AppendString(b, p.Name)
	}
	if p.Type != DataTypeUnknown {
		b = protowire.AppendTag(b, fieldParameterType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Type))
	}

	switch p.Type {
	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		if i, ok := metricInt(p.Value); ok {
			b = protowire.AppendTag(b, fieldParameterInt, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(int32(i))))
		}
	case DataTypeUInt8, DataTypeUInt16, DataTypeUInt32:
		if i, ok := metricInt(p.Value); ok {
			b = protowire.AppendTag(b, fieldParameterInt, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(uint32(i)))
		}
	case DataTypeInt64, DataTypeUInt64, DataTypeDateTime:
		if i, ok := metricInt(p.Value); ok {
			b = protowire.AppendTag(b, fieldParameterLong, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(i))
		}
	case DataTypeFloat:
		if f, ok := metricFloat(p.Value); ok {
			b = protowire.AppendTag(b, fieldParameterFloat, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(float32(f)))
		}
	case DataTypeDouble:
		if f, ok := metricFloat(p.Value); ok {
			b = protowire.AppendTag(b, fieldParameterDouble, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(f))
		}
	case DataTypeBoolean:
		if v, ok := p.Value.Bool(); ok {
			b = protowire.AppendTag(b, fieldParameterBoolean, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeBool(v))
		}
	default:
		if !p.Value.IsNull() {
			b = protowire.AppendTag(b, fieldParameterString, protowire.BytesType)
			b = protowire.AppendString(b, p.Value.String())
		}
	}
	return b
}

// metricInt extracts an integer for encoding, tolerating float-kind
// values produced by numeric promotion. Strings and bools never encode
// as numbers.
func metricInt(v types.Value) (int64, bool) {
	if i, ok := v.Int64(); ok {
		return i, true
	}
	if f, ok := v.Float64(); ok {
		return int64(f), true
	}
	return 0, false
}

func metricFloat(v types.Value) (float64, bool) {
	if f, ok := v.Float64(); ok {
		return f, true
	}
	if i, ok := v.Int64(); ok {
		return float64(i), true
	}
	return 0, false
}

// uint64FromFloat converts promoted big integers back to the wire range.
func uint64FromFloat(f float64) uint64 {
	if f <= 0 {
		return 0
	}
	if f >= 1<<64 {
		return math.MaxUint64
	}
	return uint64(f)
}

// DecodePayload parses a Sparkplug-B protobuf frame. Unknown fields are
// skipped; truncated or corrupt input returns a decode error wrapping
// errors.ErrDecodeFailed.
func DecodePayload(data []byte) (*Payload, error) {
	p := &Payload{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeError("DecodePayload", "read field tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldPayloadTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeError("DecodePayload", "read timestamp", n)
			}
			p.Timestamp = v
			b = b[n:]
		case num == fieldPayloadMetrics && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, decodeError("DecodePayload", "read metric", n)
			}
			m, err := decodeMetric(v)
			if err != nil {
				return nil, err
			}
			p.Metrics = append(p.Metrics, m)
			b = b[n:]
		case num == fieldPayloadSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeError("DecodePayload", "read seq", n)
			}
			p.Seq = v
			b = b[n:]
		case num == fieldPayloadUUID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, decodeError("DecodePayload", "read uuid", n)
			}
			p.UUID = v
			b = b[n:]
		case num == fieldPayloadBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, decodeError("DecodePayload", "read body", n)
			}
			p.Body = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, decodeError("DecodePayload", "skip unknown field", n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

// PeekSeq reads the top-level seq field without decoding metrics, so
// callers on a hot path can check sequence continuity before handing
// the frame off. ok is false when the field is absent, which encoders
// that omit zero values produce for seq 0, or when the frame is
// corrupt.
func PeekSeq(data []byte) (seq uint64, ok bool) {
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, false
		}
		b = b[n:]

		if num == fieldPayloadSeq && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, false
			}
			return v, true
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, false
		}
		b = b[n:]
	}
	return 0, false
}

func decodeMetric(data []byte) (Metric, error) {
	var m Metric
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, decodeError("decodeMetric", "read field tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldMetricName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read name", n)
			}
			m.Name = v
			b = b[n:]
		case num == fieldMetricAlias && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read alias", n)
			}
			m.Alias = v
			b = b[n:]
		case num == fieldMetricTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read timestamp", n)
			}
			m.Timestamp = v
			b = b[n:]
		case num == fieldMetricDatatype && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read datatype", n)
			}
			m.Datatype = DataType(v)
			b = b[n:]
		case num == fieldMetricIsHistorical && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read is_historical", n)
			}
			m.IsHistorical = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldMetricIsTransient && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read is_transient", n)
			}
			m.IsTransient = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldMetricIsNull && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read is_null", n)
			}
			m.IsNull = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldMetricProperties && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read properties", n)
			}
			ps, err := decodePropertySet(v)
			if err != nil {
				return m, err
			}
			m.Properties = ps
			b = b[n:]
		case num == fieldMetricIntValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read int value", n)
			}
			m.Value = intValueFor(m.Datatype, uint32(v))
			b = b[n:]
		case num == fieldMetricLongValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read long value", n)
			}
			m.Value = longValueFor(m.Datatype, v)
			b = b[n:]
		case num == fieldMetricFloatValue && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read float value", n)
			}
			m.Value = types.NewFloat(float64(math.Float32frombits(v)))
			b = b[n:]
		case num == fieldMetricDoubleValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read double value", n)
			}
			m.Value = types.NewFloat(math.Float64frombits(v))
			b = b[n:]
		case num == fieldMetricBooleanValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read boolean value", n)
			}
			m.Value = types.NewBool(protowire.DecodeBool(v))
			b = b[n:]
		case num == fieldMetricStringValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read string value", n)
			}
			m.Value = types.NewString(v)
			b = b[n:]
		case num == fieldMetricBytesValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read bytes value", n)
			}
			m.Raw = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldMetricTemplateValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, decodeError("decodeMetric", "read template value", n)
			}
			t, err := decodeTemplate(v)
			if err != nil {
				return m, err
			}
			m.Template = t
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, decodeError("decodeMetric", "skip unknown field", n)
			}
			b = b[n:]
		}
	}

	// Null wins over any value field regardless of wire order.
	if m.IsNull {
		m.Value = types.NullValue()
	}
	return m, nil
}

func decodePropertySet(data []byte) (*PropertySet, error) {
	ps := &PropertySet{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeError("decodePropertySet", "read field tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldPropertySetKeys && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, decodeError("decodePropertySet", "read key", n)
			}
			ps.Keys = append(ps.Keys, v)
			b = b[n:]
		case num == fieldPropertySetValues && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, decodeError("decodePropertySet", "read value", n)
			}
			pv, err := decodePropertyValue(v)
			if err != nil {
				return nil, err
			}
			ps.Values = append(ps.Values, pv)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, decodeError("decodePropertySet", "skip unknown field", n)
			}
			b = b[n:]
		}
	}
	return ps, nil
}

func decodePropertyValue(data []byte) (PropertyValue, error) {
	var pv PropertyValue
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return pv, decodeError("decodePropertyValue", "read field tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldPropertyValueType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read type", n)
			}
			pv.Type = DataType(v)
			b = b[n:]
		case num == fieldPropertyValueIsNull && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read is_null", n)
			}
			pv.IsNull = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldPropertyValueInt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read int value", n)
			}
			pv.Value = intValueFor(pv.Type, uint32(v))
			b = b[n:]
		case num == fieldPropertyValueLong && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read long value", n)
			}
			pv.Value = longValueFor(pv.Type, v)
			b = b[n:]
		case num == fieldPropertyValueFloat && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read float value", n)
			}
			pv.Value = types.NewFloat(float64(math.Float32frombits(v)))
			b = b[n:]
		case num == fieldPropertyValueDouble && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read double value", n)
			}
			pv.Value = types.NewFloat(math.Float64frombits(v))
			b = b[n:]
		case num == fieldPropertyValueBoolean && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read boolean value", n)
			}
			pv.Value = types.NewBool(protowire.DecodeBool(v))
			b = b[n:]
		case num == fieldPropertyValueString && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read string value", n)
			}
			pv.Value = types.NewString(v)
			b = b[n:]
		case num == fieldPropertyValueSet && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "read nested set", n)
			}
			ps, err := decodePropertySet(v)
			if err != nil {
				return pv, err
			}
			pv.Set = ps
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return pv, decodeError("decodePropertyValue", "skip unknown field", n)
			}
			b = b[n:]
		}
	}

	if pv.IsNull {
		pv.Value = types.NullValue()
		pv.Set = nil
	}
	return pv, nil
}

func decodeTemplate(data []byte) (*Template, error) {
	t := &Template{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, decodeError("decodeTemplate", "read field tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldTemplateVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, decodeError("decodeTemplate", "read version", n)
			}
			t.Version = v
			b = b[n:]
		case num == fieldTemplateMetrics && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, decodeError("decodeTemplate", "read member metric", n)
			}
			m, err := decodeMetric(v)
			if err != nil {
				return nil, err
			}
			t.Metrics = append(t.Metrics, m)
			b = b[n:]
		case num == fieldTemplateParameters && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, decodeError("decodeTemplate", "read parameter", n)
			}
			p, err := decodeParameter(v)
			if err != nil {
				return nil, err
			}
			t.Parameters = append(t.Parameters, p)
			b = b[n:]
		case num == fieldTemplateRef && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, decodeError("decodeTemplate", "read template ref", n)
			}
			t.TemplateRef = v
			b = b[n:]
		case num == fieldTemplateIsDefinition && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, decodeError("decodeTemplate", "read is_definition", n)
			}
			t.IsDefinition = protowire.DecodeBool(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, decodeError("decodeTemplate", "skip unknown field", n)
			}
			b = b[n:]
		}
	}
	return t, nil
}

func decodeParameter(data []byte) (TemplateParameter, error) {
	var p TemplateParameter
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, decodeError("decodeParameter", "read field tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldParameterName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read name", n)
			}
			p.Name = v
			b = b[n:]
		case num == fieldParameterType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read type", n)
			}
			p.Type = DataType(v)
			b = b[n:]
		case num == fieldParameterInt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read int value", n)
			}
			p.Value = intValueFor(p.Type, uint32(v))
			b = b[n:]
		case num == fieldParameterLong && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read long value", n)
			}
			p.Value = longValueFor(p.Type, v)
			b = b[n:]
		case num == fieldParameterFloat && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read float value", n)
			}
			p.Value = types.NewFloat(float64(math.Float32frombits(v)))
			b = b[n:]
		case num == fieldParameterDouble && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read double value", n)
			}
			p.Value = types.NewFloat(math.Float64frombits(v))
			b = b[n:]
		case num == fieldParameterBoolean && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read boolean value", n)
			}
			p.Value = types.NewBool(protowire.DecodeBool(v))
			b = b[n:]
		case num == fieldParameterString && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return p, decodeError("decodeParameter", "read string value", n)
			}
			p.Value = types.NewString(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, decodeError("decodeParameter", "skip unknown field", n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

// intValueFor widens the uint32 wire value according to the declared
// datatype. Signed types travel as two's complement.
func intValueFor(dt DataType, v uint32) types.Value {
	switch dt {
	case DataTypeInt8:
		return types.NewInt(int64(int8(v)))
	case DataTypeInt16:
		return types.NewInt(int64(int16(v)))
	case DataTypeInt32:
		return types.NewInt(int64(int32(v)))
	default:
		return types.NewInt(int64(v))
	}
}

// longValueFor widens the uint64 wire value. UInt64 beyond MaxInt64
// promotes to float, trading precision for a native number.
func longValueFor(dt DataType, v uint64) types.Value {
	if dt == DataTypeUInt64 {
		return types.FromAny(v)
	}
	return types.NewInt(int64(v))
}

func decodeError(method, action string, n int) error {
	return errors.WrapInvalid(
		fmt.Errorf("%v: %w", protowire.ParseError(n), errors.ErrDecodeFailed),
		"sparkplug", method, action)
}
