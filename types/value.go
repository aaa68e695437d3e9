package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// ValueKind discriminates the tagged Value variant.
type ValueKind uint8

// Value kinds, covering the four persisted column types plus null.
const (
	ValueNull ValueKind = iota
	ValueInt
	ValueFloat
	ValueBool
	ValueString
)

// String returns a human-readable kind name.
func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	case ValueBool:
		return "bool"
	case ValueString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding one metric sample value. The zero
// Value is null. Values are immutable once constructed.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	b    bool
	s    string
}

// NewInt creates an integer value.
func NewInt(v int64) Value { return Value{kind: ValueInt, i: v} }

// NewFloat creates a float value.
func NewFloat(v float64) Value { return Value{kind: ValueFloat, f: v} }

// NewBool creates a boolean value.
func NewBool(v bool) Value { return Value{kind: ValueBool, b: v} }

// NewString creates a string value.
func NewString(v string) Value { return Value{kind: ValueString, s: v} }

// NullValue creates a null value.
func NullValue() Value { return Value{kind: ValueNull} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == ValueNull }

// Int64 returns the integer payload. ok is false unless the kind is int.
func (v Value) Int64() (int64, bool) {
	if v.kind != ValueInt {
		return 0, false
	}
	return v.i, true
}

// Float64 returns the float payload. ok is false unless the kind is float.
func (v Value) Float64() (float64, bool) {
	if v.kind != ValueFloat {
		return 0, false
	}
	return v.f, true
}

// Bool returns the boolean payload. ok is false unless the kind is bool.
func (v Value) Bool() (bool, bool) {
	if v.kind != ValueBool {
		return false, false
	}
	return v.b, true
}

// Numeric promotes the value to a float64 for alarm comparisons:
// ints and floats pass through, bools map to 0/1, strings go through a
// numeric parse. ok is false for null and unparseable strings.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case ValueInt:
		return float64(v.i), true
	case ValueFloat:
		return v.f, true
	case ValueBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case ValueString:
		f, err := strconv.ParseFloat(v.s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String returns the stringified form used by pub/sub records and
// query points. Floats render without exponent notation; null renders
// as the empty string.
func (v Value) String() string {
	switch v.kind {
	case ValueInt:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueString:
		return v.s
	default:
		return ""
	}
}

// Any returns the native Go payload for JSON encoding: int64, float64,
// bool, string, or nil.
func (v Value) Any() any {
	switch v.kind {
	case ValueInt:
		return v.i
	case ValueFloat:
		return v.f
	case ValueBool:
		return v.b
	case ValueString:
		return v.s
	default:
		return nil
	}
}

// FromAny builds a Value from a dynamically typed input, as produced by
// JSON decoding or payload parsing. Unsupported types stringify via the
// default format, mirroring ingestion's "anything else is a string" rule.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return NullValue()
	case int64:
		return NewInt(t)
	case int:
		return NewInt(int64(t))
	case int32:
		return NewInt(int64(t))
	case uint64:
		// Values beyond MaxInt64 lose precision through float64, which
		// is the documented behavior for big integers.
		if t > math.MaxInt64 {
			return NewFloat(float64(t))
		}
		return NewInt(int64(t))
	case uint32:
		return NewInt(int64(t))
	case float64:
		return NewFloat(t)
	case float32:
		return NewFloat(float64(t))
	case bool:
		return NewBool(t)
	case string:
		return NewString(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return NewInt(i)
		}
		if f, err := t.Float64(); err == nil {
			return NewFloat(f)
		}
		return NewString(t.String())
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return NullValue()
		}
		return NewString(string(b))
	}
}

// MarshalJSON encodes the native JSON form: number, string, bool, or null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a JSON scalar into a Value. Integral numbers
// become ints, other numbers floats.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
