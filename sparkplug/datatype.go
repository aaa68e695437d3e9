package sparkplug

import (
	"fmt"
	"strings"

	"github.com/joyautomation/mantle/types"
)

// DataType identifies the declared type of a Sparkplug-B metric value.
// The numeric values travel on the wire in Metric.datatype.
type DataType uint32

// Sparkplug-B metric datatypes.
const (
	DataTypeUnknown         DataType = 0
	DataTypeInt8            DataType = 1
	DataTypeInt16           DataType = 2
	DataTypeInt32           DataType = 3
	DataTypeInt64           DataType = 4
	DataTypeUInt8           DataType = 5
	DataTypeUInt16          DataType = 6
	DataTypeUInt32          DataType = 7
	DataTypeUInt64          DataType = 8
	DataTypeFloat           DataType = 9
	DataTypeDouble          DataType = 10
	DataTypeBoolean         DataType = 11
	DataTypeString          DataType = 12
	DataTypeDateTime        DataType = 13
	DataTypeText            DataType = 14
	DataTypeUUID            DataType = 15
	DataTypeDataSet         DataType = 16
	DataTypeBytes           DataType = 17
	DataTypeFile            DataType = 18
	DataTypeTemplate        DataType = 19
	DataTypePropertySet     DataType = 20
	DataTypePropertySetList DataType = 21
)

var dataTypeNames = map[DataType]string{
	DataTypeInt8:            "Int8",
	DataTypeInt16:           "Int16",
	DataTypeInt32:           "Int32",
	DataTypeInt64:           "Int64",
	DataTypeUInt8:           "UInt8",
	DataTypeUInt16:          "UInt16",
	DataTypeUInt32:          "UInt32",
	DataTypeUInt64:          "UInt64",
	DataTypeFloat:           "Float",
	DataTypeDouble:          "Double",
	DataTypeBoolean:         "Boolean",
	DataTypeString:          "String",
	DataTypeDateTime:        "DateTime",
	DataTypeText:            "Text",
	DataTypeUUID:            "UUID",
	DataTypeDataSet:         "DataSet",
	DataTypeBytes:           "Bytes",
	DataTypeFile:            "File",
	DataTypeTemplate:        "Template",
	DataTypePropertySet:     "PropertySet",
	DataTypePropertySetList: "PropertySetList",
}

// String returns the canonical datatype name. The names are what the
// topology stores as a metric's type and what value-type classification
// operates on.
func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(d))
}

// DataTypeFromName resolves a datatype by its canonical name,
// case-insensitively. Unrecognised names return DataTypeUnknown.
func DataTypeFromName(name string) DataType {
	for dt, n := range dataTypeNames {
		if strings.EqualFold(n, name) {
			return dt
		}
	}
	return DataTypeUnknown
}

// KindForType classifies a metric type name into the value kind that
// selects its persistence column. The match is a case-insensitive prefix:
// int*/uint* route to the integer column, float/double to the float
// column, boolean to the bool column, and everything else (String, Text,
// UUID, DateTime, ...) stringifies.
func KindForType(typeName string) types.ValueKind {
	t := strings.ToLower(typeName)
	switch {
	case strings.HasPrefix(t, "int"), strings.HasPrefix(t, "uint"):
		return types.ValueInt
	case strings.HasPrefix(t, "float"), strings.HasPrefix(t, "double"):
		return types.ValueFloat
	case strings.HasPrefix(t, "boolean"):
		return types.ValueBool
	default:
		return types.ValueString
	}
}
