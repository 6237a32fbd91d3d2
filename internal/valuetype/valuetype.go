// Package valuetype defines the value categories a query field can hold.
// It parses client literals into driver arguments and coerces driver values
// read back from result rows into one canonical Go representation per type.
package valuetype

import (
	"fmt"
	"strings"
)

// ValueType is the declared category of a query field.
type ValueType int

const (
	// String is the default for text columns and unknown SQL types.
	String ValueType = iota
	// Int covers integer numeric types.
	Int
	// Float covers floating-point types.
	Float
	// Decimal covers fixed-point types; values are carried as Dec.
	Decimal
	// Bool covers boolean types.
	Bool
	// Timestamp covers date-time types; values are time.Time.
	Timestamp
	// Date covers calendar dates; values are YYYY-MM-DD strings.
	Date
	// UUID values are lower-case canonical strings.
	UUID
	// Enum is a string restricted to a declared value list.
	Enum
)

var names = map[ValueType]string{
	String:    "string",
	Int:       "int",
	Float:     "float",
	Decimal:   "decimal",
	Bool:      "bool",
	Timestamp: "timestamp",
	Date:      "date",
	UUID:      "uuid",
	Enum:      "enum",
}

// String returns the configuration name of the type.
func (t ValueType) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Parse resolves a configuration name such as "int" or "timestamp".
func Parse(name string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string", "text":
		return String, nil
	case "int", "integer", "long":
		return Int, nil
	case "float", "double":
		return Float, nil
	case "decimal", "numeric":
		return Decimal, nil
	case "bool", "boolean":
		return Bool, nil
	case "timestamp", "datetime", "time":
		return Timestamp, nil
	case "date":
		return Date, nil
	case "uuid":
		return UUID, nil
	case "enum":
		return Enum, nil
	default:
		return String, fmt.Errorf("unknown value type %q", name)
	}
}

// FromSQLType maps a SQL column type to its value type.
// The input is case-insensitive and size specifiers like (10,2) are stripped.
func FromSQLType(sqlType string) ValueType {
	if idx := strings.Index(sqlType, "("); idx != -1 {
		sqlType = sqlType[:idx]
	}
	switch strings.ToUpper(strings.TrimSpace(sqlType)) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"SERIAL", "BIGSERIAL", "SMALLSERIAL", "INT2", "INT4", "INT8":
		return Int
	case "FLOAT", "DOUBLE", "REAL", "DOUBLE PRECISION", "FLOAT4", "FLOAT8":
		return Float
	case "DECIMAL", "NUMERIC", "MONEY":
		return Decimal
	case "BOOL", "BOOLEAN", "BIT":
		return Bool
	case "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "DATETIME2", "DATETIMEOFFSET":
		return Timestamp
	case "DATE":
		return Date
	case "UUID", "UNIQUEIDENTIFIER":
		return UUID
	case "ENUM":
		return Enum
	default:
		return String
	}
}

// SupportsOrdering reports whether <, <=, > and >= are meaningful for the type.
func (t ValueType) SupportsOrdering() bool {
	switch t {
	case Bool, UUID, Enum:
		return false
	default:
		return true
	}
}

// SupportsPattern reports whether LIKE-style and case-insensitive operators apply.
func (t ValueType) SupportsPattern() bool {
	return t == String || t == Enum
}
