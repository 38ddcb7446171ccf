package postgres

import (
	"strconv"
	"strings"

	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
)

// Metadata maps PostgreSQL types, as reported by information_schema
// (data_type) or pg_type (udt_name).
type Metadata struct{}

// DataType implements provider.Metadata. Unknown types map to String.
func (Metadata) DataType(native string) schema.DataType {
	base, _ := provider.ParseNativeType(native)
	switch strings.ToLower(base) {
	case "smallint", "integer", "bigint", "int", "int2", "int4", "int8", "smallserial", "serial", "bigserial":
		return schema.Int64
	case "real", "double precision", "float4", "float8":
		return schema.Float64
	case "numeric", "decimal":
		return schema.Decimal
	case "boolean", "bool":
		return schema.Bool
	case "bytea":
		return schema.Bytes
	case "uuid":
		return schema.GUID
	case "date", "time", "timetz", "timestamp", "timestamptz",
		"time without time zone", "time with time zone",
		"timestamp without time zone", "timestamp with time zone":
		return schema.Time
	}
	return schema.String
}

// NativeType implements provider.Metadata.
func (Metadata) NativeType(c schema.Column) string {
	switch c.DataType {
	case schema.String:
		if c.MaxLength > 0 {
			return "VARCHAR(" + strconv.Itoa(c.MaxLength) + ")"
		}
		return "TEXT"
	case schema.Int64:
		return "BIGINT"
	case schema.Float64:
		return "DOUBLE PRECISION"
	case schema.Decimal:
		if c.Precision > 0 {
			return "NUMERIC(" + strconv.Itoa(c.Precision) + "," + strconv.Itoa(c.Scale) + ")"
		}
		return "NUMERIC"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Bytes:
		return "BYTEA"
	case schema.Time:
		return "TIMESTAMPTZ"
	case schema.GUID:
		return "UUID"
	}
	return "TEXT"
}
