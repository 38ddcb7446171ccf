package sqlite

import (
	"strconv"
	"strings"

	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/schema"
)

// Metadata maps SQLite declared types. SQLite types are affinities, so the
// mapping follows the declared name the way SQLite's affinity rules do,
// checking the more specific names first.
type Metadata struct{}

// DataType implements provider.Metadata.
func (Metadata) DataType(native string) schema.DataType {
	base, _ := provider.ParseNativeType(native)
	switch {
	case base == "":
		return schema.Bytes
	case strings.Contains(base, "UUID"), strings.Contains(base, "GUID"), base == "UNIQUEIDENTIFIER":
		return schema.GUID
	case strings.Contains(base, "BOOL"):
		return schema.Bool
	case strings.Contains(base, "DATE"), strings.Contains(base, "TIME"):
		return schema.Time
	case strings.Contains(base, "INT"):
		return schema.Int64
	case strings.Contains(base, "CHAR"), strings.Contains(base, "CLOB"), strings.Contains(base, "TEXT"):
		return schema.String
	case strings.Contains(base, "BLOB"):
		return schema.Bytes
	case strings.Contains(base, "REAL"), strings.Contains(base, "FLOA"), strings.Contains(base, "DOUB"):
		return schema.Float64
	case strings.Contains(base, "DEC"), strings.Contains(base, "NUM"):
		return schema.Decimal
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
		return "INTEGER"
	case schema.Float64:
		return "REAL"
	case schema.Decimal:
		if c.Precision > 0 {
			return "NUMERIC(" + strconv.Itoa(c.Precision) + "," + strconv.Itoa(c.Scale) + ")"
		}
		return "NUMERIC"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Bytes:
		return "BLOB"
	case schema.Time:
		return "DATETIME"
	case schema.GUID:
		return "UUID"
	}
	return "TEXT"
}
