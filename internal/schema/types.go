package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataType is the neutral column type shared by every provider.
type DataType string

const (
	// String is variable or fixed length text.
	String DataType = "string"
	// Int64 covers every integer width.
	Int64 DataType = "int64"
	// Float64 covers real and double precision.
	Float64 DataType = "float64"
	// Decimal is an exact numeric carried as its decimal text.
	Decimal DataType = "decimal"
	// Bool is a boolean flag.
	Bool DataType = "bool"
	// Bytes is binary data, base64 on the wire.
	Bytes DataType = "bytes"
	// Time is a timestamp, RFC 3339 on the wire.
	Time DataType = "time"
	// GUID is a UUID carried as its canonical text.
	GUID DataType = "guid"
)

// AllDataTypes returns every supported data type.
func AllDataTypes() []DataType {
	return []DataType{String, Int64, Float64, Decimal, Bool, Bytes, Time, GUID}
}

// IsValid reports whether d is a supported data type.
func (d DataType) IsValid() bool {
	for _, t := range AllDataTypes() {
		if d == t {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (d DataType) String() string {
	return string(d)
}

// ConvertValue normalizes a value decoded from the wire (JSON with UseNumber)
// or scanned from a driver into the Go type used for dt:
//
//	String, Decimal, GUID -> string
//	Int64                 -> int64
//	Float64               -> float64
//	Bool                  -> bool
//	Bytes                 -> []byte
//	Time                  -> time.Time (UTC)
//
// nil stays nil.
func ConvertValue(dt DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dt {
	case String:
		return toString(v), nil
	case Decimal:
		return normalizeDecimal(toString(v)), nil
	case GUID:
		s := toString(v)
		if b, ok := v.([]byte); ok && len(b) == 16 {
			id, err := uuid.FromBytes(b)
			if err == nil {
				return id.String(), nil
			}
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid guid %q: %w", s, err)
		}
		return id.String(), nil
	case Int64:
		return toInt64(v)
	case Float64:
		return toFloat64(v)
	case Bool:
		return toBool(v)
	case Bytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			b, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 bytes: %w", err)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot convert %T to bytes", v)
	case Time:
		return toTime(v)
	default:
		return nil, fmt.Errorf("unsupported data type %q", dt)
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case json.Number:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt64(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("cannot convert %v to int64 without loss", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return nil, fmt.Errorf("cannot convert %T to int64", v)
}

func toFloat64(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(x, 64)
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	}
	return nil, fmt.Errorf("cannot convert %T to float64", v)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case string:
		return strconv.ParseBool(x)
	}
	return nil, fmt.Errorf("cannot convert %T to bool", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func toTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, err
		}
		return time.UnixMicro(n).UTC(), nil
	case int64:
		return time.UnixMicro(x).UTC(), nil
	case []byte:
		return toTime(string(x))
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid time %q", x)
	}
	return nil, fmt.Errorf("cannot convert %T to time", v)
}

// normalizeDecimal rewrites exponent notation ("1250e-2", produced by some
// drivers for numeric columns) as plain decimal text ("12.50").
func normalizeDecimal(s string) string {
	i := strings.IndexAny(s, "eE")
	if i < 0 {
		return s
	}
	exp, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return s
	}
	mantissa, sign := s[:i], ""
	if strings.HasPrefix(mantissa, "-") || strings.HasPrefix(mantissa, "+") {
		if mantissa[0] == '-' {
			sign = "-"
		}
		mantissa = mantissa[1:]
	}
	whole, frac, _ := strings.Cut(mantissa, ".")
	digits := whole + frac
	point := len(whole) + exp
	if point <= 0 {
		digits = strings.Repeat("0", 1-point) + digits
		point = 1
	}
	if point >= len(digits) {
		return sign + trimLeadingZeros(digits+strings.Repeat("0", point-len(digits)))
	}
	return sign + trimLeadingZeros(digits[:point]) + "." + digits[point:]
}

func trimLeadingZeros(s string) string {
	if s = strings.TrimLeft(s, "0"); s == "" {
		return "0"
	}
	return s
}
