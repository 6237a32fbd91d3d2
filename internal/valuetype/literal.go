package valuetype

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/inf.v0"

	"dcsa-query/internal/uuidutil"
)

// DateLayout is the only accepted date literal format.
const DateLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Dec carries a fixed-point value without float rounding.
type Dec struct {
	*inf.Dec
}

// NewDecimal parses a decimal string.
func NewDecimal(raw string) (Dec, error) {
	d, ok := new(inf.Dec).SetString(strings.TrimSpace(raw))
	if !ok {
		return Dec{}, fmt.Errorf("invalid decimal %q", raw)
	}
	return Dec{Dec: d}, nil
}

// Value sends the decimal to drivers as its exact string form.
func (d Dec) Value() (driver.Value, error) {
	if d.Dec == nil {
		return nil, nil
	}
	return d.Dec.String(), nil
}

// MarshalJSON renders the decimal as a JSON number.
func (d Dec) MarshalJSON() ([]byte, error) {
	if d.Dec == nil {
		return []byte("null"), nil
	}
	return []byte(d.Dec.String()), nil
}

func (d Dec) String() string {
	if d.Dec == nil {
		return ""
	}
	return d.Dec.String()
}

// ParseLiteral converts a client-supplied literal into the argument passed to
// the driver. enumValues restricts Enum literals and is ignored otherwise.
func (t ValueType) ParseLiteral(raw string, enumValues []string) (any, error) {
	switch t {
	case String:
		return raw, nil
	case Int:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer")
		}
		return v, nil
	case Float:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("not a finite number")
		}
		return v, nil
	case Decimal:
		return NewDecimal(raw)
	case Bool:
		switch strings.ToUpper(strings.TrimSpace(raw)) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		default:
			return nil, fmt.Errorf("must be TRUE or FALSE")
		}
	case Timestamp:
		return parseTimestamp(raw)
	case Date:
		d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("must be a date in YYYY-MM-DD format")
		}
		return d.Format(DateLayout), nil
	case UUID:
		_, normalized, err := uuidutil.ParseString(raw)
		if err != nil {
			return nil, err
		}
		return normalized, nil
	case Enum:
		for _, allowed := range enumValues {
			if raw == allowed {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("must be one of: %s", strings.Join(enumValues, ", "))
	default:
		return nil, fmt.Errorf("unsupported value type %s", t)
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("must be an RFC 3339 timestamp")
}

// FormatLiteral renders a canonical value as a literal that ParseLiteral accepts.
// The round trip is exact for every type.
func FormatLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case Dec:
		return val.String()
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
