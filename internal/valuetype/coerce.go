package valuetype

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/inf.v0"

	"dcsa-query/internal/uuidutil"
)

// Coerce converts a value produced by a database driver into the canonical
// representation for t. nil passes through. The error describes the mismatch;
// callers wrap it with the column name.
func (t ValueType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case String:
		return coerceString(v)
	case Enum:
		return coerceString(v)
	case Int:
		return coerceInt(v)
	case Float:
		return coerceFloat(v)
	case Decimal:
		return coerceDecimal(v)
	case Bool:
		return coerceBool(v)
	case Timestamp:
		return coerceTimestamp(v)
	case Date:
		return coerceDate(v)
	case UUID:
		return coerceUUID(v)
	default:
		return nil, fmt.Errorf("unsupported value type %s", t)
	}
}

func coerceString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	default:
		return nil, fmt.Errorf("expected text, got %T", v)
	}
}

func coerceInt(v any) (any, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", val)
		}
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float64:
		if val != math.Trunc(val) {
			return nil, fmt.Errorf("expected integer, got fractional %g", val)
		}
		return int64(val), nil
	case []byte:
		return parseIntText(string(val))
	case string:
		return parseIntText(val)
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func parseIntText(s string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expected integer text, got %q", s)
	}
	return n, nil
}

func coerceFloat(v any) (any, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int:
		return float64(val), nil
	case []byte:
		return parseFloatText(string(val))
	case string:
		return parseFloatText(val)
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
}

func parseFloatText(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("expected numeric text, got %q", s)
	}
	return f, nil
}

func coerceDecimal(v any) (any, error) {
	switch val := v.(type) {
	case Dec:
		return val, nil
	case *inf.Dec:
		return Dec{Dec: val}, nil
	case []byte:
		return NewDecimal(string(val))
	case string:
		return NewDecimal(val)
	case int64:
		return Dec{Dec: inf.NewDec(val, 0)}, nil
	case float64:
		return NewDecimal(strconv.FormatFloat(val, 'f', -1, 64))
	default:
		return nil, fmt.Errorf("expected decimal, got %T", v)
	}
}

func coerceBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return boolFromInt(val)
	case int:
		return boolFromInt(int64(val))
	case []byte:
		return boolFromText(string(val))
	case string:
		return boolFromText(val)
	default:
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}
}

func boolFromInt(n int64) (any, error) {
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return nil, fmt.Errorf("expected 0 or 1, got %d", n)
	}
}

func boolFromText(s string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true":
		return true, nil
	case "0", "f", "false":
		return false, nil
	default:
		return nil, fmt.Errorf("expected boolean text, got %q", s)
	}
}

func coerceTimestamp(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case []byte:
		return parseTimestamp(string(val))
	case string:
		return parseTimestamp(val)
	default:
		return nil, fmt.Errorf("expected timestamp, got %T", v)
	}
}

func coerceDate(v any) (any, error) {
	var text string
	switch val := v.(type) {
	case time.Time:
		return val.Format(DateLayout), nil
	case []byte:
		text = string(val)
	case string:
		text = val
	default:
		return nil, fmt.Errorf("expected date, got %T", v)
	}
	if len(text) >= len(DateLayout) {
		text = text[:len(DateLayout)]
	}
	d, err := time.Parse(DateLayout, text)
	if err != nil {
		return nil, fmt.Errorf("expected date text, got %q", text)
	}
	return d.Format(DateLayout), nil
}

func coerceUUID(v any) (any, error) {
	switch val := v.(type) {
	case string:
		_, normalized, err := uuidutil.ParseString(val)
		return normalizedOrNil(normalized, err)
	case []byte:
		if len(val) == 16 {
			_, normalized, err := uuidutil.ParseBytes(val)
			return normalizedOrNil(normalized, err)
		}
		_, normalized, err := uuidutil.ParseString(string(val))
		return normalizedOrNil(normalized, err)
	default:
		return nil, fmt.Errorf("expected UUID, got %T", v)
	}
}

func normalizedOrNil(normalized string, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return normalized, nil
}
