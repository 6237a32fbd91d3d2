// Package rowmap turns result rows into values without runtime type
// inspection. Mapper binds select names to hand-written setters; RecordMapper
// builds generic records from an entity analysis.
package rowmap

import (
	"errors"
	"fmt"
	"time"

	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/valuetype"
)

// Materializer converts one result row into a T. columns are the select
// names reported by the driver; values are in the same order.
type Materializer[T any] interface {
	Materialize(columns []string, values []any) (T, error)
}

// Setter assigns one column value to a T. It is called with nil for SQL NULL.
type Setter[T any] func(*T, any) error

// Mapper is a column to setter table for one Go type. Build it once and
// share it; Bind is not safe for concurrent use with Materialize.
type Mapper[T any] struct {
	setters map[string]Setter[T]
}

// NewMapper returns an empty mapper.
func NewMapper[T any]() *Mapper[T] {
	return &Mapper[T]{setters: make(map[string]Setter[T])}
}

// Bind registers set for the column selected as selectName.
func (m *Mapper[T]) Bind(selectName string, set Setter[T]) *Mapper[T] {
	m.setters[selectName] = set
	return m
}

// Materialize applies the bound setters. Columns without a setter are ignored.
func (m *Mapper[T]) Materialize(columns []string, values []any) (T, error) {
	var out T
	if len(columns) != len(values) {
		return out, fmt.Errorf("row has %d values for %d columns", len(values), len(columns))
	}
	for i, col := range columns {
		set, ok := m.setters[col]
		if !ok {
			continue
		}
		if err := set(&out, values[i]); err != nil {
			return out, mappingError(col, values[i], err)
		}
	}
	return out, nil
}

// conversionError names the Go type a helper expected.
type conversionError struct {
	target string
	err    error
}

func (e *conversionError) Error() string { return e.err.Error() }
func (e *conversionError) Unwrap() error { return e.err }

func mappingError(column string, value any, err error) error {
	var mapped *queryerr.DataMappingError
	if errors.As(err, &mapped) {
		return err
	}
	target := "custom setter"
	var conv *conversionError
	if errors.As(err, &conv) {
		target = conv.target
		err = conv.err
	}
	return &queryerr.DataMappingError{Column: column, Value: value, Target: target, Err: err}
}

func typed[T, V any](vt valuetype.ValueType, target string, assign func(*T, V)) Setter[T] {
	return func(t *T, raw any) error {
		v, err := vt.Coerce(raw)
		if err != nil {
			return &conversionError{target: target, err: err}
		}
		if v == nil {
			return nil
		}
		assign(t, v.(V))
		return nil
	}
}

// String binds text columns. NULL leaves the field untouched.
func String[T any](assign func(*T, string)) Setter[T] {
	return typed(valuetype.String, "string", assign)
}

// Int64 binds integer columns.
func Int64[T any](assign func(*T, int64)) Setter[T] {
	return typed(valuetype.Int, "int64", assign)
}

// Float64 binds floating-point columns.
func Float64[T any](assign func(*T, float64)) Setter[T] {
	return typed(valuetype.Float, "float64", assign)
}

// Bool binds boolean columns, including 0/1 integers.
func Bool[T any](assign func(*T, bool)) Setter[T] {
	return typed(valuetype.Bool, "bool", assign)
}

// Time binds timestamp columns.
func Time[T any](assign func(*T, time.Time)) Setter[T] {
	return typed(valuetype.Timestamp, "time.Time", assign)
}

// Date binds date columns as YYYY-MM-DD strings.
func Date[T any](assign func(*T, string)) Setter[T] {
	return typed(valuetype.Date, "date", assign)
}

// Decimal binds fixed-point columns.
func Decimal[T any](assign func(*T, valuetype.Dec)) Setter[T] {
	return typed(valuetype.Decimal, "decimal", assign)
}

// UUID binds UUID columns as canonical lower-case strings.
func UUID[T any](assign func(*T, string)) Setter[T] {
	return typed(valuetype.UUID, "uuid", assign)
}

// Nullable wraps a setter so NULL is reported through isNull before set runs.
// Use it to distinguish NULL from a zero value.
func Nullable[T any](set Setter[T], isNull func(*T)) Setter[T] {
	return func(t *T, raw any) error {
		if raw == nil {
			isNull(t)
			return nil
		}
		return set(t, raw)
	}
}
