// Package queryerr defines the error taxonomy shared by the query pipeline.
// Callers classify failures with errors.As or Kind rather than by message.
package queryerr

import (
	"errors"
	"fmt"
)

// ErrorKind names one class of the taxonomy.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "configuration"
	KindInvalidParameter ErrorKind = "invalid_parameter"
	KindDataMapping      ErrorKind = "data_mapping"
	KindExecution        ErrorKind = "execution"
	KindUnknown          ErrorKind = "unknown"
)

// ConfigurationError reports invalid or inconsistent entity metadata.
type ConfigurationError struct {
	Entity  string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	prefix := "configuration error"
	if e.Entity != "" {
		prefix = fmt.Sprintf("configuration error in entity %s", e.Entity)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configurationf builds a ConfigurationError for an entity.
func Configurationf(entity, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// InvalidParameterError reports a client-supplied parameter that cannot be honoured.
// Parameter is the offending query parameter name when one is known.
type InvalidParameterError struct {
	Parameter string
	Value     string
	Message   string
	Err       error
}

func (e *InvalidParameterError) Error() string {
	msg := e.Message
	if e.Parameter != "" {
		msg = fmt.Sprintf("invalid query parameter %q: %s", e.Parameter, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *InvalidParameterError) Unwrap() error { return e.Err }

// InvalidParameterf builds an InvalidParameterError for a named parameter.
func InvalidParameterf(parameter, format string, args ...any) *InvalidParameterError {
	return &InvalidParameterError{Parameter: parameter, Message: fmt.Sprintf(format, args...)}
}

// InvalidValue builds an InvalidParameterError naming both the field and the rejected literal.
func InvalidValue(parameter, value string, err error) *InvalidParameterError {
	return &InvalidParameterError{
		Parameter: parameter,
		Value:     value,
		Message:   fmt.Sprintf("cannot use value %q", value),
		Err:       err,
	}
}

// DataMappingError reports a row value that does not fit the declared field type.
type DataMappingError struct {
	Column string
	Value  any
	Target string
	Err    error
}

func (e *DataMappingError) Error() string {
	msg := fmt.Sprintf("cannot map column %q value of type %T to %s", e.Column, e.Value, e.Target)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DataMappingError) Unwrap() error { return e.Err }

// ExecutionError reports a database or driver failure.
type ExecutionError struct {
	Operation string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// FieldNotFoundError is returned by entity lookups for unknown names.
type FieldNotFoundError struct {
	Entity string
	Name   string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("entity %s has no field named %q", e.Entity, e.Name)
}

// Kind classifies an error chain.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		cfgErr     *ConfigurationError
		paramErr   *InvalidParameterError
		mappingErr *DataMappingError
		execErr    *ExecutionError
		notFound   *FieldNotFoundError
	)
	switch {
	case errors.As(err, &paramErr):
		return KindInvalidParameter
	case errors.As(err, &mappingErr):
		return KindDataMapping
	case errors.As(err, &execErr):
		return KindExecution
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &notFound):
		return KindInvalidParameter
	default:
		return KindUnknown
	}
}

// IsClientError reports whether err should be surfaced as a rejected request.
func IsClientError(err error) bool {
	return Kind(err) == KindInvalidParameter
}
