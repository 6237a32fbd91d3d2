package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"dcsa-query/internal/dialect"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.Query.validate(c.EffectiveDialect(), result)
	c.Observability.validate(result)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.Driver {
	case DriverMySQL:
		// Port range validation (only if not using connection string)
		if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.port",
				Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
			})
		}
		if d.ConnectionString != "" {
			if _, err := d.DSN(); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   "database.dsn",
					Message: err.Error(),
					Hint:    "set a valid MySQL DSN in database.dsn/database.dsn_file",
				})
			}
		}
		d.TLS.validate(result)
	case DriverSQLite, DriverLibSQL:
		if strings.TrimSpace(d.ConnectionString) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.dsn",
				Message: fmt.Sprintf("dsn is required for driver %q", d.Driver),
				Hint:    "e.g. file:events.db for sqlite3 or libsql://host?authToken=... for libsql",
			})
		}
		if d.TLS.Mode != "" {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "database.tls.mode",
				Message: fmt.Sprintf("tls settings are ignored for driver %q", d.Driver),
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unsupported driver %q", d.Driver),
			Hint:    "valid values are: mysql, sqlite3, libsql",
		})
	}

	// Connection pool validation
	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	for i, stmt := range d.SessionInit {
		if strings.TrimSpace(stmt) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   fmt.Sprintf("database.session_init[%d]", i),
				Message: "statement cannot be empty",
			})
		}
	}
	if len(d.SessionReset) > 0 && len(d.SessionInit) == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.session_reset",
			Message: "session_reset is set without session_init",
			Hint:    "reset statements only run on connections prepared by session_init",
		})
	}

	// Connection retry validation
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	// Mode validation
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
	}

	// CA file is required for verify-ca and verify-full
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.ca_file",
			Message: "CA file is required for verify-ca and verify-full modes",
			Hint:    "set ca_file to specify the CA certificate",
		})
	}

	// Client cert and key must both be specified or neither
	if (t.CertFile != "" && t.KeyFile == "") || (t.CertFile == "" && t.KeyFile != "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.cert_file",
			Message: "both cert_file and key_file must be specified for client certificate authentication",
			Hint:    "provide both cert_file and key_file, or neither",
		})
	}

	// Warn about skip-verify in non-empty mode
	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify mode does not verify server certificates",
			Hint:    "use verify-ca or verify-full in production",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	// Port range validation
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}

	// Rate limit validation
	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_rps",
				Message: "rate_limit_rps must be greater than 0 when rate limiting is enabled",
			})
		}
		if s.RateLimitBurst <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_burst",
				Message: "rate_limit_burst must be greater than 0 when rate limiting is enabled",
			})
		}
	}

	if !s.RateLimitEnabled && (s.RateLimitRPS > 0 || s.RateLimitBurst > 0) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.rate_limit_enabled",
			Message: "rate limit values are set but rate limiting is disabled",
			Hint:    "enable server.rate_limit_enabled to apply rate limits",
		})
	}

	// CORS validation
	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "CORS enabled but no allowed origins configured",
				Hint:    "set cors_allowed_origins or disable CORS",
			})
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}

		if hasWildcard && s.CORSAllowCredentials {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "wildcard origin (*) cannot be used with credentials",
				Hint:    "use specific origins with credentials, or wildcard without credentials",
			})
		}

		if hasWildcard {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.cors_allowed_origins",
				Message: "CORS wildcard origin enabled",
				Hint:    "use specific origins in production for better security",
			})
		}
	}

	if s.HealthCheckTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.health_check_timeout",
			Message: "health_check_timeout cannot be negative",
		})
	}
}

func (q *QueryConfig) validate(dialectName string, result *ValidationResult) {
	if _, err := dialect.ByName(dialectName); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.dialect",
			Message: err.Error(),
			Hint:    "valid values are: mysql, postgres, sqlite, sqlserver",
		})
	}

	if strings.TrimSpace(q.EntitiesFile) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.entities_file",
			Message: "entities_file is required",
			Hint:    "point entities_file at the YAML entity catalog",
		})
	}

	if q.DefaultPageSize < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.default_page_size",
			Message: "default_page_size cannot be negative",
		})
	}
	if q.MaxPageSize < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.max_page_size",
			Message: "max_page_size cannot be negative",
		})
	}
	if q.MaxPageSize > 0 && q.DefaultPageSize > q.MaxPageSize {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.default_page_size",
			Message: fmt.Sprintf("default_page_size %d is greater than max_page_size %d", q.DefaultPageSize, q.MaxPageSize),
		})
	}

	names := map[string]string{
		"sort":   q.Params.Sort,
		"limit":  q.Params.Limit,
		"offset": q.Params.Offset,
		"cursor": q.Params.Cursor,
		"fields": q.Params.Fields,
		"count":  q.Params.Count,
	}
	seen := make(map[string]string, len(names))
	for _, key := range []string{"sort", "limit", "offset", "cursor", "fields", "count"} {
		name := strings.TrimSpace(names[key])
		if name == "" {
			continue
		}
		if other, ok := seen[name]; ok {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "query.params." + key,
				Message: fmt.Sprintf("parameter name %q is already used by query.params.%s", name, other),
			})
			continue
		}
		seen[name] = key
	}

	if strings.TrimSpace(q.AttributeSeparator) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.attribute_separator",
			Message: "attribute_separator cannot be empty",
		})
	}

	if q.CursorSecret == "" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "query.cursor_secret",
			Message: "no cursor secret configured",
			Hint:    "set query.cursor_secret or cursor_secret_file so cursors cannot be forged",
		})
	}

	limits := map[string]int{
		"max_joins":      q.Limits.MaxJoins,
		"max_predicates": q.Limits.MaxPredicates,
		"max_in_values":  q.Limits.MaxInValues,
		"max_rows":       q.Limits.MaxRows,
	}
	for _, key := range []string{"max_joins", "max_predicates", "max_in_values", "max_rows"} {
		if limits[key] < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "query.limits." + key,
				Message: key + " cannot be negative",
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
