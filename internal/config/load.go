package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. DCSAQ_DATABASE_DSN.
const EnvPrefix = "DCSAQ"

var defineFlagsOnce sync.Once

// Load loads configuration from the process command line with the following precedence:
// 1. Explicit overrides (v.Set) – used only for interactive password prompt and secret files
// 2. Command line flags
// 3. Environment variables, including those from a .env file
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() { defineFlags(pflag.CommandLine) })
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return load(pflag.CommandLine)
}

// LoadArgs loads configuration from args using a private flag set.
func LoadArgs(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("dcsa-query", pflag.ContinueOnError)
	defineFlags(flags)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	return load(flags)
}

func load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath, _ := flags.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("dcsa-query")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dcsa-query/")
		v.AddConfigPath("$HOME/.dcsa-query")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// .env values never override variables already set in the environment.
	envFile, _ := flags.GetString("env_file")
	if err := loadDotEnv(envFile, flags.Changed("env_file")); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(flags, v)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}

	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	if v.GetString("query.cursor_secret") == "" && v.GetString("query.cursor_secret_file") != "" {
		secretPath := v.GetString("query.cursor_secret_file")
		secret, err := readSecretFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read cursor secret file: %w", err)
		}
		if secret == "" {
			return nil, fmt.Errorf("cursor secret file %q is empty", secretPath)
		}
		v.Set("query.cursor_secret", secret)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv reads path into the environment. A missing default file is not an error.
func loadDotEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "env_file" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := flags.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := flags.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := flags.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := flags.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := flags.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := flags.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines all command line flags using canonical snake_case keys.
func defineFlags(flags *pflag.FlagSet) {
	flags.String("database.driver", "", "Database driver (mysql, sqlite3, libsql)")
	flags.String("database.dsn", "", "Driver data source name")
	flags.String("database.dsn_file", "", "Path to file containing the DSN (use @- for stdin)")
	flags.String("database.host", "", "MySQL host")
	flags.Int("database.port", 0, "MySQL port")
	flags.String("database.user", "", "MySQL user")
	flags.String("database.password", "", "MySQL password")
	flags.String("database.password_file", "", "Path to file containing the MySQL password (use @- for stdin)")
	flags.Bool("database.password_prompt", false, "Prompt for the MySQL password")
	flags.String("database.database", "", "MySQL database name")
	flags.String("database.tls.mode", "", "MySQL TLS mode (off, skip-verify, verify-ca, verify-full)")
	flags.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	flags.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	flags.String("database.tls.key_file", "", "Path to client private key for mTLS")
	flags.String("database.tls.server_name", "", "Override TLS server name for verification")
	flags.Int("database.pool.max_open", 0, "Maximum open database connections")
	flags.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	flags.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	flags.StringSlice("database.session_init", nil, "Statements run on each query connection before use")
	flags.StringSlice("database.session_reset", nil, "Statements run on each query connection after use")
	flags.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	flags.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	flags.Int("server.port", 0, "HTTP server port")
	flags.Bool("server.rate_limit_enabled", false, "Enable global rate limiting")
	flags.Float64("server.rate_limit_rps", 0, "Global rate limit requests per second")
	flags.Int("server.rate_limit_burst", 0, "Global rate limit burst size")
	flags.Bool("server.cors_enabled", false, "Enable CORS")
	flags.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins")
	flags.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods")
	flags.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers")
	flags.StringSlice("server.cors_expose_headers", nil, "CORS headers exposed to browsers")
	flags.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
	flags.Int("server.cors_max_age", 0, "CORS preflight cache duration (seconds)")
	flags.Duration("server.read_timeout", 0, "HTTP server read timeout")
	flags.Duration("server.write_timeout", 0, "HTTP server write timeout")
	flags.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	flags.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	flags.Duration("server.health_check_timeout", 0, "Health check timeout")

	flags.String("query.dialect", "", "SQL dialect (mysql, postgres, sqlite, sqlserver); defaults to the driver's")
	flags.String("query.entities_file", "", "YAML file describing the queryable entities")
	flags.Int("query.default_page_size", 0, "Page size when no limit is given (0 = max_page_size)")
	flags.Int("query.max_page_size", 0, "Largest accepted page size")
	flags.String("query.params.sort", "", "Name of the sort parameter")
	flags.String("query.params.limit", "", "Name of the page size parameter")
	flags.String("query.params.offset", "", "Name of the offset parameter")
	flags.String("query.params.cursor", "", "Name of the cursor parameter")
	flags.String("query.params.fields", "", "Name of the projection parameter")
	flags.String("query.params.count", "", "Name of the total count parameter")
	flags.String("query.attribute_separator", "", "Separator between a field and its filter operator")
	flags.StringSlice("query.reserved_params", nil, "Query parameters ignored by the filter parser")
	flags.Bool("query.allow_offset", false, "Allow offset pagination for every entity")
	flags.String("query.cursor_secret", "", "Secret used to sign cursors")
	flags.String("query.cursor_secret_file", "", "Path to file containing the cursor secret (use @- for stdin)")
	flags.Bool("query.preload", false, "Analyze every entity at startup")
	flags.Int("query.limits.max_joins", 0, "Maximum joins per query")
	flags.Int("query.limits.max_predicates", 0, "Maximum filter predicates per query")
	flags.Int("query.limits.max_in_values", 0, "Maximum values in one filter list")
	flags.Int("query.limits.max_rows", 0, "Maximum rows fetched per page")

	flags.String("observability.service_name", "", "Service name for observability")
	flags.String("observability.service_version", "", "Service version for observability")
	flags.String("observability.environment", "", "Environment name (dev, staging, prod)")
	flags.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	flags.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	flags.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	flags.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	flags.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	flags.String("observability.logging.format", "", "Log format (json, text)")
	flags.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	flags.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	flags.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	flags.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	flags.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	flags.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	flags.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	flags.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	flags.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	flags.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	flags.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")
	flags.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	flags.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	flags.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	flags.Duration("observability.traces.timeout", 0, "Timeout for trace exports")
	flags.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	flags.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	flags.Bool("observability.logs.insecure", false, "Use insecure connection for logs")
	flags.Duration("observability.logs.timeout", 0, "Timeout for log exports")
	flags.String("observability.metrics.endpoint", "", "OTLP endpoint for metrics only")
	flags.Bool("observability.metrics.insecure", false, "Use insecure connection for metrics")
	flags.Duration("observability.metrics.timeout", 0, "Timeout for metric exports")

	flags.StringP("config", "c", "", "Config file path")
	flags.String("env_file", ".env", "Environment file loaded before reading env vars")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "dcsa")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "dcsa")
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.session_init", []string{})
	v.SetDefault("database.session_reset", []string{})
	v.SetDefault("database.connection_timeout", 60*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "API-Version"})
	v.SetDefault("server.cors_expose_headers", []string{
		"Link", "Current-Page", "First-Page", "Previous-Page", "Next-Page", "X-Total-Count",
	})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)

	v.SetDefault("query.dialect", "")
	v.SetDefault("query.entities_file", "entities.yaml")
	v.SetDefault("query.default_page_size", 0)
	v.SetDefault("query.max_page_size", 100)
	v.SetDefault("query.params.sort", "sort")
	v.SetDefault("query.params.limit", "limit")
	v.SetDefault("query.params.offset", "offset")
	v.SetDefault("query.params.cursor", "cursor")
	v.SetDefault("query.params.fields", "fields")
	v.SetDefault("query.params.count", "count")
	v.SetDefault("query.attribute_separator", ":")
	v.SetDefault("query.reserved_params", []string{"API-Version"})
	v.SetDefault("query.allow_offset", false)
	v.SetDefault("query.cursor_secret", "")
	v.SetDefault("query.cursor_secret_file", "")
	v.SetDefault("query.preload", true)
	v.SetDefault("query.limits.max_joins", 0)
	v.SetDefault("query.limits.max_predicates", 0)
	v.SetDefault("query.limits.max_in_values", 1000)
	v.SetDefault("query.limits.max_rows", 0)

	v.SetDefault("observability.service_name", "dcsa-query")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	stdinBackedKeys := []string{
		"database.dsn_file",
		"database.password_file",
		"query.cursor_secret_file",
	}

	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}

	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}

	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
