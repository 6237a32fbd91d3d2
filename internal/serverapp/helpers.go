package serverapp

import (
	"database/sql"
	"log/slog"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/config"
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/dbexec"
	"dcsa-query/internal/dialect"
	"dcsa-query/internal/engine"
	"dcsa-query/internal/logging"
	"dcsa-query/internal/metadata"
	"dcsa-query/internal/observability"
	"dcsa-query/internal/planner"
	"dcsa-query/internal/request"
)

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider feeding it.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(telemetryConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	logger.Info("OpenTelemetry logging initialized successfully")

	return logger, loggerProvider, nil
}

func telemetryConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(telemetryConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}

	queryMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return meterProvider, queryMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(telemetryConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")
	return tracerProvider, nil
}

// loadRegistry reads the entity catalog and, with query.preload, analyzes
// every entity so configuration errors surface at startup.
func loadRegistry(cfg *config.Config, logger *logging.Logger) (*analysis.Registry, error) {
	catalog, err := metadata.LoadCatalog(cfg.Query.EntitiesFile)
	if err != nil {
		return nil, err
	}
	registry := analysis.NewRegistry(catalog)
	if cfg.Query.Preload {
		if err := registry.Preload(); err != nil {
			return nil, err
		}
	}
	logger.Info("entity catalog loaded",
		slog.String("path", cfg.Query.EntitiesFile),
		slog.Any("entities", registry.Names()),
		slog.Bool("preloaded", cfg.Query.Preload),
	)
	return registry, nil
}

func buildQueryExecutor(cfg *config.Config, db *sql.DB) dbexec.QueryExecutor {
	if len(cfg.Database.SessionInit) == 0 {
		return dbexec.NewStandardExecutor(db)
	}
	return dbexec.NewSessionExecutor(dbexec.SessionExecutorConfig{
		DB:    db,
		Setup: cfg.Database.SessionInit,
		Reset: cfg.Database.SessionReset,
	})
}

func requestOptions(cfg *config.Config) request.Options {
	q := cfg.Query
	return request.Options{
		DefaultPageSize: q.DefaultPageSize,
		MaxPageSize:     q.MaxPageSize,
		Names: request.ParamNames{
			Sort:   q.Params.Sort,
			Limit:  q.Params.Limit,
			Offset: q.Params.Offset,
			Cursor: q.Params.Cursor,
			Fields: q.Params.Fields,
			Count:  q.Params.Count,
		},
		AttributeSeparator: q.AttributeSeparator,
		Reserved:           q.ReservedParams,
		Codec:              cursor.NewCodec([]byte(q.CursorSecret)),
		AllowOffset:        q.AllowOffset,
	}
}

func buildEngine(cfg *config.Config, logger *logging.Logger, registry *analysis.Registry, executor dbexec.QueryExecutor, metrics *observability.QueryMetrics) (*engine.Engine, error) {
	d, err := dialect.ByName(cfg.EffectiveDialect())
	if err != nil {
		return nil, err
	}
	if cfg.Query.CursorSecret == "" {
		logger.Warn("cursor secret is empty; cursors are checksummed but not signed")
	}

	eng, err := engine.New(engine.Config{
		Registry: registry,
		Executor: executor,
		Dialect:  d,
		Options:  requestOptions(cfg),
		Limits: planner.PlanLimits{
			MaxJoins:      cfg.Query.Limits.MaxJoins,
			MaxPredicates: cfg.Query.Limits.MaxPredicates,
			MaxInValues:   cfg.Query.Limits.MaxInValues,
			MaxRows:       cfg.Query.Limits.MaxRows,
		},
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("query engine ready",
		slog.String("dialect", d.Name()),
		slog.Int("max_page_size", cfg.Query.MaxPageSize),
		slog.Bool("allow_offset", cfg.Query.AllowOffset),
		slog.Bool("session_executor", len(cfg.Database.SessionInit) > 0),
	)
	return eng, nil
}
