package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies the query engine's instruments.
const MeterName = "dcsa-query"

// QueryMetrics holds the list pipeline instruments.
type QueryMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	rowsReturned    metric.Int64Histogram
	joinCount       metric.Int64Histogram
	countQueries    metric.Int64Counter
}

// InitQueryMetrics creates the query instruments on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	return NewQueryMetrics(otel.Meter(MeterName))
}

// NewQueryMetrics creates the query instruments on meter.
func NewQueryMetrics(meter metric.Meter) (*QueryMetrics, error) {
	requestDuration, err := meter.Float64Histogram(
		"query.duration",
		metric.WithDescription("Duration of list queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"query.requests.total",
		metric.WithDescription("Total number of list queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"query.errors.total",
		metric.WithDescription("Total number of failed list queries by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"query.requests.active",
		metric.WithDescription("Number of list queries in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"query.rows",
		metric.WithDescription("Number of rows returned per page"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	joinCount, err := meter.Int64Histogram(
		"query.joins",
		metric.WithDescription("Number of joins in compiled queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create join count histogram: %w", err)
	}

	countQueries, err := meter.Int64Counter(
		"query.count_queries.total",
		metric.WithDescription("Number of COUNT queries executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create count query counter: %w", err)
	}

	return &QueryMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		rowsReturned:    rowsReturned,
		joinCount:       joinCount,
		countQueries:    countQueries,
	}, nil
}

// RecordRequest records one list call. errorKind is empty on success.
func (m *QueryMetrics) RecordRequest(ctx context.Context, entity string, duration time.Duration, errorKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.Bool("has_errors", errorKind != ""),
	}
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("kind", errorKind),
		))
	}
}

// RecordRows records the size of a returned page.
func (m *QueryMetrics) RecordRows(ctx context.Context, entity string, rows int64) {
	if m == nil {
		return
	}
	m.rowsReturned.Record(ctx, rows, metric.WithAttributes(attribute.String("entity", entity)))
}

// RecordJoins records how many joins a compiled query needed.
func (m *QueryMetrics) RecordJoins(ctx context.Context, entity string, joins int64) {
	if m == nil {
		return
	}
	m.joinCount.Record(ctx, joins, metric.WithAttributes(attribute.String("entity", entity)))
}

// RecordCount records an executed COUNT query.
func (m *QueryMetrics) RecordCount(ctx context.Context, entity string) {
	if m == nil {
		return
	}
	m.countQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
}

func (m *QueryMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

func (m *QueryMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics.
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	logger.Info("custom query metrics initialized")
	return metrics, nil
}
