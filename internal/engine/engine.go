// Package engine runs list requests end to end: parse the parameters,
// compile SQL, execute it, materialize the rows and build page cursors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/dbexec"
	"dcsa-query/internal/dialect"
	"dcsa-query/internal/logging"
	"dcsa-query/internal/observability"
	"dcsa-query/internal/planner"
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/request"
	"dcsa-query/internal/rowmap"
)

// Config assembles an Engine. Registry, Executor, Dialect and Options.Codec are required.
type Config struct {
	Registry *analysis.Registry
	Executor dbexec.QueryExecutor
	Dialect  dialect.Dialect
	Options  request.Options
	Limits   planner.PlanLimits
	// Metrics and Tracer are optional.
	Metrics *observability.QueryMetrics
	Tracer  trace.Tracer
}

// Engine is immutable once built and safe for concurrent use.
type Engine struct {
	registry *analysis.Registry
	executor dbexec.QueryExecutor
	dialect  dialect.Dialect
	options  request.Options
	limits   planner.PlanLimits
	metrics  *observability.QueryMetrics
	tracer   trace.Tracer
}

// New validates cfg and returns an engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("engine: registry is required")
	case cfg.Executor == nil:
		return nil, errors.New("engine: executor is required")
	case cfg.Dialect == nil:
		return nil, errors.New("engine: dialect is required")
	case cfg.Options.Codec == nil:
		return nil, errors.New("engine: cursor codec is required")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("dcsa-query/engine")
	}
	opts := cfg.Options
	opts.Reserved = append([]string(nil), cfg.Options.Reserved...)
	return &Engine{
		registry: cfg.Registry,
		executor: cfg.Executor,
		dialect:  cfg.Dialect,
		options:  opts,
		limits:   cfg.Limits,
		metrics:  cfg.Metrics,
		tracer:   tracer,
	}, nil
}

// Registry returns the entity registry the engine resolves names against.
func (e *Engine) Registry() *analysis.Registry { return e.registry }

// Dialect returns the SQL dialect queries are compiled for.
func (e *Engine) Dialect() dialect.Dialect { return e.dialect }

// Compile parses params for entity and returns the plan List would execute.
func (e *Engine) Compile(entity string, params url.Values) (*planner.Plan, *request.State, error) {
	a, err := e.registry.Get(entity)
	if err != nil {
		return nil, nil, err
	}
	st, err := request.Parse(params, a, e.options)
	if err != nil {
		return nil, nil, err
	}
	plan, err := planner.Compile(a, st, e.dialect, planner.WithLimits(e.limits))
	if err != nil {
		return nil, nil, err
	}
	return plan, st, nil
}

// List runs one list request and returns a complete page or an error, never both.
// Cancelling ctx aborts the running statement; failed queries are not retried.
func List[T any](ctx context.Context, e *Engine, entity string, params url.Values, m rowmap.Materializer[T]) (*Page[T], error) {
	start := time.Now()
	e.metrics.IncrementActiveRequests(ctx)
	defer e.metrics.DecrementActiveRequests(ctx)

	ctx, span := e.tracer.Start(ctx, "query.list", trace.WithAttributes(attribute.String("query.entity", entity)))
	defer span.End()

	page, err := list(ctx, e, entity, params, m, span)

	kind := ""
	logger := logging.FromContext(ctx).WithFields(slog.String("entity", entity))
	if err != nil {
		kind = string(queryerr.Kind(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		if queryerr.IsClientError(err) || errors.Is(err, analysis.ErrUnknownEntity) {
			logger.Warn("list request rejected", slog.String("error", err.Error()))
		} else {
			logger.Error("list request failed", slog.String("kind", kind), slog.String("error", err.Error()))
		}
	}
	e.metrics.RecordRequest(ctx, entity, time.Since(start), kind)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRows(ctx, entity, int64(len(page.Items)))
	return page, nil
}

func list[T any](ctx context.Context, e *Engine, entity string, params url.Values, m rowmap.Materializer[T], span trace.Span) (*Page[T], error) {
	plan, st, err := e.Compile(entity, params)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordJoins(ctx, entity, int64(len(plan.Joins)))
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("query.mode", string(st.Mode())),
			attribute.Int("query.page_size", st.PageSize()),
			attribute.Int("query.joins", len(plan.Joins)),
		)
	}
	logging.FromContext(ctx).Debug("compiled list query",
		slog.String("entity", entity),
		slog.String("sql", plan.Select.SQL),
		slog.Int("args", len(plan.Select.Args)),
	)

	fetched, err := fetch(ctx, e.executor, plan, m)
	if err != nil {
		return nil, err
	}

	var total *int64
	if st.WantCount() {
		if known, ok := st.KnownTotal(); ok {
			total = &known
		} else {
			n, err := count(ctx, e.executor, plan)
			if err != nil {
				return nil, err
			}
			e.metrics.RecordCount(ctx, entity)
			total = &n
		}
	}

	return buildPage(e.options, st, plan, fetched, total)
}

// fetched is one page of materialized rows plus the sort key values of each row.
type fetched[T any] struct {
	items   []T
	keys    [][]any
	hasMore bool
}

func fetch[T any](ctx context.Context, exec dbexec.QueryExecutor, plan *planner.Plan, m rowmap.Materializer[T]) (*fetched[T], error) {
	rows, err := exec.QueryContext(ctx, plan.Select.SQL, plan.Select.Args...)
	if err != nil {
		return nil, &queryerr.ExecutionError{Operation: "select", Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns := make([]string, len(plan.Columns))
	for i, f := range plan.Columns {
		columns[i] = f.SelectName
	}
	keyIndex, err := sortKeyIndex(plan)
	if err != nil {
		return nil, err
	}

	out := &fetched[T]{}
	for rows.Next() {
		if len(out.items) == plan.Limit {
			out.hasMore = true
			break
		}
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &queryerr.ExecutionError{Operation: "scan", Err: err}
		}
		item, err := m.Materialize(columns[:plan.Projected], values[:plan.Projected])
		if err != nil {
			return nil, err
		}
		keys := make([]any, len(keyIndex))
		for i, idx := range keyIndex {
			f := plan.Columns[idx]
			v, err := f.ValueType.Coerce(values[idx])
			if err != nil {
				return nil, &queryerr.DataMappingError{Column: f.SelectName, Value: values[idx], Target: f.ValueType.String(), Err: err}
			}
			keys[i] = v
		}
		out.items = append(out.items, item)
		out.keys = append(out.keys, keys)
	}
	if err := rows.Err(); err != nil {
		return nil, &queryerr.ExecutionError{Operation: "select", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &queryerr.ExecutionError{Operation: "select", Err: err}
	}
	return out, nil
}

func count(ctx context.Context, exec dbexec.QueryExecutor, plan *planner.Plan) (int64, error) {
	rows, err := exec.QueryContext(ctx, plan.Count.SQL, plan.Count.Args...)
	if err != nil {
		return 0, &queryerr.ExecutionError{Operation: "count", Err: err}
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, &queryerr.ExecutionError{Operation: "count", Err: err}
		}
		return 0, &queryerr.ExecutionError{Operation: "count", Err: errors.New("count query returned no rows")}
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, &queryerr.ExecutionError{Operation: "count", Err: err}
	}
	if err := rows.Err(); err != nil {
		return 0, &queryerr.ExecutionError{Operation: "count", Err: err}
	}
	return n, nil
}

// sortKeyIndex maps each sort key to its position in the select list.
func sortKeyIndex(plan *planner.Plan) ([]int, error) {
	out := make([]int, len(plan.Sort))
	for i, k := range plan.Sort {
		out[i] = -1
		for j, f := range plan.Columns {
			if f == k.Field {
				out[i] = j
				break
			}
		}
		if out[i] < 0 {
			return nil, fmt.Errorf("sort field %s missing from the select list", k.Field.ExternalName)
		}
	}
	return out, nil
}

// CursorParam returns the query parameter that carries cursor tokens.
func (e *Engine) CursorParam() string {
	if e.options.Names.Cursor != "" {
		return e.options.Names.Cursor
	}
	return request.DefaultParamNames().Cursor
}
