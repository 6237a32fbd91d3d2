// Package planner compiles a parsed request into parameterized SQL: the page
// SELECT and the matching COUNT. Only the joins referenced by the filter, the
// sort or the projection are emitted.
package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/dialect"
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/request"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []any
}

// Plan holds the compiled statements for one page.
type Plan struct {
	Select SQLQuery // page query, Limit+1 rows
	Count  SQLQuery // filter only, no ORDER BY or LIMIT
	Joins  []analysis.JoinDescriptor
	// Columns are the selected fields in SELECT order. The first Projected
	// are the requested projection; the rest are sort keys kept for cursors.
	Columns   []*analysis.QueryField
	Projected int
	Sort      []request.SortKey
	Limit     int
	Offset    int
	// Backward pages are fetched in reverse order; callers restore it.
	Backward bool
}

// PlanOption configures Compile.
type PlanOption func(*planOptions)

type planOptions struct {
	limits *PlanLimits
}

// WithLimits rejects requests whose estimated cost exceeds limits.
func WithLimits(limits PlanLimits) PlanOption {
	return func(o *planOptions) {
		o.limits = &limits
	}
}

// Compile builds the statements for st. st must have been parsed against a.
func Compile(a *analysis.EntityAnalysis, st *request.State, d dialect.Dialect, opts ...PlanOption) (*Plan, error) {
	options := &planOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if st.Analysis() != a {
		return nil, fmt.Errorf("request state was parsed for entity %s, not %s", st.Analysis().Name(), a.Name())
	}

	if options.limits != nil {
		if err := validateLimits(EstimateCost(st), *options.limits); err != nil {
			return nil, err
		}
	}

	columns := st.SelectFields()
	filter := st.Filter()
	referenced := append(append([]*analysis.QueryField(nil), columns...), filter.Fields()...)
	for _, f := range referenced {
		if !a.HasAlias(f.TableAlias) {
			return nil, queryerr.Configurationf(a.Name(), "field %s references alias %q which is not part of the join graph", f.InternalName, f.TableAlias)
		}
	}
	joins, err := a.RequiredJoins(referenced...)
	if err != nil {
		return nil, err
	}

	c := &compiler{d: d}
	where, err := c.predicate(filter)
	if err != nil {
		return nil, err
	}

	keys := st.Sort()
	var seek sq.Sqlizer
	if st.Mode() == cursor.ModeKeyset && len(st.Position()) > 0 {
		if seek, err = c.seekPredicate(keys, st.Position(), st.Backward()); err != nil {
			return nil, err
		}
	}
	offset := 0
	if st.Mode() == cursor.ModeOffset {
		offset = st.Offset()
	}

	selectList := make([]string, len(columns))
	for i, f := range columns {
		selectList[i] = c.column(f) + " AS " + d.QuoteIdentifier(f.SelectName)
	}

	builder := c.from(a, sq.Select(selectList...), joins)
	if st.Distinct() {
		builder = builder.Distinct()
	}
	if where != nil {
		builder = builder.Where(where)
	}
	if seek != nil {
		builder = builder.Where(seek)
	}
	builder = builder.OrderBy(c.orderBy(keys, st.Backward())...).
		Suffix(d.LimitOffset(st.PageSize()+1, offset)).
		PlaceholderFormat(d.PlaceholderFormat())

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	count, err := c.count(a, joins, selectList, where, st.Distinct())
	if err != nil {
		return nil, err
	}

	return &Plan{
		Select:    SQLQuery{SQL: query, Args: args},
		Count:     count,
		Joins:     joins,
		Columns:   columns,
		Projected: len(st.Projection()),
		Sort:      keys,
		Limit:     st.PageSize(),
		Offset:    offset,
		Backward:  st.Backward(),
	}, nil
}

type compiler struct {
	d dialect.Dialect
}

func (c *compiler) column(f *analysis.QueryField) string {
	return c.d.QuoteIdentifier(f.TableAlias) + "." + c.d.QuoteIdentifier(f.Column)
}

func (c *compiler) from(a *analysis.EntityAnalysis, builder sq.SelectBuilder, joins []analysis.JoinDescriptor) sq.SelectBuilder {
	builder = builder.From(c.d.TableRef(a.PrimaryTable(), a.PrimaryAlias()))
	for _, j := range joins {
		builder = builder.JoinClause(fmt.Sprintf("%s JOIN %s ON %s.%s = %s.%s",
			j.Type,
			c.d.TableRef(j.RightTable, j.RightAlias),
			c.d.QuoteIdentifier(j.LeftAlias), c.d.QuoteIdentifier(j.OnLeftColumn),
			c.d.QuoteIdentifier(j.RightAlias), c.d.QuoteIdentifier(j.OnRightColumn),
		))
	}
	return builder
}

func (c *compiler) orderBy(keys []request.SortKey, backward bool) []string {
	clauses := make([]string, len(keys))
	for i, k := range keys {
		clauses[i] = c.d.OrderTerm(c.column(k.Field), k.Descending != backward)
	}
	return clauses
}

// count mirrors the page query without ORDER BY, LIMIT or the keyset predicate.
func (c *compiler) count(a *analysis.EntityAnalysis, joins []analysis.JoinDescriptor, selectList []string, where sq.Sqlizer, distinct bool) (SQLQuery, error) {
	var builder sq.SelectBuilder
	if distinct {
		builder = c.from(a, sq.Select(selectList...).Distinct(), joins)
	} else {
		builder = c.from(a, sq.Select("COUNT(*)"), joins)
	}
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.PlaceholderFormat(c.d.PlaceholderFormat()).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	if distinct {
		return buildCountFromBaseSQL(SQLQuery{SQL: query, Args: args}), nil
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func buildCountFromBaseSQL(base SQLQuery) SQLQuery {
	return SQLQuery{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS __count", base.SQL),
		Args: append([]any(nil), base.Args...),
	}
}

// Describe renders q followed by its arguments, for logs and the CLI.
// The result is not safe to execute.
func Describe(q SQLQuery) string {
	var b strings.Builder
	b.WriteString(q.SQL)
	if len(q.Args) > 0 {
		b.WriteString(" -- args: ")
		for i, arg := range q.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%v", arg)
		}
	}
	return b.String()
}
