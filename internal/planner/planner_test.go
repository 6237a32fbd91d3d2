package planner

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/dialect"
	"dcsa-query/internal/metadata"
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/request"
	"dcsa-query/internal/testutil/fixtures"
)

var codec = cursor.NewCodec([]byte("planner-secret"))

func options() request.Options {
	return request.Options{DefaultPageSize: 20, MaxPageSize: 50, Codec: codec}
}

func build(t *testing.T, catalog *metadata.Catalog, entity string) *analysis.EntityAnalysis {
	t.Helper()
	a, err := analysis.Build(catalog, entity)
	require.NoError(t, err)
	return a
}

func state(t *testing.T, a *analysis.EntityAnalysis, query string) *request.State {
	t.Helper()
	params, err := url.ParseQuery(query)
	require.NoError(t, err)
	st, err := request.Parse(params, a, options())
	require.NoError(t, err)
	return st
}

// stateAt re-parses query as the page following (or preceding) values.
func stateAt(t *testing.T, a *analysis.EntityAnalysis, query string, backward bool, values ...*string) *request.State {
	t.Helper()
	tmpl := state(t, a, query).CursorTemplate()
	tmpl.Values = values
	tmpl.Backward = backward
	token, err := codec.Encode(tmpl)
	require.NoError(t, err)
	return state(t, a, "cursor="+url.QueryEscape(token))
}

func compile(t *testing.T, a *analysis.EntityAnalysis, st *request.State, d string) *Plan {
	t.Helper()
	dia, err := dialect.ByName(d)
	require.NoError(t, err)
	plan, err := Compile(a, st, dia)
	require.NoError(t, err)
	return plan
}

func str(s string) *string { return &s }

func joinAliases(plan *Plan) []string {
	var out []string
	for _, j := range plan.Joins {
		out = append(out, j.RightAlias)
	}
	return out
}

func abCatalog(t *testing.T) *metadata.Catalog {
	t.Helper()
	catalog, err := metadata.NewCatalog(
		metadata.EntityDescriptor{
			Name:  "b",
			Table: "b",
			Columns: []metadata.ColumnDescriptor{
				{Name: "id", PrimaryKey: true, Type: "int"},
				{Name: "cId", Type: "int"},
			},
		},
		metadata.EntityDescriptor{
			Name:  "a",
			Table: "a",
			Columns: []metadata.ColumnDescriptor{
				{Name: "id", PrimaryKey: true, Type: "int"},
				{Name: "bId", Type: "int"},
			},
			Joins: []metadata.JoinDeclaration{
				{
					Right:       "b",
					LeftColumn:  "b_id",
					RightColumn: "id",
					Fields:      []metadata.ColumnDescriptor{{Name: "cId", Column: "c_id", Type: "int"}},
				},
			},
		},
	)
	require.NoError(t, err)
	return catalog
}

func TestCompile_JoinOnlyWhenReferenced(t *testing.T) {
	a := build(t, abCatalog(t), "a")

	t.Run("filter on joined field", func(t *testing.T) {
		plan := compile(t, a, state(t, a, "cId=7&fields=id"), dialect.SQLite)
		assert.Equal(t,
			`SELECT "a"."id" AS "id" FROM "a" INNER JOIN "b" ON "a"."b_id" = "b"."id" WHERE "b"."c_id" = ? ORDER BY "a"."id" ASC LIMIT 21`,
			plan.Select.SQL)
		assert.Equal(t, []any{int64(7)}, plan.Select.Args)
		assert.Equal(t,
			`SELECT COUNT(*) FROM "a" INNER JOIN "b" ON "a"."b_id" = "b"."id" WHERE "b"."c_id" = ?`,
			plan.Count.SQL)
		assert.Equal(t, []any{int64(7)}, plan.Count.Args)
		assert.Equal(t, []string{"b"}, joinAliases(plan))
	})

	t.Run("filter on own field", func(t *testing.T) {
		plan := compile(t, a, state(t, a, "bId=3&fields=id"), dialect.SQLite)
		assert.Equal(t,
			`SELECT "a"."id" AS "id" FROM "a" WHERE "a"."b_id" = ? ORDER BY "a"."id" ASC LIMIT 21`,
			plan.Select.SQL)
		assert.Equal(t, `SELECT COUNT(*) FROM "a" WHERE "a"."b_id" = ?`, plan.Count.SQL)
		assert.Empty(t, plan.Joins)
	})

	t.Run("projection pulls the join in", func(t *testing.T) {
		plan := compile(t, a, state(t, a, "bId=3"), dialect.SQLite)
		assert.Equal(t, []string{"b"}, joinAliases(plan))
		assert.Contains(t, plan.Select.SQL, `"b"."c_id" AS "b_c_id"`)
	})

	t.Run("sort pulls the join in", func(t *testing.T) {
		plan := compile(t, a, state(t, a, "fields=id&sort=-cId"), dialect.SQLite)
		assert.Equal(t, []string{"b"}, joinAliases(plan))
		assert.Contains(t, plan.Select.SQL, `ORDER BY "b"."c_id" DESC, "a"."id" ASC`)
	})
}

func TestCompile_JoinChain(t *testing.T) {
	a := build(t, fixtures.Orders(t), "order")

	plan := compile(t, a, state(t, a, "countryName=DK&fields=orderId"), dialect.SQLite)
	assert.Equal(t, []string{"customer_table", "customer_address", "city_table", "country_table"}, joinAliases(plan))
	assert.Equal(t,
		`SELECT "order_table"."order_id" AS "order_id" FROM "order_table"`+
			` INNER JOIN "customer_table" ON "order_table"."customer_id" = "customer_table"."customer_id"`+
			` INNER JOIN "address_table" AS "customer_address" ON "customer_table"."address_id" = "customer_address"."address_id"`+
			` INNER JOIN "city_table" ON "customer_address"."city_id" = "city_table"."id"`+
			` INNER JOIN "country_table" ON "city_table"."country_id" = "country_table"."id"`+
			` WHERE "country_table"."country_name" = ? ORDER BY "order_table"."order_id" ASC LIMIT 21`,
		plan.Select.SQL)

	plan = compile(t, a, state(t, a, "fields=orderId,warehouseAddress"), dialect.SQLite)
	assert.Equal(t, []string{"warehouse_address"}, joinAliases(plan))
	assert.Contains(t, plan.Select.SQL,
		`LEFT JOIN "address_table" AS "warehouse_address" ON "order_table"."address_id" = "warehouse_address"."address_id"`)
}

func TestCompile_Predicates(t *testing.T) {
	a := build(t, fixtures.Orders(t), "order")

	tests := []struct {
		name  string
		query string
		where string
		args  []any
	}{
		{
			name:  "negations",
			query: "warehouseAddress!=NULL&orderId:nin=1,2",
			where: `WHERE (NOT ("order_table"."order_id" IN (?,?)) AND NOT ("warehouse_address"."street_name" IS NULL))`,
			args:  []any{int64(1), int64(2)},
		},
		{
			name:  "null or value",
			query: "warehouseAddress=NULL,Main",
			where: `WHERE ("warehouse_address"."street_name" IS NULL OR "warehouse_address"."street_name" = ?)`,
			args:  []any{"Main"},
		},
		{
			name:  "range",
			query: "orderId>=10&orderId:lt=20",
			where: `WHERE ("order_table"."order_id" < ? AND "order_table"."order_id" >= ?)`,
			args:  []any{int64(20), int64(10)},
		},
		{
			name:  "like",
			query: "orderline:like=a%25",
			where: `WHERE "order_table"."orderline" LIKE ? ESCAPE '!'`,
			args:  []any{"a%"},
		},
		{
			name:  "substring",
			query: "orderline:isubstr=50%25",
			where: `WHERE LOWER("order_table"."orderline") LIKE LOWER(?) ESCAPE '!'`,
			args:  []any{"%50!%%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := compile(t, a, state(t, a, tt.query+"&fields=orderId"), dialect.SQLite)
			assert.Contains(t, plan.Select.SQL, " "+tt.where+" ORDER BY")
			assert.Equal(t, tt.args, plan.Select.Args)
			assert.True(t, strings.HasSuffix(plan.Count.SQL, " "+tt.where), plan.Count.SQL)
			assert.Equal(t, tt.args, plan.Count.Args)
		})
	}
}

func TestCompile_Keyset(t *testing.T) {
	a := build(t, fixtures.Events(t), "event")
	const base = `SELECT "event"."event_id" AS "event_id", "event"."created_date" AS "created_date" FROM "event" `

	t.Run("first page", func(t *testing.T) {
		plan := compile(t, a, state(t, a, "fields=eventId&limit=2"), dialect.SQLite)
		assert.Equal(t, base+`ORDER BY "event"."created_date" DESC, "event"."event_id" ASC LIMIT 3`, plan.Select.SQL)
		assert.Equal(t, 2, plan.Limit)
		assert.False(t, plan.Backward)
	})

	t.Run("forward", func(t *testing.T) {
		st := stateAt(t, a, "fields=eventId&limit=2", false, str("2021-01-05"), str("3"))
		plan := compile(t, a, st, dialect.SQLite)
		assert.Equal(t, base+
			`WHERE ((("event"."created_date" < ? OR "event"."created_date" IS NULL)) OR ("event"."created_date" = ? AND "event"."event_id" > ?))`+
			` ORDER BY "event"."created_date" DESC, "event"."event_id" ASC LIMIT 3`,
			plan.Select.SQL)
		assert.Equal(t, []any{"2021-01-05", "2021-01-05", int64(3)}, plan.Select.Args)
		assert.Equal(t, `SELECT COUNT(*) FROM "event"`, plan.Count.SQL, "count ignores the position")
	})

	t.Run("backward", func(t *testing.T) {
		st := stateAt(t, a, "fields=eventId&limit=2", true, str("2021-01-05"), str("3"))
		plan := compile(t, a, st, dialect.SQLite)
		assert.Equal(t, base+
			`WHERE (("event"."created_date" > ?) OR ("event"."created_date" = ? AND "event"."event_id" < ?))`+
			` ORDER BY "event"."created_date" ASC, "event"."event_id" DESC LIMIT 3`,
			plan.Select.SQL)
		assert.True(t, plan.Backward)
	})

	t.Run("null position", func(t *testing.T) {
		st := stateAt(t, a, "fields=eventId&limit=2", false, nil, str("4"))
		plan := compile(t, a, st, dialect.SQLite)
		assert.Equal(t, base+
			`WHERE (("event"."created_date" IS NULL AND "event"."event_id" > ?))`+
			` ORDER BY "event"."created_date" DESC, "event"."event_id" ASC LIMIT 3`,
			plan.Select.SQL)
		assert.Equal(t, []any{int64(4)}, plan.Select.Args)
	})

	t.Run("null position backward", func(t *testing.T) {
		st := stateAt(t, a, "fields=eventId&limit=2", true, nil, str("4"))
		plan := compile(t, a, st, dialect.SQLite)
		assert.Contains(t, plan.Select.SQL,
			`WHERE (("event"."created_date" IS NOT NULL) OR ("event"."created_date" IS NULL AND "event"."event_id" < ?))`)
	})
}

func TestCompile_TimestampArgs(t *testing.T) {
	a := build(t, fixtures.Orders(t), "order")
	ts := time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)
	const query = "deliveryDate:gte=2021-01-02T01:00:00%2B01:00&deliveryDate:in=2021-01-02T00:00:00Z&sort=-deliveryDate&fields=orderId"

	plan := compile(t, a, state(t, a, query), dialect.SQLite)
	assert.Equal(t, []any{"2021-01-02 00:00:00", "2021-01-02 00:00:00"}, plan.Select.Args)

	plan = compile(t, a, state(t, a, query), dialect.MySQL)
	assert.Equal(t, []any{ts, ts}, plan.Select.Args)

	st := stateAt(t, a, "sort=-deliveryDate&fields=orderId", false, str("2021-01-02T00:00:00.5Z"), str("3"))
	plan = compile(t, a, st, dialect.SQLite)
	assert.Equal(t, []any{"2021-01-02 00:00:00.5", "2021-01-02 00:00:00.5", int64(3)}, plan.Select.Args)
}

func TestCompile_Offset(t *testing.T) {
	a := build(t, fixtures.Events(t), "event")

	plan := compile(t, a, state(t, a, "offset=4&limit=2&fields=eventId"), dialect.SQLite)
	assert.True(t, strings.HasSuffix(plan.Select.SQL, `ORDER BY "event"."created_date" DESC, "event"."event_id" ASC LIMIT 3 OFFSET 4`), plan.Select.SQL)
	assert.Equal(t, 4, plan.Offset)

	plan = compile(t, a, state(t, a, "offset=4&limit=2&fields=eventId"), dialect.SQLServer)
	assert.True(t, strings.HasSuffix(plan.Select.SQL, `ORDER BY [event].[created_date] DESC, [event].[event_id] ASC OFFSET 4 ROWS FETCH NEXT 3 ROWS ONLY`), plan.Select.SQL)
}

func TestCompile_DistinctCount(t *testing.T) {
	catalog, err := metadata.NewCatalog(metadata.EntityDescriptor{
		Name:     "tag",
		Table:    "tag",
		Distinct: true,
		Columns: []metadata.ColumnDescriptor{
			{Name: "id", PrimaryKey: true, Type: "int"},
			{Name: "label"},
		},
	})
	require.NoError(t, err)
	a := build(t, catalog, "tag")

	plan := compile(t, a, state(t, a, "label=x"), dialect.Postgres)
	assert.Equal(t,
		`SELECT DISTINCT "tag"."id" AS "id", "tag"."label" AS "label" FROM "tag" WHERE "tag"."label" = $1 ORDER BY "tag"."id" ASC NULLS FIRST LIMIT 21`,
		plan.Select.SQL)
	assert.Equal(t,
		`SELECT COUNT(*) FROM (SELECT DISTINCT "tag"."id" AS "id", "tag"."label" AS "label" FROM "tag" WHERE "tag"."label" = $1) AS __count`,
		plan.Count.SQL)
	assert.Equal(t, []any{"x"}, plan.Count.Args)
}

func TestCompile_Limits(t *testing.T) {
	a := build(t, fixtures.Orders(t), "order")
	d, err := dialect.ByName(dialect.MySQL)
	require.NoError(t, err)

	st := state(t, a, "countryName=DK&orderId=1,2,3&fields=orderId")
	cost := EstimateCost(st)
	assert.Equal(t, PlanCost{Joins: 4, Predicates: 2, InValues: 3, Rows: 21}, cost)

	for _, limits := range []PlanLimits{{MaxJoins: 3}, {MaxPredicates: 1}, {MaxInValues: 2}, {MaxRows: 10}} {
		_, err := Compile(a, st, d, WithLimits(limits))
		require.Error(t, err, "%+v", limits)
		assert.True(t, queryerr.IsClientError(err))
	}

	_, err = Compile(a, st, d, WithLimits(PlanLimits{MaxJoins: 4, MaxPredicates: 2, MaxInValues: 3, MaxRows: 21}))
	require.NoError(t, err)
}

func TestCompile_ForeignState(t *testing.T) {
	orders := build(t, fixtures.Orders(t), "order")
	other := build(t, fixtures.Orders(t), "order")
	d, _ := dialect.ByName(dialect.SQLite)

	_, err := Compile(other, state(t, orders, ""), d)
	require.Error(t, err)
	var cfgErr *queryerr.ConfigurationError
	assert.False(t, errors.As(err, &cfgErr))
}

func renderPlan(plan *Plan) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "-- select\n%s\n-- args: %v\n", plan.Select.SQL, plan.Select.Args)
	fmt.Fprintf(&b, "-- count\n%s\n-- args: %v\n", plan.Count.SQL, plan.Count.Args)
	return []byte(b.String())
}

func TestCompile_Golden(t *testing.T) {
	a := build(t, fixtures.Events(t), "event")
	st := stateAt(t, a,
		"eventType=SHIPMENT,EQUIPMENT&equipment.isoEquipmentCode:isubstr=22G&fields=eventId,eventType&limit=2",
		false, str("2021-01-05"), str("3"))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	for _, d := range []string{dialect.MySQL, dialect.Postgres, dialect.SQLite, dialect.SQLServer} {
		t.Run(d, func(t *testing.T) {
			plan := compile(t, a, st, d)
			assert.Equal(t, []string{"equipment"}, joinAliases(plan))
			g.Assert(t, "events_keyset_"+d, renderPlan(plan))
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "SELECT 1", Describe(SQLQuery{SQL: "SELECT 1"}))
	assert.Equal(t, "SELECT ? -- args: 1, x", Describe(SQLQuery{SQL: "SELECT ?", Args: []any{1, "x"}}))
}
