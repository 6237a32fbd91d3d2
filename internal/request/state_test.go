package request

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/metadata"
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/testutil/fixtures"
)

var testCodec = cursor.NewCodec([]byte("test-secret"))

func testOptions() Options {
	return Options{
		DefaultPageSize: 20,
		MaxPageSize:     50,
		Reserved:        []string{"API-Version"},
		Codec:           testCodec,
	}
}

func orders(t *testing.T) *analysis.EntityAnalysis {
	t.Helper()
	a, err := analysis.Build(fixtures.Orders(t), "order")
	require.NoError(t, err)
	return a
}

func events(t *testing.T) *analysis.EntityAnalysis {
	t.Helper()
	a, err := analysis.Build(fixtures.Events(t), "event")
	require.NoError(t, err)
	return a
}

func parse(t *testing.T, a *analysis.EntityAnalysis, query string) (*State, error) {
	t.Helper()
	params, err := url.ParseQuery(query)
	require.NoError(t, err)
	return Parse(params, a, testOptions())
}

func mustParse(t *testing.T, a *analysis.EntityAnalysis, query string) *State {
	t.Helper()
	st, err := parse(t, a, query)
	require.NoError(t, err)
	return st
}

func requireParamError(t *testing.T, err error, param string) {
	t.Helper()
	require.Error(t, err)
	var paramErr *queryerr.InvalidParameterError
	require.True(t, errors.As(err, &paramErr), "expected InvalidParameterError, got %T: %v", err, err)
	if param != "" {
		assert.Equal(t, param, paramErr.Parameter)
	}
}

func sortNames(keys []SortKey) []string {
	var out []string
	for _, k := range keys {
		name := k.Field.ExternalName
		if k.Descending {
			name = "-" + name
		}
		out = append(out, name)
	}
	return out
}

func TestParse_Defaults(t *testing.T) {
	st := mustParse(t, orders(t), "")

	assert.Nil(t, st.Filter())
	assert.Equal(t, []string{"orderId"}, sortNames(st.Sort()))
	assert.Equal(t, 20, st.PageSize())
	assert.Equal(t, cursor.ModeKeyset, st.Mode())
	assert.Nil(t, st.Position())
	assert.False(t, st.WantCount())
	assert.Len(t, st.Projection(), 9)

	ev := mustParse(t, events(t), "")
	assert.Equal(t, []string{"-createdDate", "eventId"}, sortNames(ev.Sort()), "entity default sort plus tie-break")
}

func TestParse_Filters(t *testing.T) {
	a := orders(t)
	field := func(name string) *analysis.QueryField {
		f, err := a.LookupExternal(name)
		require.NoError(t, err)
		return f
	}

	tests := []struct {
		name  string
		query string
		want  *Condition
	}{
		{
			name:  "equality",
			query: "orderline=abc",
			want:  Compare(field("orderline"), OpEqual, "abc"),
		},
		{
			name:  "comma list becomes IN",
			query: "status=OPEN,SHIPPED",
			want:  In(field("status"), "OPEN", "SHIPPED"),
		},
		{
			name:  "repeated keys merge",
			query: "orderId=1&orderId=2,1",
			want:  In(field("orderId"), int64(1), int64(2)),
		},
		{
			name:  "NULL",
			query: "warehouseAddress=NULL",
			want:  IsNull(field("warehouseAddress")),
		},
		{
			name:  "NULL or value",
			query: "warehouseAddress=NULL,Main",
			want:  Or(IsNull(field("warehouseAddress")), Compare(field("warehouseAddress"), OpEqual, "Main")),
		},
		{
			name:  "not equal",
			query: "status!=CANCELLED",
			want:  Compare(field("status"), OpNotEqual, "CANCELLED"),
		},
		{
			name:  "not in",
			query: "orderId:nin=1,2",
			want:  Not(In(field("orderId"), int64(1), int64(2))),
		},
		{
			name:  "not NULL",
			query: "warehouseAddress!=NULL",
			want:  Not(IsNull(field("warehouseAddress"))),
		},
		{
			name:  "range shorthand",
			query: "orderId>=10&orderId<=20",
			want:  And(Compare(field("orderId"), OpLessEqual, int64(20)), Compare(field("orderId"), OpGreaterEqual, int64(10))),
		},
		{
			name:  "strict range",
			query: "orderId:gt=10&orderId:lt=20",
			want:  And(Compare(field("orderId"), OpGreater, int64(10)), Compare(field("orderId"), OpLess, int64(20))),
		},
		{
			name:  "like family ORs",
			query: "orderline:like=a%25&orderline:isubstr=50%25_off",
			want:  Or(Like(field("orderline"), "%50!%!_off%", true), Like(field("orderline"), "a%", false)),
		},
		{
			name:  "case-insensitive equality",
			query: "customerName:ieq=ACME",
			want:  Like(field("customerName"), "ACME", true),
		},
		{
			name:  "filter-only field",
			query: "countryName=DK",
			want:  Compare(field("countryName"), OpEqual, "DK"),
		},
		{
			name:  "fields combine with AND in key order",
			query: "status=OPEN&customerName=x",
			want:  And(Compare(field("customerName"), OpEqual, "x"), Compare(field("status"), OpEqual, "OPEN")),
		},
		{
			name:  "reserved parameter ignored",
			query: "API-Version=1&status=OPEN",
			want:  Compare(field("status"), OpEqual, "OPEN"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := mustParse(t, a, tt.query)
			assert.Equal(t, tt.want, st.Filter())
		})
	}
}

func TestParse_FilterErrors(t *testing.T) {
	a := orders(t)

	tests := []struct {
		name  string
		query string
		param string
	}{
		{name: "unknown field", query: "color=red", param: "color"},
		{name: "select name is not an external name", query: "order_id=1", param: "order_id"},
		{name: "unknown operator", query: "orderId:between=1", param: "orderId:between"},
		{name: "type mismatch", query: "orderId=abc", param: "orderId"},
		{name: "empty value", query: "orderline=", param: "orderline"},
		{name: "empty list entry", query: "orderId=1,,2", param: "orderId"},
		{name: "enum value", query: "status=LOST", param: "status"},
		{name: "ordering on enum", query: "status>=OPEN", param: "status>"},
		{name: "pattern on int", query: "orderId:like=1%25", param: "orderId:like"},
		{name: "trailing escape", query: "orderline:like=50%25!", param: "orderline:like"},
		{name: "trailing escape after escaped escape", query: "orderline:ilike=a!!!", param: "orderline:ilike"},
		{name: "NULL in range", query: "orderId:gt=NULL", param: "orderId:gt"},
		{name: "bad timestamp", query: "deliveryDate>=yesterday", param: "deliveryDate>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, a, tt.query)
			requireParamError(t, err, tt.param)
		})
	}
}

func TestParse_EscapedLikePatterns(t *testing.T) {
	a := orders(t)
	for _, raw := range []string{"50!%25", "a!!", "!_x"} {
		_, err := parse(t, a, "orderline:like="+raw)
		assert.NoError(t, err, raw)
	}
}

func restricted(t *testing.T) *analysis.EntityAnalysis {
	t.Helper()
	catalog, err := metadata.NewCatalog(metadata.EntityDescriptor{
		Name:  "event",
		Table: "event",
		Columns: []metadata.ColumnDescriptor{
			{Name: "eventId", PrimaryKey: true, Type: "int"},
			{Name: "eventType", Enum: []string{"SHIPMENT", "EQUIPMENT", "TRANSPORT"}, Allowed: []string{"SHIPMENT", "EQUIPMENT"}},
			{Name: "carrierCode", Fixed: []string{"MAEU"}},
			{Name: "classifier", Enum: []string{"PLN", "ACT", "EST"}, Default: []string{"ACT"}},
			{Name: "vesselIMONumber", Validate: func(v string) error {
				if len(v) != 7 {
					return errors.New("must have 7 digits")
				}
				return nil
			}},
		},
	})
	require.NoError(t, err)
	a, err := analysis.Build(catalog, "event")
	require.NoError(t, err)
	return a
}

func TestParse_Restrictions(t *testing.T) {
	a := restricted(t)
	field := func(name string) *analysis.QueryField {
		f, err := a.LookupExternal(name)
		require.NoError(t, err)
		return f
	}
	fixed := Compare(field("carrierCode"), OpEqual, "MAEU")

	t.Run("defaults apply without client values", func(t *testing.T) {
		st := mustParse(t, a, "")
		assert.Equal(t, And(
			In(field("eventType"), "SHIPMENT", "EQUIPMENT"),
			fixed,
			Compare(field("classifier"), OpEqual, "ACT"),
		), st.Filter())
	})

	t.Run("client values replace allowed and default", func(t *testing.T) {
		st := mustParse(t, a, "eventType=EQUIPMENT&classifier=PLN,EST")
		assert.Equal(t, And(
			In(field("classifier"), "PLN", "EST"),
			Compare(field("eventType"), OpEqual, "EQUIPMENT"),
			fixed,
		), st.Filter())
	})

	t.Run("value outside allowed subset", func(t *testing.T) {
		_, err := parse(t, a, "eventType=TRANSPORT")
		requireParamError(t, err, "eventType")
		assert.Contains(t, err.Error(), "only the following values are accepted")
	})

	t.Run("non-equality on allowed field", func(t *testing.T) {
		_, err := parse(t, a, "eventType!=SHIPMENT")
		requireParamError(t, err, "eventType!")
	})

	t.Run("fixed field", func(t *testing.T) {
		_, err := parse(t, a, "carrierCode=MAEU")
		requireParamError(t, err, "carrierCode")
	})

	t.Run("custom validator", func(t *testing.T) {
		_, err := parse(t, a, "vesselIMONumber=123")
		requireParamError(t, err, "vesselIMONumber")
		assert.Contains(t, err.Error(), "must have 7 digits")

		st := mustParse(t, a, "vesselIMONumber=9321483")
		assert.Contains(t, st.Filter().Children, Compare(field("vesselIMONumber"), OpEqual, "9321483"))
	})
}

func TestParse_Sort(t *testing.T) {
	a := orders(t)

	tests := []struct {
		query string
		want  []string
	}{
		{query: "sort=-deliveryDate", want: []string{"-deliveryDate", "orderId"}},
		{query: "sort=customerName:DESC,orderline:asc", want: []string{"-customerName", "orderline", "orderId"}},
		{query: "sort=-orderId,status", want: []string{"-orderId", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			st := mustParse(t, a, tt.query)
			assert.Equal(t, tt.want, sortNames(st.Sort()))
		})
	}
}

func TestParse_SortErrors(t *testing.T) {
	a := orders(t)
	for _, query := range []string{
		"sort=color",
		"sort=countryName",
		"sort=orderline,-orderline",
		"sort=orderline,",
		"sort=orderline:sideways",
		"sort=a&sort=b",
	} {
		t.Run(query, func(t *testing.T) {
			_, err := parse(t, a, query)
			requireParamError(t, err, "sort")
		})
	}
}

func TestParse_Pagination(t *testing.T) {
	a := orders(t)

	st := mustParse(t, a, "limit=5&count=true")
	assert.Equal(t, 5, st.PageSize())
	assert.True(t, st.WantCount())

	st = mustParse(t, a, "limit=500")
	assert.Equal(t, 50, st.PageSize(), "clamped, not rejected")

	for _, query := range []string{"limit=0", "limit=-1", "limit=ten", "count=maybe", "limit=1&limit=2"} {
		_, err := parse(t, a, query)
		requireParamError(t, err, "")
	}

	_, err := parse(t, a, "offset=10")
	requireParamError(t, err, "offset")

	ev := events(t)
	st = mustParse(t, ev, "offset=10&limit=5")
	assert.Equal(t, cursor.ModeOffset, st.Mode())
	assert.Equal(t, 10, st.Offset())

	_, err = parse(t, ev, "offset=-1")
	requireParamError(t, err, "offset")
}

func TestParse_Projection(t *testing.T) {
	a := orders(t)

	st := mustParse(t, a, "fields=status,customerName&sort=-deliveryDate")
	var names []string
	for _, f := range st.Projection() {
		names = append(names, f.ExternalName)
	}
	assert.Equal(t, []string{"status", "customerName"}, names)

	names = nil
	for _, f := range st.SelectFields() {
		names = append(names, f.ExternalName)
	}
	assert.Equal(t, []string{"status", "customerName", "deliveryDate", "orderId"}, names)

	for _, query := range []string{"fields=color", "fields=countryName", "fields=status,status"} {
		_, err := parse(t, a, query)
		requireParamError(t, err, "fields")
	}
}

func encode(t *testing.T, c cursor.Cursor) string {
	t.Helper()
	token, err := testCodec.Encode(c)
	require.NoError(t, err)
	return token
}

func strPtr(s string) *string { return &s }

func TestParse_CursorRoundTrip(t *testing.T) {
	a := events(t)
	first := mustParse(t, a, "eventType=SHIPMENT&fields=eventId&limit=2&count=true")

	next := first.CursorTemplate()
	next.Values = []*string{strPtr("2021-01-05"), strPtr("3")}
	total := int64(7)
	next.Total = &total
	token := encode(t, next)

	st := mustParse(t, a, "cursor="+token)
	assert.Equal(t, first.Sort(), st.Sort())
	assert.Equal(t, first.Filter(), st.Filter())
	assert.Equal(t, first.Projection(), st.Projection())
	assert.Equal(t, 2, st.PageSize())
	assert.True(t, st.WantCount())
	assert.Equal(t, []any{"2021-01-05", int64(3)}, st.Position())
	known, ok := st.KnownTotal()
	assert.True(t, ok)
	assert.Equal(t, int64(7), known)

	same := mustParse(t, a, "cursor="+token+"&eventType=SHIPMENT&sort=-createdDate&limit=2&fields=eventId")
	assert.Equal(t, st.Sort(), same.Sort(), "repeating the original parameters is not a conflict")
}

func TestParse_CursorConflicts(t *testing.T) {
	a := events(t)
	first := mustParse(t, a, "eventType=SHIPMENT&limit=2")
	tmpl := first.CursorTemplate()
	tmpl.Values = []*string{strPtr("2021-01-05"), strPtr("3")}
	token := encode(t, tmpl)

	tests := []struct {
		name  string
		extra string
		param string
	}{
		{name: "different sort", extra: "&sort=eventId", param: "sort"},
		{name: "different filter", extra: "&eventType=EQUIPMENT", param: "cursor"},
		{name: "extra filter", extra: "&eventType=SHIPMENT&eventClassifierCode=ACT", param: "cursor"},
		{name: "different limit", extra: "&limit=3", param: "limit"},
		{name: "different fields", extra: "&fields=eventId", param: "fields"},
		{name: "different count", extra: "&count=true", param: "count"},
		{name: "offset", extra: "&offset=4", param: "offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, a, "cursor="+token+tt.extra)
			requireParamError(t, err, tt.param)
		})
	}
}

func TestParse_CursorRejected(t *testing.T) {
	a := events(t)

	tests := []struct {
		name   string
		cursor cursor.Cursor
	}{
		{
			name:   "other entity",
			cursor: cursor.Cursor{Entity: "order", Mode: cursor.ModeKeyset, Sort: []cursor.SortKey{{Field: "eventId"}}, PageSize: 2},
		},
		{
			name:   "field removed",
			cursor: cursor.Cursor{Entity: "event", Mode: cursor.ModeKeyset, Sort: []cursor.SortKey{{Field: "vesselName"}, {Field: "eventId"}}, PageSize: 2},
		},
		{
			name:   "primary key missing",
			cursor: cursor.Cursor{Entity: "event", Mode: cursor.ModeKeyset, Sort: []cursor.SortKey{{Field: "createdDate"}}, PageSize: 2},
		},
		{
			name: "value no longer parses",
			cursor: cursor.Cursor{
				Entity: "event", Mode: cursor.ModeKeyset, Sort: []cursor.SortKey{{Field: "eventId"}},
				Values: []*string{strPtr("not-a-number")}, PageSize: 2,
			},
		},
		{
			name: "filter field removed",
			cursor: cursor.Cursor{
				Entity: "event", Mode: cursor.ModeKeyset, Sort: []cursor.SortKey{{Field: "eventId"}},
				Filters: map[string][]string{"vesselName": {"x"}}, PageSize: 2,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, a, "cursor="+encode(t, tt.cursor))
			requireParamError(t, err, "")
		})
	}

	_, err := parse(t, a, "cursor=garbage")
	requireParamError(t, err, "cursor")

	_, err = Parse(url.Values{"cursor": {"x"}}, a, Options{})
	require.Error(t, err)
	assert.Equal(t, queryerr.KindConfiguration, queryerr.Kind(err))
}

func TestParse_CursorOffsetRequiresOptIn(t *testing.T) {
	a := orders(t)
	token := encode(t, cursor.Cursor{Entity: "order", Mode: cursor.ModeOffset, Sort: []cursor.SortKey{{Field: "orderId"}}, PageSize: 2, Offset: 2})

	_, err := parse(t, a, "cursor="+token)
	requireParamError(t, err, "cursor")

	opts := testOptions()
	opts.AllowOffset = true
	st, err := Parse(url.Values{"cursor": {token}}, a, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Offset())
}

func TestState_IsFrozen(t *testing.T) {
	st := mustParse(t, orders(t), "sort=-orderline&orderId=1,2")

	keys := st.Sort()
	keys[0].Descending = false
	assert.True(t, st.Sort()[0].Descending)

	proj := st.Projection()
	proj[0] = nil
	assert.NotNil(t, st.Projection()[0])

	tmpl := st.CursorTemplate()
	tmpl.Filters["orderId"][0] = "99"
	assert.Equal(t, []string{"1,2"}, st.CursorTemplate().Filters["orderId"])
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "50!%!_off!!", EscapeLike("50%_off!"))
	assert.Equal(t, "plain", EscapeLike("plain"))
}

func TestConditionFields(t *testing.T) {
	a := orders(t)
	st := mustParse(t, a, "customerName=x&status=OPEN&countryName=DK")
	var names []string
	for _, f := range st.Filter().Fields() {
		names = append(names, f.ExternalName)
	}
	assert.Equal(t, []string{"countryName", "customerName", "status"}, names)
}
