package analysis

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcsa-query/internal/metadata"
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/testutil/fixtures"
	"dcsa-query/internal/valuetype"
)

func buildOrders(t *testing.T) *EntityAnalysis {
	t.Helper()
	a, err := Build(fixtures.Orders(t), "order")
	require.NoError(t, err)
	return a
}

func TestBuild_Orders(t *testing.T) {
	a := buildOrders(t)

	assert.Equal(t, "order", a.Name())
	assert.Equal(t, "order_table", a.PrimaryTable())
	assert.Equal(t, "order_table", a.PrimaryAlias())

	joins := a.Joins()
	require.Len(t, joins, 5)
	assert.Equal(t, JoinDescriptor{
		Type: JoinInner, LeftAlias: "order_table", RightAlias: "customer_table", RightTable: "customer_table",
		OnLeftColumn: "customer_id", OnRightColumn: "customer_id",
	}, joins[0])
	assert.Equal(t, "customer_table", joins[1].LeftAlias, "entity name resolves to its join alias")
	assert.Equal(t, "customer_address", joins[1].RightAlias)
	assert.Equal(t, JoinLeft, joins[2].Type)
	assert.Equal(t, "customer_address", joins[3].LeftAlias)
	assert.Equal(t, "city_table", joins[4].LeftAlias)

	pk := a.PrimaryKey()
	require.Len(t, pk, 1)
	assert.Equal(t, "orderId", pk[0].ExternalName)
	assert.Equal(t, "order_id", pk[0].SelectName)
}

func TestLookup(t *testing.T) {
	a := buildOrders(t)

	byExternal, err := a.Lookup("deliveryDate")
	require.NoError(t, err)
	assert.Equal(t, "delivery_date", byExternal.Column)
	assert.Equal(t, valuetype.Timestamp, byExternal.ValueType)

	bySelect, err := a.Lookup("customer_table_customer_name")
	require.NoError(t, err)
	assert.Equal(t, "customerName", bySelect.ExternalName)
	assert.Equal(t, "customer_table", bySelect.TableAlias)

	status, err := a.LookupInternal("status")
	require.NoError(t, err)
	assert.Equal(t, valuetype.Enum, status.ValueType)

	_, err = a.LookupExternal("customer_table_customer_name")
	var notFound *queryerr.FieldNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "order", notFound.Entity)

	_, err = a.Lookup("nope")
	require.Error(t, err)
	assert.Equal(t, queryerr.KindInvalidParameter, queryerr.Kind(err))

	_, err = a.LookupSelect("country_table_country_name")
	require.Error(t, err, "filter-only fields have no select name entry")
}

func TestAllSelectableFields(t *testing.T) {
	a := buildOrders(t)
	var names []string
	for _, f := range a.AllSelectableFields() {
		names = append(names, f.ExternalName)
	}
	assert.Equal(t, []string{
		"orderId", "orderline", "customerId", "addressId", "deliveryDate", "status",
		"customerName", "customerAddress", "warehouseAddress",
	}, names)
	assert.Len(t, a.Fields(), 10)
}

func TestRequiredJoins(t *testing.T) {
	a := buildOrders(t)
	lookup := func(name string) *QueryField {
		f, err := a.Lookup(name)
		require.NoError(t, err)
		return f
	}
	aliases := func(joins []JoinDescriptor) []string {
		out := []string{}
		for _, j := range joins {
			out = append(out, j.RightAlias)
		}
		return out
	}

	tests := []struct {
		name   string
		fields []string
		want   []string
	}{
		{name: "primary only", fields: []string{"orderline", "status"}, want: []string{}},
		{name: "direct join", fields: []string{"customerName"}, want: []string{"customer_table"}},
		{name: "chained join", fields: []string{"countryName"}, want: []string{"customer_table", "customer_address", "city_table", "country_table"}},
		{name: "declaration order", fields: []string{"warehouseAddress", "customerName"}, want: []string{"customer_table", "warehouse_address"}},
		{name: "shared prefix", fields: []string{"customerAddress", "countryName", "customerName"}, want: []string{"customer_table", "customer_address", "city_table", "country_table"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fields []*QueryField
			for _, n := range tt.fields {
				fields = append(fields, lookup(n))
			}
			joins, err := a.RequiredJoins(fields...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, aliases(joins))
		})
	}

	_, err := a.RequiredJoins(&QueryField{InternalName: "ghost", TableAlias: "nowhere"})
	require.Error(t, err)
	assert.Equal(t, queryerr.KindConfiguration, queryerr.Kind(err))
}

func TestJoinDescriptorLookup(t *testing.T) {
	a := buildOrders(t)

	jd, ok := a.JoinDescriptor("warehouse_address")
	require.True(t, ok)
	assert.Equal(t, "address_table", jd.RightTable)

	jd, ok = a.JoinDescriptor("address_table")
	require.True(t, ok, "table name falls back to the first join of that table")
	assert.Equal(t, "customer_address", jd.RightAlias)

	_, ok = a.JoinDescriptor("order_table")
	assert.False(t, ok)
	assert.True(t, a.HasAlias("order_table"))
	assert.False(t, a.HasAlias("address_table"))
}

func TestBuild_IncludeFields(t *testing.T) {
	a, err := Build(fixtures.Events(t), "event")
	require.NoError(t, err)

	f, err := a.Lookup("equipment.isoEquipmentCode")
	require.NoError(t, err)
	assert.Equal(t, "equipment", f.TableAlias)
	assert.Equal(t, "equipment_iso_equipment_code", f.SelectName)
	assert.False(t, f.PrimaryKey)

	sort := a.DefaultSort()
	require.Len(t, sort, 1)
	assert.Equal(t, "createdDate", sort[0].Field.ExternalName)
	assert.True(t, sort[0].Descending)
	assert.True(t, a.AllowOffset())
}

func entity(cols []metadata.ColumnDescriptor, joins ...metadata.JoinDeclaration) metadata.EntityDescriptor {
	return metadata.EntityDescriptor{Name: "shipment", Table: "shipment", Columns: cols, Joins: joins}
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	id := metadata.ColumnDescriptor{Name: "id", PrimaryKey: true, Type: "int"}
	carrier := metadata.EntityDescriptor{
		Name:  "carrier",
		Table: "carrier",
		Columns: []metadata.ColumnDescriptor{
			{Name: "id", PrimaryKey: true},
			{Name: "carrierName"},
		},
	}

	tests := []struct {
		name   string
		entity metadata.EntityDescriptor
		want   string
	}{
		{
			name:   "duplicate external name",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a", JSON: "x"}, {Name: "b", JSON: "x"}}),
			want:   `duplicate external name "x"`,
		},
		{
			name:   "alias collides with external name",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a"}, {Name: "b", Aliases: []string{"a"}}}),
			want:   `duplicate external name "a"`,
		},
		{
			name:   "duplicate internal name",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a", JSON: "x"}, {Name: "a", JSON: "y", Column: "z"}}),
			want:   `duplicate internal name "a"`,
		},
		{
			name:   "duplicate select name",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a"}, {Name: "b", Select: "a"}}),
			want:   `share select name "a"`,
		},
		{
			name:   "no primary key",
			entity: entity([]metadata.ColumnDescriptor{{Name: "a"}}),
			want:   "no primary key",
		},
		{
			name:   "enum without values",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a", Type: "enum"}}),
			want:   "declares no values",
		},
		{
			name:   "allowed outside enum",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a", Enum: []string{"X"}, Allowed: []string{"Y"}}}),
			want:   "subset of its enum values",
		},
		{
			name:   "fixed with default",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a", Fixed: []string{"1"}, Default: []string{"2"}}}),
			want:   "both fixed and default",
		},
		{
			name:   "restriction value of wrong type",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "a", Type: "int", Default: []string{"one"}}}),
			want:   "invalid restriction value",
		},
		{
			name: "unknown join target",
			entity: entity([]metadata.ColumnDescriptor{id},
				metadata.JoinDeclaration{Right: "vessel", LeftColumn: "id", RightColumn: "id"}),
			want: `"vessel" is not a known entity`,
		},
		{
			name: "implicit hop",
			entity: entity([]metadata.ColumnDescriptor{id},
				metadata.JoinDeclaration{Left: "booking", Right: "carrier", LeftColumn: "id", RightColumn: "id"}),
			want: "neither the primary entity nor an alias",
		},
		{
			name: "right join",
			entity: entity([]metadata.ColumnDescriptor{id},
				metadata.JoinDeclaration{Type: "right", Right: "carrier", LeftColumn: "id", RightColumn: "id"}),
			want: "right joins are not supported",
		},
		{
			name: "alias reused",
			entity: entity([]metadata.ColumnDescriptor{id},
				metadata.JoinDeclaration{Right: "carrier", Alias: "c", LeftColumn: "id", RightColumn: "id"},
				metadata.JoinDeclaration{Right: "carrier", Alias: "c", LeftColumn: "id", RightColumn: "id"}),
			want: `alias "c" is already in use`,
		},
		{
			name: "second join of a table without alias",
			entity: entity([]metadata.ColumnDescriptor{id},
				metadata.JoinDeclaration{Right: "carrier", LeftColumn: "id", RightColumn: "id"},
				metadata.JoinDeclaration{Right: "carrier", LeftColumn: "id", RightColumn: "id"}),
			want: "needs a distinct alias",
		},
		{
			name: "self join without alias",
			entity: entity([]metadata.ColumnDescriptor{id},
				metadata.JoinDeclaration{Right: "shipment", LeftColumn: "id", RightColumn: "id"}),
			want: "needs a distinct alias",
		},
		{
			name: "unknown join column",
			entity: entity([]metadata.ColumnDescriptor{id},
				metadata.JoinDeclaration{Right: "carrier", LeftColumn: "carrier_id", RightColumn: "id"}),
			want: `entity shipment has no column "carrier_id"`,
		},
		{
			name: "included field collides",
			entity: entity([]metadata.ColumnDescriptor{id, {Name: "carrierName"}},
				metadata.JoinDeclaration{Right: "carrier", LeftColumn: "id", RightColumn: "id", IncludeFields: true}),
			want: `duplicate external name "id"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, err := metadata.NewCatalog(tt.entity, carrier)
			require.NoError(t, err)
			_, err = Build(catalog, "shipment")
			require.Error(t, err)
			assert.Equal(t, queryerr.KindConfiguration, queryerr.Kind(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuild_SelfJoinWithAlias(t *testing.T) {
	catalog, err := metadata.NewCatalog(metadata.EntityDescriptor{
		Name:  "location",
		Table: "location",
		Columns: []metadata.ColumnDescriptor{
			{Name: "id", PrimaryKey: true},
			{Name: "parentId"},
			{Name: "locationName"},
		},
		Joins: []metadata.JoinDeclaration{{
			Type:        metadata.JoinLeft,
			Right:       "location",
			Alias:       "parent",
			LeftColumn:  "parent_id",
			RightColumn: "id",
			Fields:      []metadata.ColumnDescriptor{{Name: "parentName", Column: "location_name"}},
		}},
	})
	require.NoError(t, err)

	a, err := Build(catalog, "location")
	require.NoError(t, err)
	f, err := a.Lookup("parentName")
	require.NoError(t, err)
	assert.Equal(t, "parent", f.TableAlias)
	assert.Equal(t, "parent_location_name", f.SelectName)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(fixtures.Orders(t))

	first, err := registry.Get("order")
	require.NoError(t, err)
	second, err := registry.Get("order")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = registry.Get("vessel")
	require.ErrorIs(t, err, ErrUnknownEntity)

	require.NoError(t, registry.Preload())
	assert.Equal(t, []string{"country", "city", "address", "customer", "order"}, registry.Names())
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	registry := NewRegistry(fixtures.Orders(t))

	const workers = 16
	results := make([]*EntityAnalysis, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := registry.Get("order")
			if err == nil {
				results[i] = a
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Same(t, results[0], r)
	}
}

func TestRegistry_PreloadFailsFast(t *testing.T) {
	catalog, err := metadata.NewCatalog(
		metadata.EntityDescriptor{Name: "broken", Columns: []metadata.ColumnDescriptor{{Name: "a"}}},
	)
	require.NoError(t, err)

	registry := NewRegistry(catalog)
	err = registry.Preload()
	require.Error(t, err)
	assert.Equal(t, queryerr.KindConfiguration, queryerr.Kind(err))

	_, again := registry.Get("broken")
	assert.Equal(t, err, again, "a failed build is cached")
}
