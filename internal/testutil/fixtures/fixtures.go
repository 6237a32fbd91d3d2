// Package fixtures provides entity catalogs shared by package tests.
package fixtures

import (
	"testing"

	"dcsa-query/internal/metadata"
)

// Orders models orders with a customer, two address roles, and the city and
// country behind the customer address. Joins chain through aliases.
func Orders(t testing.TB) *metadata.Catalog {
	t.Helper()
	catalog, err := metadata.NewCatalog(OrderEntities()...)
	if err != nil {
		t.Fatalf("Failed to build orders catalog: %v", err)
	}
	return catalog
}

// OrderEntities returns the raw descriptors behind Orders.
func OrderEntities() []metadata.EntityDescriptor {
	return []metadata.EntityDescriptor{
		{
			Name:  "country",
			Table: "country_table",
			Columns: []metadata.ColumnDescriptor{
				{Name: "id", PrimaryKey: true, Type: "int"},
				{Name: "countryName"},
			},
		},
		{
			Name:  "city",
			Table: "city_table",
			Columns: []metadata.ColumnDescriptor{
				{Name: "id", PrimaryKey: true, Type: "int"},
				{Name: "cityName"},
				{Name: "countryId", Type: "int"},
			},
		},
		{
			Name:  "address",
			Table: "address_table",
			Columns: []metadata.ColumnDescriptor{
				{Name: "addressId", PrimaryKey: true, Type: "int"},
				{Name: "streetName"},
				{Name: "cityId", Type: "int"},
			},
		},
		{
			Name:  "customer",
			Table: "customer_table",
			Columns: []metadata.ColumnDescriptor{
				{Name: "customerId", PrimaryKey: true, Type: "int"},
				{Name: "customerName"},
				{Name: "addressId", Type: "int"},
			},
		},
		{
			Name:  "order",
			Table: "order_table",
			Columns: []metadata.ColumnDescriptor{
				{Name: "orderId", PrimaryKey: true, Type: "int"},
				{Name: "orderline"},
				{Name: "customerId", Type: "int"},
				{Name: "addressId", Type: "int"},
				{Name: "deliveryDate", SQLType: "TIMESTAMP"},
				{Name: "status", Enum: []string{"OPEN", "SHIPPED", "CANCELLED"}},
			},
			Joins: []metadata.JoinDeclaration{
				{
					Right:       "customer",
					LeftColumn:  "customer_id",
					RightColumn: "customer_id",
					Fields: []metadata.ColumnDescriptor{
						{Name: "customerName", Column: "customer_name"},
					},
				},
				{
					Left:        "customer",
					Right:       "address",
					Alias:       "customer_address",
					LeftColumn:  "address_id",
					RightColumn: "address_id",
					Fields: []metadata.ColumnDescriptor{
						{Name: "customerAddress", Column: "street_name"},
					},
				},
				{
					Type:        metadata.JoinLeft,
					Right:       "address",
					Alias:       "warehouse_address",
					LeftColumn:  "address_id",
					RightColumn: "address_id",
					Fields: []metadata.ColumnDescriptor{
						{Name: "warehouseAddress", Column: "street_name"},
					},
				},
				{
					Left:        "customer_address",
					Right:       "city",
					LeftColumn:  "city_id",
					RightColumn: "id",
				},
				{
					Left:        "city",
					Right:       "country",
					LeftColumn:  "country_id",
					RightColumn: "id",
					Fields: []metadata.ColumnDescriptor{
						{Name: "countryName", Column: "country_name", FilterOnly: true},
					},
				},
			},
		},
	}
}

// Events models shipment events with an optional equipment reference.
func Events(t testing.TB) *metadata.Catalog {
	t.Helper()
	catalog, err := metadata.NewCatalog(EventEntities()...)
	if err != nil {
		t.Fatalf("Failed to build events catalog: %v", err)
	}
	return catalog
}

// EventEntities returns the raw descriptors behind Events.
func EventEntities() []metadata.EntityDescriptor {
	return []metadata.EntityDescriptor{
		{
			Name:  "equipment",
			Table: "equipment",
			Columns: []metadata.ColumnDescriptor{
				{Name: "equipmentReference", PrimaryKey: true},
				{Name: "isoEquipmentCode", Column: "iso_equipment_code"},
			},
		},
		{
			Name:        "event",
			Table:       "event",
			DefaultSort: []string{"-createdDate"},
			AllowOffset: true,
			Columns: []metadata.ColumnDescriptor{
				{Name: "eventId", PrimaryKey: true, Type: "int"},
				{Name: "createdDate", Type: "date"},
				{Name: "eventType", Enum: []string{"SHIPMENT", "EQUIPMENT", "TRANSPORT"}},
				{Name: "eventClassifierCode", Type: "enum", Enum: []string{"PLN", "ACT", "EST"}},
				{Name: "equipmentReference"},
			},
			Joins: []metadata.JoinDeclaration{
				{
					Type:          metadata.JoinLeft,
					Right:         "equipment",
					LeftColumn:    "equipment_reference",
					RightColumn:   "equipment_reference",
					IncludeFields: true,
					Prefix:        "equipment.",
				},
			},
		},
	}
}

// EventsSchema creates the tables behind Events.
const EventsSchema = `
CREATE TABLE equipment (
	equipment_reference TEXT PRIMARY KEY,
	iso_equipment_code TEXT
);
CREATE TABLE event (
	event_id INTEGER PRIMARY KEY,
	created_date TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_classifier_code TEXT NOT NULL,
	equipment_reference TEXT
);
`
