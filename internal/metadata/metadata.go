// Package metadata holds the static entity descriptors the query layer is built from:
// table mappings, column declarations and join declarations. Descriptors are
// authored in YAML or constructed in code and normalized by NewCatalog.
package metadata

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

// Join types accepted in declarations. Only inner and left joins can be compiled.
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinRight = "right"
	JoinFull  = "full"
)

// EntityDescriptor describes one entity: its primary table, columns and joins.
type EntityDescriptor struct {
	Name        string             `yaml:"name" validate:"required"`
	Table       string             `yaml:"table"`
	Columns     []ColumnDescriptor `yaml:"columns" validate:"required,min=1,dive"`
	Joins       []JoinDeclaration  `yaml:"joins" validate:"dive"`
	DefaultSort []string           `yaml:"default_sort"`
	Distinct    bool               `yaml:"distinct"`
	AllowOffset bool               `yaml:"allow_offset"`
}

// ColumnDescriptor declares one queryable column.
//
// Name is the internal query name and the only required field. Column defaults
// to the snake-cased name and JSON to its lower-camel form. Select is left empty
// here because its default depends on the table alias the column belongs to.
type ColumnDescriptor struct {
	Name       string   `yaml:"name" validate:"required"`
	Column     string   `yaml:"column"`
	JSON       string   `yaml:"json"`
	Select     string   `yaml:"select"`
	Type       string   `yaml:"type" validate:"omitempty,oneof=string text int integer long float double decimal numeric bool boolean timestamp datetime time date uuid enum"`
	SQLType    string   `yaml:"sql_type"`
	Enum       []string `yaml:"enum"`
	PrimaryKey bool     `yaml:"primary_key"`
	FilterOnly bool     `yaml:"filter_only"`
	Aliases    []string `yaml:"aliases"`
	Default    []string `yaml:"default"`
	Allowed    []string `yaml:"allowed"`
	Fixed      []string `yaml:"fixed"`

	// Validate checks client-supplied values before they are parsed.
	Validate func(value string) error `yaml:"-"`
}

// JoinDeclaration declares one explicit join hop.
//
// Left names the primary entity or an alias declared by an earlier join; empty
// means the primary entity. Right names an entity in the catalog. Fields declares
// columns of the joined table; IncludeFields imports the right entity's own
// columns, with external names prefixed by Prefix.
type JoinDeclaration struct {
	Type          string             `yaml:"type" validate:"omitempty,oneof=inner left right full"`
	Left          string             `yaml:"left"`
	Right         string             `yaml:"right" validate:"required"`
	Alias         string             `yaml:"alias"`
	LeftColumn    string             `yaml:"left_column" validate:"required"`
	RightColumn   string             `yaml:"right_column" validate:"required"`
	Fields        []ColumnDescriptor `yaml:"fields" validate:"dive"`
	Prefix        string             `yaml:"prefix"`
	IncludeFields bool               `yaml:"include_fields"`
}

// DefaultTableName derives a table name from an entity name: plural snake case.
func DefaultTableName(entity string) string {
	return inflection.Plural(strcase.ToSnake(entity))
}

// normalize fills defaults in place.
func (e *EntityDescriptor) normalize() {
	e.Name = strings.TrimSpace(e.Name)
	if e.Table == "" {
		e.Table = DefaultTableName(e.Name)
	}
	for i := range e.Columns {
		e.Columns[i].normalize()
	}
	for i := range e.Joins {
		j := &e.Joins[i]
		j.Type = strings.ToLower(strings.TrimSpace(j.Type))
		if j.Type == "" {
			j.Type = JoinInner
		}
		for k := range j.Fields {
			j.Fields[k].normalize()
		}
	}
}

func (c *ColumnDescriptor) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Column == "" {
		c.Column = strcase.ToSnake(c.Name)
	}
	if c.JSON == "" {
		c.JSON = strcase.ToLowerCamel(c.Name)
	}
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
}

// FindColumn returns the column declared with the given SQL column name.
func (e *EntityDescriptor) FindColumn(column string) (*ColumnDescriptor, bool) {
	for i := range e.Columns {
		if e.Columns[i].Column == column {
			return &e.Columns[i], true
		}
	}
	return nil, false
}
