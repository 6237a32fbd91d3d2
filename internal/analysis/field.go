package analysis

import (
	"dcsa-query/internal/metadata"
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/setutil"
	"dcsa-query/internal/valuetype"
)

// QueryField is one addressable column of an entity.
//
// ExternalName is the name clients use, InternalName the name code uses and
// SelectName the column label in compiled SELECT statements. TableAlias and
// Column locate the value in SQL.
type QueryField struct {
	ExternalName string
	InternalName string
	SelectName   string
	Column       string
	TableAlias   string
	Selectable   bool
	ValueType    valuetype.ValueType
	EnumValues   []string
	Aliases      []string
	PrimaryKey   bool
	Restriction  Restriction
}

// Restriction limits the values a client may filter a field by.
type Restriction struct {
	// Default applies when the client gives no value.
	Default []string
	// Allowed is the accepted subset; with no client value the whole subset applies.
	Allowed []string
	// Fixed is always applied and cannot be supplied by clients.
	Fixed []string
	// Validate runs on client-supplied values only.
	Validate func(value string) error
}

// IsZero reports whether no restriction is configured.
func (r Restriction) IsZero() bool {
	return len(r.Default) == 0 && len(r.Allowed) == 0 && len(r.Fixed) == 0 && r.Validate == nil
}

// ParseLiteral converts a client literal to the field's driver argument.
func (f *QueryField) ParseLiteral(raw string) (any, error) {
	return f.ValueType.ParseLiteral(raw, f.EnumValues)
}

// fieldRegistry collects fields for one entity and enforces name uniqueness.
type fieldRegistry struct {
	entity     string
	fields     []*QueryField
	byExternal map[string]*QueryField
	byInternal map[string]*QueryField
	bySelect   map[string]*QueryField
}

func newFieldRegistry(entity string) *fieldRegistry {
	return &fieldRegistry{
		entity:     entity,
		byExternal: make(map[string]*QueryField),
		byInternal: make(map[string]*QueryField),
		bySelect:   make(map[string]*QueryField),
	}
}

// fieldSpec carries the resolved names for one column declaration.
type fieldSpec struct {
	column     metadata.ColumnDescriptor
	alias      string
	internal   string
	external   string
	selectName string
	primaryKey bool
}

func (r *fieldRegistry) add(spec fieldSpec) (*QueryField, error) {
	col := spec.column
	vt, err := resolveValueType(col)
	if err != nil {
		return nil, &queryerr.ConfigurationError{Entity: r.entity, Message: "field " + spec.internal, Err: err}
	}
	field := &QueryField{
		ExternalName: spec.external,
		InternalName: spec.internal,
		SelectName:   spec.selectName,
		Column:       col.Column,
		TableAlias:   spec.alias,
		Selectable:   !col.FilterOnly,
		ValueType:    vt,
		EnumValues:   append([]string(nil), col.Enum...),
		Aliases:      append([]string(nil), col.Aliases...),
		PrimaryKey:   spec.primaryKey,
		Restriction: Restriction{
			Default:  append([]string(nil), col.Default...),
			Allowed:  append([]string(nil), col.Allowed...),
			Fixed:    append([]string(nil), col.Fixed...),
			Validate: col.Validate,
		},
	}
	if err := r.checkField(field); err != nil {
		return nil, err
	}

	if _, dup := r.byInternal[field.InternalName]; dup {
		return nil, queryerr.Configurationf(r.entity, "duplicate internal name %q", field.InternalName)
	}
	for _, name := range append([]string{field.ExternalName}, field.Aliases...) {
		if _, dup := r.byExternal[name]; dup {
			return nil, queryerr.Configurationf(r.entity, "duplicate external name %q", name)
		}
	}
	if field.Selectable {
		if existing, dup := r.bySelect[field.SelectName]; dup {
			return nil, queryerr.Configurationf(r.entity, "fields %q and %q share select name %q",
				existing.InternalName, field.InternalName, field.SelectName)
		}
		r.bySelect[field.SelectName] = field
	}
	r.byInternal[field.InternalName] = field
	r.byExternal[field.ExternalName] = field
	for _, alias := range field.Aliases {
		r.byExternal[alias] = field
	}
	r.fields = append(r.fields, field)
	return field, nil
}

func (r *fieldRegistry) checkField(f *QueryField) error {
	if f.ExternalName == "" || f.SelectName == "" || f.Column == "" {
		return queryerr.Configurationf(r.entity, "field %q resolves to an empty name", f.InternalName)
	}
	if f.ValueType == valuetype.Enum && len(f.EnumValues) == 0 {
		return queryerr.Configurationf(r.entity, "enum field %q declares no values", f.InternalName)
	}
	res := f.Restriction
	if len(res.Fixed) > 0 && len(res.Default) > 0 {
		return queryerr.Configurationf(r.entity, "field %q cannot declare both fixed and default values", f.InternalName)
	}
	if f.ValueType == valuetype.Enum && len(res.Allowed) > 0 && !setutil.Contains(f.EnumValues, res.Allowed...) {
		return queryerr.Configurationf(r.entity, "allowed values of field %q must be a subset of its enum values", f.InternalName)
	}
	if len(res.Fixed) > 0 && len(res.Allowed) > 0 && !setutil.Contains(res.Allowed, res.Fixed...) {
		return queryerr.Configurationf(r.entity, "fixed values of field %q must be allowed values", f.InternalName)
	}
	for _, group := range [][]string{res.Default, res.Allowed, res.Fixed} {
		for _, raw := range group {
			if _, err := f.ParseLiteral(raw); err != nil {
				return &queryerr.ConfigurationError{
					Entity:  r.entity,
					Message: "invalid restriction value " + raw + " for field " + f.InternalName,
					Err:     err,
				}
			}
		}
	}
	return nil
}

func resolveValueType(col metadata.ColumnDescriptor) (valuetype.ValueType, error) {
	switch {
	case col.Type != "":
		return valuetype.Parse(col.Type)
	case len(col.Enum) > 0:
		return valuetype.Enum, nil
	case col.SQLType != "":
		return valuetype.FromSQLType(col.SQLType), nil
	default:
		return valuetype.String, nil
	}
}
