// Package analysis turns entity descriptors into an immutable EntityAnalysis:
// the primary table, the declared join graph and the registry of queryable
// fields. An analysis is built once per entity and shared by every request.
package analysis

import (
	"strings"

	"dcsa-query/internal/metadata"
	"dcsa-query/internal/queryerr"
)

// SortTerm is one ordering key.
type SortTerm struct {
	Field      *QueryField
	Descending bool
}

// EntityAnalysis is read-only after Build returns and safe for concurrent use.
type EntityAnalysis struct {
	name        string
	tables      TableAndJoins
	joinIndex   map[string]int
	registry    *fieldRegistry
	primaryKey  []*QueryField
	defaultSort []SortTerm
	distinct    bool
	allowOffset bool
}

// Build analyzes one catalog entity.
func Build(catalog *metadata.Catalog, entity string) (*EntityAnalysis, error) {
	desc, ok := catalog.Entity(entity)
	if !ok {
		return nil, queryerr.Configurationf(entity, "entity is not declared in the catalog")
	}

	graph := newJoinGraph(catalog, desc)
	registry := newFieldRegistry(desc.Name)
	primaryAlias := graph.tables.PrimaryAlias

	var primaryKey []*QueryField
	for _, col := range desc.Columns {
		field, err := registry.add(fieldSpec{
			column:     col,
			alias:      primaryAlias,
			internal:   col.Name,
			external:   col.JSON,
			selectName: firstNonEmpty(col.Select, col.Column),
			primaryKey: col.PrimaryKey,
		})
		if err != nil {
			return nil, err
		}
		if field.PrimaryKey {
			primaryKey = append(primaryKey, field)
		}
	}

	for i, decl := range desc.Joins {
		jd, right, err := graph.add(i, decl)
		if err != nil {
			return nil, err
		}
		for _, col := range decl.Fields {
			if _, err := registry.add(fieldSpec{
				column:     col,
				alias:      jd.RightAlias,
				internal:   col.Name,
				external:   col.JSON,
				selectName: firstNonEmpty(col.Select, jd.RightAlias+"_"+col.Column),
			}); err != nil {
				return nil, err
			}
		}
		if !decl.IncludeFields {
			continue
		}
		for _, col := range right.Columns {
			if _, err := registry.add(fieldSpec{
				column:     col,
				alias:      jd.RightAlias,
				internal:   jd.RightAlias + "." + col.Name,
				external:   decl.Prefix + col.JSON,
				selectName: jd.RightAlias + "_" + col.Column,
			}); err != nil {
				return nil, err
			}
		}
	}

	if len(primaryKey) == 0 {
		return nil, queryerr.Configurationf(desc.Name, "no primary key column declared")
	}
	for _, pk := range primaryKey {
		if !pk.Selectable {
			return nil, queryerr.Configurationf(desc.Name, "primary key field %q must be selectable", pk.InternalName)
		}
	}

	a := &EntityAnalysis{
		name:        desc.Name,
		tables:      graph.tables,
		joinIndex:   graph.index,
		registry:    registry,
		primaryKey:  primaryKey,
		distinct:    desc.Distinct,
		allowOffset: desc.AllowOffset,
	}

	for _, raw := range desc.DefaultSort {
		term, err := a.parseSortTerm(raw)
		if err != nil {
			return nil, err
		}
		a.defaultSort = append(a.defaultSort, term)
	}

	// Every field must be reachable; this also validates the graph.
	if _, err := a.RequiredJoins(registry.fields...); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *EntityAnalysis) parseSortTerm(raw string) (SortTerm, error) {
	name := strings.TrimSpace(raw)
	desc := false
	if strings.HasPrefix(name, "-") {
		desc = true
		name = name[1:]
	}
	field, err := a.Lookup(name)
	if err != nil {
		return SortTerm{}, &queryerr.ConfigurationError{Entity: a.name, Message: "invalid default sort", Err: err}
	}
	if !field.Selectable {
		return SortTerm{}, queryerr.Configurationf(a.name, "default sort field %q is not selectable", name)
	}
	return SortTerm{Field: field, Descending: desc}, nil
}

// Name returns the entity name.
func (a *EntityAnalysis) Name() string { return a.name }

// PrimaryTable returns the primary table name.
func (a *EntityAnalysis) PrimaryTable() string { return a.tables.PrimaryTable }

// PrimaryAlias returns the alias the primary table is referenced by.
func (a *EntityAnalysis) PrimaryAlias() string { return a.tables.PrimaryAlias }

// Tables returns a copy of the primary table and its join graph.
func (a *EntityAnalysis) Tables() TableAndJoins {
	out := a.tables
	out.Joins = a.Joins()
	return out
}

// Joins returns every declared join in declaration order.
func (a *EntityAnalysis) Joins() []JoinDescriptor {
	out := make([]JoinDescriptor, len(a.tables.Joins))
	copy(out, a.tables.Joins)
	return out
}

// JoinDescriptor finds a join by alias, falling back to the first join of a table.
func (a *EntityAnalysis) JoinDescriptor(aliasOrTable string) (JoinDescriptor, bool) {
	if idx, ok := a.joinIndex[aliasOrTable]; ok {
		return a.tables.Joins[idx], true
	}
	for _, jd := range a.tables.Joins {
		if jd.RightTable == aliasOrTable {
			return jd, true
		}
	}
	return JoinDescriptor{}, false
}

// HasAlias reports whether alias is the primary alias or a declared join alias.
func (a *EntityAnalysis) HasAlias(alias string) bool {
	if alias == a.tables.PrimaryAlias {
		return true
	}
	_, ok := a.joinIndex[alias]
	return ok
}

// Lookup resolves a name by external name (or alias), then internal name,
// then select name.
func (a *EntityAnalysis) Lookup(name string) (*QueryField, error) {
	if f, ok := a.registry.byExternal[name]; ok {
		return f, nil
	}
	if f, ok := a.registry.byInternal[name]; ok {
		return f, nil
	}
	if f, ok := a.registry.bySelect[name]; ok {
		return f, nil
	}
	return nil, &queryerr.FieldNotFoundError{Entity: a.name, Name: name}
}

// LookupExternal resolves an external name or field alias only.
func (a *EntityAnalysis) LookupExternal(name string) (*QueryField, error) {
	if f, ok := a.registry.byExternal[name]; ok {
		return f, nil
	}
	return nil, &queryerr.FieldNotFoundError{Entity: a.name, Name: name}
}

// LookupInternal resolves an internal name only.
func (a *EntityAnalysis) LookupInternal(name string) (*QueryField, error) {
	if f, ok := a.registry.byInternal[name]; ok {
		return f, nil
	}
	return nil, &queryerr.FieldNotFoundError{Entity: a.name, Name: name}
}

// LookupSelect resolves a select name of a selectable field.
func (a *EntityAnalysis) LookupSelect(name string) (*QueryField, error) {
	if f, ok := a.registry.bySelect[name]; ok {
		return f, nil
	}
	return nil, &queryerr.FieldNotFoundError{Entity: a.name, Name: name}
}

// Fields returns every field in declaration order.
func (a *EntityAnalysis) Fields() []*QueryField {
	out := make([]*QueryField, len(a.registry.fields))
	copy(out, a.registry.fields)
	return out
}

// AllSelectableFields returns the selectable fields in declaration order.
func (a *EntityAnalysis) AllSelectableFields() []*QueryField {
	out := make([]*QueryField, 0, len(a.registry.fields))
	for _, f := range a.registry.fields {
		if f.Selectable {
			out = append(out, f)
		}
	}
	return out
}

// PrimaryKey returns the primary key fields in declaration order.
func (a *EntityAnalysis) PrimaryKey() []*QueryField {
	out := make([]*QueryField, len(a.primaryKey))
	copy(out, a.primaryKey)
	return out
}

// DefaultSort returns the declared default ordering, possibly empty.
func (a *EntityAnalysis) DefaultSort() []SortTerm {
	out := make([]SortTerm, len(a.defaultSort))
	copy(out, a.defaultSort)
	return out
}

// Distinct reports whether SELECT DISTINCT is used for this entity.
func (a *EntityAnalysis) Distinct() bool { return a.distinct }

// AllowOffset reports whether clients may request offset pagination.
func (a *EntityAnalysis) AllowOffset() bool { return a.allowOffset }

// RequiredJoins returns the joins needed to reach every given field, in
// declaration order. A join is needed when a field lives on its alias or on
// an alias that depends on it.
func (a *EntityAnalysis) RequiredJoins(fields ...*QueryField) ([]JoinDescriptor, error) {
	needed := make([]bool, len(a.tables.Joins))
	for _, f := range fields {
		if err := a.markInUse(f, needed); err != nil {
			return nil, err
		}
	}
	var out []JoinDescriptor
	for i, use := range needed {
		if use {
			out = append(out, a.tables.Joins[i])
		}
	}
	return out, nil
}

func (a *EntityAnalysis) markInUse(f *QueryField, needed []bool) error {
	alias := f.TableAlias
	for alias != a.tables.PrimaryAlias {
		idx, ok := a.joinIndex[alias]
		if !ok {
			return queryerr.Configurationf(a.name, "field %q references alias %q which is not part of the join graph", f.InternalName, alias)
		}
		if needed[idx] {
			return nil
		}
		needed[idx] = true
		alias = a.tables.Joins[idx].LeftAlias
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
