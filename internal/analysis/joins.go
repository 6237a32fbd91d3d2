package analysis

import (
	"dcsa-query/internal/metadata"
	"dcsa-query/internal/queryerr"
)

// JoinType is the SQL join kind of a descriptor.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
)

// JoinDescriptor is one edge of the join graph:
// LeftAlias.OnLeftColumn = RightAlias.OnRightColumn.
type JoinDescriptor struct {
	Type          JoinType
	LeftAlias     string
	RightAlias    string
	RightTable    string
	OnLeftColumn  string
	OnRightColumn string
}

// TableAndJoins is the primary table plus every declared join.
// Joins are in declaration order; each join's LeftAlias is the primary alias
// or the RightAlias of an earlier join.
type TableAndJoins struct {
	PrimaryTable string
	PrimaryAlias string
	Joins        []JoinDescriptor
}

// joinGraph tracks aliases while declarations are consumed.
type joinGraph struct {
	entity  string
	catalog *metadata.Catalog
	tables  TableAndJoins
	// entity descriptor owning each alias, used to check join columns
	owners map[string]*metadata.EntityDescriptor
	index  map[string]int
}

func newJoinGraph(catalog *metadata.Catalog, primary *metadata.EntityDescriptor) *joinGraph {
	g := &joinGraph{
		entity:  primary.Name,
		catalog: catalog,
		tables: TableAndJoins{
			PrimaryTable: primary.Table,
			PrimaryAlias: primary.Table,
		},
		owners: map[string]*metadata.EntityDescriptor{primary.Table: primary},
		index:  make(map[string]int),
	}
	return g
}

// add resolves one declaration and appends its descriptor.
// It returns the right-hand entity so callers can register joined fields.
func (g *joinGraph) add(pos int, decl metadata.JoinDeclaration) (JoinDescriptor, *metadata.EntityDescriptor, error) {
	var joinType JoinType
	switch decl.Type {
	case metadata.JoinInner, "":
		joinType = JoinInner
	case metadata.JoinLeft:
		joinType = JoinLeft
	default:
		return JoinDescriptor{}, nil, queryerr.Configurationf(g.entity, "join %d: %s joins are not supported", pos, decl.Type)
	}

	leftAlias, err := g.resolveLeft(pos, decl.Left)
	if err != nil {
		return JoinDescriptor{}, nil, err
	}

	right, ok := g.catalog.Entity(decl.Right)
	if !ok {
		return JoinDescriptor{}, nil, queryerr.Configurationf(g.entity, "join %d: %q is not a known entity", pos, decl.Right)
	}

	alias := decl.Alias
	if alias == "" {
		alias = right.Table
	}
	if _, used := g.owners[alias]; used {
		if decl.Alias == "" {
			return JoinDescriptor{}, nil, queryerr.Configurationf(g.entity,
				"join %d: table %s is already part of the query and needs a distinct alias", pos, right.Table)
		}
		return JoinDescriptor{}, nil, queryerr.Configurationf(g.entity, "join %d: alias %q is already in use", pos, alias)
	}

	left := g.owners[leftAlias]
	if _, ok := left.FindColumn(decl.LeftColumn); !ok {
		return JoinDescriptor{}, nil, queryerr.Configurationf(g.entity,
			"join %d: entity %s has no column %q", pos, left.Name, decl.LeftColumn)
	}
	if _, ok := right.FindColumn(decl.RightColumn); !ok {
		return JoinDescriptor{}, nil, queryerr.Configurationf(g.entity,
			"join %d: entity %s has no column %q", pos, right.Name, decl.RightColumn)
	}

	jd := JoinDescriptor{
		Type:          joinType,
		LeftAlias:     leftAlias,
		RightAlias:    alias,
		RightTable:    right.Table,
		OnLeftColumn:  decl.LeftColumn,
		OnRightColumn: decl.RightColumn,
	}
	g.owners[alias] = right
	g.index[alias] = len(g.tables.Joins)
	g.tables.Joins = append(g.tables.Joins, jd)
	return jd, right, nil
}

// resolveLeft accepts the primary entity name, the primary alias or an alias
// declared by an earlier join. Anything else would be an implicit hop.
func (g *joinGraph) resolveLeft(pos int, left string) (string, error) {
	if left == "" || left == g.entity || left == g.tables.PrimaryAlias {
		return g.tables.PrimaryAlias, nil
	}
	if _, ok := g.index[left]; ok {
		return left, nil
	}
	// An entity name works when exactly one earlier join brought it in.
	var match string
	for _, jd := range g.tables.Joins {
		if g.owners[jd.RightAlias].Name != left {
			continue
		}
		if match != "" {
			return "", queryerr.Configurationf(g.entity,
				"join %d: left side %q is joined more than once; name the alias instead", pos, left)
		}
		match = jd.RightAlias
	}
	if match != "" {
		return match, nil
	}
	return "", queryerr.Configurationf(g.entity,
		"join %d: left side %q is neither the primary entity nor an alias declared by an earlier join", pos, left)
}
