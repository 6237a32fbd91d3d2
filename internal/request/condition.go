package request

import "dcsa-query/internal/analysis"

// NodeKind identifies a Condition node.
type NodeKind int

const (
	NodeAnd NodeKind = iota
	NodeOr
	NodeNot
	NodeCompare
	NodeIn
	NodeLike
	NodeIsNull
)

// CompareOp is a binary comparison operator as rendered in SQL.
type CompareOp string

const (
	OpEqual        CompareOp = "="
	OpNotEqual     CompareOp = "<>"
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
)

// Condition is a node of the filter predicate tree. Leaves reference fields
// of the analysis the state was parsed against; values are already parsed
// driver arguments.
type Condition struct {
	Kind     NodeKind
	Children []*Condition

	Field *analysis.QueryField
	Op    CompareOp
	Value any
	// Values holds IN operands.
	Values []any
	// Pattern is a LIKE pattern; wildcards are the client's or were added
	// around an escaped substring.
	Pattern         string
	CaseInsensitive bool
}

// And combines conditions; nil children are dropped and a single child is returned as is.
func And(children ...*Condition) *Condition {
	return group(NodeAnd, children)
}

// Or is the disjunction counterpart of And.
func Or(children ...*Condition) *Condition {
	return group(NodeOr, children)
}

func group(kind NodeKind, children []*Condition) *Condition {
	kept := make([]*Condition, 0, len(children))
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Condition{Kind: kind, Children: kept}
	}
}

// Not negates c.
func Not(c *Condition) *Condition {
	return &Condition{Kind: NodeNot, Children: []*Condition{c}}
}

// Compare builds field <op> value.
func Compare(field *analysis.QueryField, op CompareOp, value any) *Condition {
	return &Condition{Kind: NodeCompare, Field: field, Op: op, Value: value}
}

// In builds field IN (values). A single value collapses to equality.
func In(field *analysis.QueryField, values ...any) *Condition {
	if len(values) == 1 {
		return Compare(field, OpEqual, values[0])
	}
	return &Condition{Kind: NodeIn, Field: field, Values: values}
}

// Like builds a LIKE match.
func Like(field *analysis.QueryField, pattern string, caseInsensitive bool) *Condition {
	return &Condition{Kind: NodeLike, Field: field, Pattern: pattern, CaseInsensitive: caseInsensitive}
}

// IsNull builds field IS NULL.
func IsNull(field *analysis.QueryField) *Condition {
	return &Condition{Kind: NodeIsNull, Field: field}
}

// Fields returns the distinct fields referenced by the tree, in first-use order.
func (c *Condition) Fields() []*analysis.QueryField {
	var out []*analysis.QueryField
	seen := make(map[*analysis.QueryField]bool)
	var walk func(*Condition)
	walk = func(n *Condition) {
		if n == nil {
			return
		}
		if n.Field != nil && !seen[n.Field] {
			seen[n.Field] = true
			out = append(out, n.Field)
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(c)
	return out
}
