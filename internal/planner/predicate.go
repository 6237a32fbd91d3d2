package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"dcsa-query/internal/request"
)

// likeEscapeClause declares the escape character request patterns use.
var likeEscapeClause = fmt.Sprintf(" ESCAPE '%s'", request.LikeEscapeChar())

// predicate renders a filter tree; nil yields nil.
func (c *compiler) predicate(cond *request.Condition) (sq.Sqlizer, error) {
	if cond == nil {
		return nil, nil
	}
	switch cond.Kind {
	case request.NodeAnd, request.NodeOr:
		parts := make([]sq.Sqlizer, 0, len(cond.Children))
		for _, child := range cond.Children {
			p, err := c.predicate(child)
			if err != nil {
				return nil, err
			}
			if p != nil {
				parts = append(parts, p)
			}
		}
		if cond.Kind == request.NodeAnd {
			return sq.And(parts), nil
		}
		return sq.Or(parts), nil
	case request.NodeNot:
		if len(cond.Children) != 1 {
			return nil, fmt.Errorf("NOT expects one operand, got %d", len(cond.Children))
		}
		inner, err := c.predicate(cond.Children[0])
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	case request.NodeCompare:
		return sq.Expr(c.column(cond.Field)+" "+string(cond.Op)+" ?", c.d.BindValue(cond.Value)), nil
	case request.NodeIn:
		if len(cond.Values) == 0 {
			return nil, fmt.Errorf("IN on %s has no values", cond.Field.InternalName)
		}
		args := make([]any, len(cond.Values))
		for i, v := range cond.Values {
			args[i] = c.d.BindValue(v)
		}
		return sq.Expr(c.column(cond.Field)+" IN ("+sq.Placeholders(len(cond.Values))+")", args...), nil
	case request.NodeLike:
		col := c.column(cond.Field)
		if cond.CaseInsensitive {
			return sq.Expr(c.d.CaseInsensitiveLike(col)+likeEscapeClause, cond.Pattern), nil
		}
		return sq.Expr(col+" LIKE ?"+likeEscapeClause, cond.Pattern), nil
	case request.NodeIsNull:
		return sq.Expr(c.column(cond.Field) + " IS NULL"), nil
	default:
		return nil, fmt.Errorf("unsupported condition kind %d", cond.Kind)
	}
}

type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []any, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}

// seekPredicate selects the rows strictly after values in the sort order,
// or strictly before them when backward is set. It expands the row
// comparison lexicographically so mixed directions work:
//
//	(a > ?) OR (a = ? AND b > ?) OR ...
//
// NULL sorts below every value. A nil entry of values stands for NULL.
func (c *compiler) seekPredicate(keys []request.SortKey, values []any, backward bool) (sq.Sqlizer, error) {
	if len(values) != len(keys) {
		return nil, fmt.Errorf("cursor has %d values for %d sort keys", len(values), len(keys))
	}
	var terms sq.Or
	var prefix []sq.Sqlizer
	for i, k := range keys {
		col := c.column(k.Field)
		desc := k.Descending != backward
		v := values[i]
		if v != nil {
			v = c.d.BindValue(v)
		}
		if step := afterValue(col, v, desc, k.Field.PrimaryKey); step != nil {
			term := append(append(sq.And(nil), prefix...), step)
			terms = append(terms, term)
		}
		prefix = append(prefix, equalValue(col, v))
	}
	if len(terms) == 0 {
		return sq.Expr("1 = 0"), nil
	}
	return terms, nil
}

// afterValue selects the values that follow v in one direction; nil means none do.
func afterValue(col string, v any, desc, notNull bool) sq.Sqlizer {
	switch {
	case v == nil && desc:
		return nil
	case v == nil:
		return sq.Expr(col + " IS NOT NULL")
	case desc && notNull:
		return sq.Expr(col+" < ?", v)
	case desc:
		return sq.Expr("("+col+" < ? OR "+col+" IS NULL)", v)
	default:
		return sq.Expr(col+" > ?", v)
	}
}

func equalValue(col string, v any) sq.Sqlizer {
	if v == nil {
		return sq.Expr(col + " IS NULL")
	}
	return sq.Expr(col+" = ?", v)
}
