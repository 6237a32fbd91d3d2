package request

import (
	"fmt"
	"sort"
	"strings"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/queryerr"
	"dcsa-query/internal/setutil"
)

// FilterOp is a filter operator as written in attribute-form keys (field:op).
type FilterOp string

const (
	FilterEq      FilterOp = "eq"
	FilterNeq     FilterOp = "neq"
	FilterGt      FilterOp = "gt"
	FilterGte     FilterOp = "gte"
	FilterLt      FilterOp = "lt"
	FilterLte     FilterOp = "lte"
	FilterIn      FilterOp = "in"
	FilterNin     FilterOp = "nin"
	FilterLike    FilterOp = "like"
	FilterILike   FilterOp = "ilike"
	FilterSubstr  FilterOp = "substr"
	FilterISubstr FilterOp = "isubstr"
	FilterIEq     FilterOp = "ieq"
)

var filterOps = map[FilterOp]bool{
	FilterEq: true, FilterNeq: true, FilterGt: true, FilterGte: true, FilterLt: true, FilterLte: true,
	FilterIn: true, FilterNin: true, FilterLike: true, FilterILike: true, FilterSubstr: true,
	FilterISubstr: true, FilterIEq: true,
}

// NullLiteral selects IS NULL with eq and IS NOT NULL with neq.
const NullLiteral = "NULL"

// likeEscape is the escape character compiled LIKE clauses declare.
const likeEscape = "!"

func (op FilterOp) membership() bool {
	return op == FilterEq || op == FilterIn || op == FilterNeq || op == FilterNin
}

func (op FilterOp) negated() bool {
	return op == FilterNeq || op == FilterNin
}

func (op FilterOp) ordering() bool {
	return op == FilterGt || op == FilterGte || op == FilterLt || op == FilterLte
}

func (op FilterOp) pattern() bool {
	switch op {
	case FilterLike, FilterILike, FilterSubstr, FilterISubstr, FilterIEq:
		return true
	}
	return false
}

var compareOps = map[FilterOp]CompareOp{
	FilterGt:  OpGreater,
	FilterGte: OpGreaterEqual,
	FilterLt:  OpLess,
	FilterLte: OpLessEqual,
}

// filterGroup accumulates the conditions for one field.
type filterGroup struct {
	field *analysis.QueryField

	include     []any
	includeNull bool
	seenInclude map[string]bool
	exclude     []any
	excludeNull bool
	seenExclude map[string]bool

	ranges   []*Condition
	patterns []*Condition
}

func (g *filterGroup) condition() *Condition {
	var membership *Condition
	if len(g.include) > 0 || g.includeNull {
		var parts []*Condition
		if g.includeNull {
			parts = append(parts, IsNull(g.field))
		}
		if len(g.include) > 0 {
			parts = append(parts, In(g.field, g.include...))
		}
		membership = Or(parts...)
	}

	var exclusion []*Condition
	if g.excludeNull {
		exclusion = append(exclusion, Not(IsNull(g.field)))
	}
	switch len(g.exclude) {
	case 0:
	case 1:
		exclusion = append(exclusion, Compare(g.field, OpNotEqual, g.exclude[0]))
	default:
		exclusion = append(exclusion, Not(In(g.field, g.exclude...)))
	}

	parts := []*Condition{membership}
	parts = append(parts, exclusion...)
	parts = append(parts, g.ranges...)
	parts = append(parts, Or(g.patterns...))
	return And(parts...)
}

// splitFilterKey separates the field name from its operator.
// Accepted forms: field, field!, field>, field< and field<sep>op.
func (p *parser) splitFilterKey(key string) (string, FilterOp, error) {
	sep := p.opts.AttributeSeparator
	if idx := strings.LastIndex(key, sep); idx > 0 {
		op := FilterOp(strings.ToLower(key[idx+len(sep):]))
		if !filterOps[op] {
			return "", "", queryerr.InvalidParameterf(key, "unknown filter operator %q", string(op))
		}
		return key[:idx], op, nil
	}
	switch {
	case strings.HasSuffix(key, "!"):
		return strings.TrimSuffix(key, "!"), FilterNeq, nil
	case strings.HasSuffix(key, ">"):
		return strings.TrimSuffix(key, ">"), FilterGte, nil
	case strings.HasSuffix(key, "<"):
		return strings.TrimSuffix(key, "<"), FilterLte, nil
	default:
		return key, FilterEq, nil
	}
}

// buildFilter parses client filter parameters and applies field restrictions.
func (p *parser) buildFilter(params map[string][]string) (*Condition, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make(map[*analysis.QueryField]*filterGroup)
	var order []*analysis.QueryField

	for _, key := range keys {
		name, op, err := p.splitFilterKey(key)
		if err != nil {
			return nil, err
		}
		field, err := p.a.LookupExternal(name)
		if err != nil {
			return nil, &queryerr.InvalidParameterError{Parameter: key, Message: "unknown field", Err: err}
		}
		if err := p.checkOperator(key, field, op); err != nil {
			return nil, err
		}
		g, ok := groups[field]
		if !ok {
			g = &filterGroup{field: field, seenInclude: map[string]bool{}, seenExclude: map[string]bool{}}
			groups[field] = g
			order = append(order, field)
		}
		for _, raw := range params[key] {
			if err := p.addFilterValue(g, key, op, raw); err != nil {
				return nil, err
			}
		}
	}

	var conds []*Condition
	for _, field := range order {
		conds = append(conds, groups[field].condition())
	}

	for _, field := range p.a.Fields() {
		res := field.Restriction
		if res.IsZero() {
			continue
		}
		_, client := groups[field]
		switch {
		case len(res.Fixed) > 0:
			if client {
				return nil, queryerr.InvalidParameterf(field.ExternalName, "field cannot be filtered")
			}
			c, err := restrictionCondition(field, res.Fixed)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case client:
		case len(res.Default) > 0:
			c, err := restrictionCondition(field, res.Default)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case len(res.Allowed) > 0:
			c, err := restrictionCondition(field, res.Allowed)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
	}
	return And(conds...), nil
}

func (p *parser) checkOperator(key string, field *analysis.QueryField, op FilterOp) error {
	res := field.Restriction
	if len(res.Allowed) > 0 && !(op == FilterEq || op == FilterIn) {
		return queryerr.InvalidParameterf(key, "field %s only supports equality filters", field.ExternalName)
	}
	if op.ordering() && !field.ValueType.SupportsOrdering() {
		return queryerr.InvalidParameterf(key, "operator %s is not supported for %s fields", op, field.ValueType)
	}
	if op.pattern() && !field.ValueType.SupportsPattern() {
		return queryerr.InvalidParameterf(key, "operator %s is not supported for %s fields", op, field.ValueType)
	}
	return nil
}

func (p *parser) addFilterValue(g *filterGroup, key string, op FilterOp, raw string) error {
	if raw == "" {
		return queryerr.InvalidParameterf(key, "value must not be empty")
	}
	field := g.field

	if op.membership() {
		pieces := strings.Split(raw, ",")
		if allowed := field.Restriction.Allowed; len(allowed) > 0 {
			if _, err := setutil.Canonicalize(pieces, allowed); err != nil {
				return queryerr.InvalidValue(key, raw, err)
			}
		}
		for _, piece := range pieces {
			if piece == "" {
				return queryerr.InvalidParameterf(key, "value list contains an empty entry")
			}
			if piece == NullLiteral {
				if op.negated() {
					g.excludeNull = true
				} else {
					g.includeNull = true
				}
				continue
			}
			v, err := p.clientLiteral(key, field, piece)
			if err != nil {
				return err
			}
			if op.negated() {
				if !g.seenExclude[piece] {
					g.seenExclude[piece] = true
					g.exclude = append(g.exclude, v)
				}
			} else if !g.seenInclude[piece] {
				g.seenInclude[piece] = true
				g.include = append(g.include, v)
			}
		}
		return nil
	}

	if err := p.validateClientValue(key, field, raw); err != nil {
		return err
	}

	if op.ordering() {
		if raw == NullLiteral {
			return queryerr.InvalidParameterf(key, "NULL cannot be compared with %s", op)
		}
		v, err := field.ParseLiteral(raw)
		if err != nil {
			return queryerr.InvalidValue(key, raw, err)
		}
		g.ranges = append(g.ranges, Compare(field, compareOps[op], v))
		return nil
	}

	switch op {
	case FilterLike, FilterILike:
		if err := checkLikePattern(raw); err != nil {
			return queryerr.InvalidValue(key, raw, err)
		}
		g.patterns = append(g.patterns, Like(field, raw, op == FilterILike))
	case FilterSubstr:
		g.patterns = append(g.patterns, Like(field, "%"+EscapeLike(raw)+"%", false))
	case FilterISubstr:
		g.patterns = append(g.patterns, Like(field, "%"+EscapeLike(raw)+"%", true))
	case FilterIEq:
		g.patterns = append(g.patterns, Like(field, EscapeLike(raw), true))
	}
	return nil
}

func (p *parser) clientLiteral(key string, field *analysis.QueryField, raw string) (any, error) {
	if err := p.validateClientValue(key, field, raw); err != nil {
		return nil, err
	}
	v, err := field.ParseLiteral(raw)
	if err != nil {
		return nil, queryerr.InvalidValue(key, raw, err)
	}
	return v, nil
}

func (p *parser) validateClientValue(key string, field *analysis.QueryField, raw string) error {
	if field.Restriction.Validate == nil {
		return nil
	}
	if err := field.Restriction.Validate(raw); err != nil {
		return queryerr.InvalidValue(key, raw, err)
	}
	return nil
}

// restrictionCondition builds the membership test for configured values,
// which were validated when the analysis was built.
func restrictionCondition(field *analysis.QueryField, raws []string) (*Condition, error) {
	values := make([]any, 0, len(raws))
	for _, raw := range raws {
		v, err := field.ParseLiteral(raw)
		if err != nil {
			return nil, queryerr.Configurationf("", "restriction value %q of field %s: %v", raw, field.InternalName, err)
		}
		values = append(values, v)
	}
	return In(field, values...), nil
}

// EscapeLike escapes LIKE wildcards with the escape character compiled
// statements declare.
func EscapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}

// checkLikePattern rejects a pattern ending in an unescaped escape character,
// which databases refuse at execution time.
func checkLikePattern(pattern string) error {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != likeEscape[0] {
			continue
		}
		if i == len(pattern)-1 {
			return fmt.Errorf("pattern must not end with the escape character %s", likeEscape)
		}
		i++
	}
	return nil
}

// LikeEscapeChar is the escape character for Like patterns.
func LikeEscapeChar() string { return likeEscape }
