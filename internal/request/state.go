// Package request parses client query parameters into a frozen State:
// a filter predicate tree, a total sort order and the pagination position.
// Every field reference is resolved against an EntityAnalysis before any SQL
// is compiled.
package request

import (
	"net/url"
	"strconv"
	"strings"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/queryerr"
)

// State is the parsed request. It is immutable; accessors return copies.
type State struct {
	analysis   *analysis.EntityAnalysis
	filter     *Condition
	sort       []SortKey
	projection []*analysis.QueryField
	pageSize   int
	offset     int
	mode       cursor.Mode
	position   []any
	backward   bool
	distinct   bool
	wantCount  bool
	knownTotal *int64

	filterParams map[string][]string
	fieldNames   []string
}

type parser struct {
	a    *analysis.EntityAnalysis
	opts Options
}

// Parse validates params against a and returns the frozen request state.
// Client mistakes are reported as *queryerr.InvalidParameterError.
func Parse(params url.Values, a *analysis.EntityAnalysis, opts Options) (*State, error) {
	p := &parser{a: a, opts: opts.withDefaults()}
	names := p.opts.Names

	reserved := map[string]bool{
		names.Sort: true, names.Limit: true, names.Offset: true,
		names.Cursor: true, names.Fields: true, names.Count: true,
	}
	filterParams := make(map[string][]string)
	for key, values := range params {
		if reserved[key] || p.opts.isReserved(key) {
			continue
		}
		filterParams[key] = append([]string(nil), values...)
	}

	sortRaw, hasSort, err := single(params, names.Sort)
	if err != nil {
		return nil, err
	}
	limitRaw, hasLimit, err := single(params, names.Limit)
	if err != nil {
		return nil, err
	}
	offsetRaw, hasOffset, err := single(params, names.Offset)
	if err != nil {
		return nil, err
	}
	cursorRaw, hasCursor, err := single(params, names.Cursor)
	if err != nil {
		return nil, err
	}
	fieldsRaw, hasFields, err := single(params, names.Fields)
	if err != nil {
		return nil, err
	}
	countRaw, hasCount, err := single(params, names.Count)
	if err != nil {
		return nil, err
	}

	var count bool
	if hasCount {
		if count, err = strconv.ParseBool(countRaw); err != nil {
			return nil, queryerr.InvalidParameterf(names.Count, "must be true or false")
		}
	}
	pageSize := p.opts.DefaultPageSize
	if hasLimit {
		if pageSize, err = p.parseLimit(limitRaw); err != nil {
			return nil, err
		}
	}
	var fieldNames []string
	if hasFields {
		fieldNames = splitList(fieldsRaw)
	}

	st := &State{
		analysis: a,
		mode:     cursor.ModeKeyset,
		distinct: a.Distinct(),
	}

	if hasCursor {
		cur, err := p.decodeCursor(cursorRaw)
		if err != nil {
			return nil, err
		}
		if hasOffset {
			return nil, queryerr.InvalidParameterf(names.Offset, "cannot be combined with a cursor")
		}
		sortKeys, err := p.resolveCursorSort(cur.Sort)
		if err != nil {
			return nil, err
		}
		if hasSort {
			requested, err := p.parseSort(sortRaw)
			if err != nil {
				return nil, err
			}
			if !equalSort(p.completeSort(requested), sortKeys) {
				return nil, queryerr.InvalidParameterf(names.Sort, "conflicts with the sort order recorded in the cursor")
			}
		}
		if len(filterParams) > 0 && !equalParams(filterParams, cur.Filters) {
			return nil, queryerr.InvalidParameterf(names.Cursor, "filter parameters conflict with the filters recorded in the cursor")
		}
		if hasFields && !equalStrings(fieldNames, cur.Fields) {
			return nil, queryerr.InvalidParameterf(names.Fields, "conflicts with the fields recorded in the cursor")
		}
		if hasLimit && pageSize != cur.PageSize {
			return nil, queryerr.InvalidParameterf(names.Limit, "conflicts with the page size recorded in the cursor")
		}
		if hasCount && count != cur.Count {
			return nil, queryerr.InvalidParameterf(names.Count, "conflicts with the cursor")
		}
		if cur.Mode == cursor.ModeOffset && !p.offsetAllowed() {
			return nil, queryerr.InvalidParameterf(names.Cursor, "offset pagination is not enabled for %s", a.Name())
		}

		st.sort = sortKeys
		st.mode = cur.Mode
		st.offset = cur.Offset
		st.backward = cur.Backward
		st.pageSize = min(cur.PageSize, p.opts.MaxPageSize)
		st.wantCount = cur.Count
		st.knownTotal = cur.Total
		if st.position, err = p.parsePosition(sortKeys, cur.Values); err != nil {
			return nil, err
		}
		filterParams = copyParams(cur.Filters)
		fieldNames = append([]string(nil), cur.Fields...)
	} else {
		var requested []SortKey
		if hasSort {
			if requested, err = p.parseSort(sortRaw); err != nil {
				return nil, err
			}
		}
		st.sort = p.completeSort(requested)
		st.pageSize = pageSize
		st.wantCount = count
		if hasOffset {
			if !p.offsetAllowed() {
				return nil, queryerr.InvalidParameterf(names.Offset, "offset pagination is not enabled for %s", a.Name())
			}
			offset, err := strconv.Atoi(offsetRaw)
			if err != nil || offset < 0 {
				return nil, queryerr.InvalidParameterf(names.Offset, "must be a non-negative integer")
			}
			st.mode = cursor.ModeOffset
			st.offset = offset
		}
	}

	if st.filter, err = p.buildFilter(filterParams); err != nil {
		return nil, err
	}
	if st.projection, err = p.buildProjection(fieldNames); err != nil {
		return nil, err
	}
	st.filterParams = filterParams
	st.fieldNames = fieldNames
	return st, nil
}

func (p *parser) offsetAllowed() bool {
	return p.opts.AllowOffset || p.a.AllowOffset()
}

func (p *parser) decodeCursor(raw string) (cursor.Cursor, error) {
	if p.opts.Codec == nil {
		return cursor.Cursor{}, queryerr.Configurationf(p.a.Name(), "no cursor codec configured")
	}
	cur, err := p.opts.Codec.Decode(raw)
	if err != nil {
		return cursor.Cursor{}, err
	}
	if cur.Entity != p.a.Name() {
		return cursor.Cursor{}, queryerr.InvalidParameterf(p.opts.Names.Cursor, "cursor was issued for a different resource")
	}
	return cur, nil
}

func (p *parser) parseLimit(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, queryerr.InvalidParameterf(p.opts.Names.Limit, "must be a positive integer")
	}
	return min(n, p.opts.MaxPageSize), nil
}

// parsePosition re-parses cursor literals with the current field types.
func (p *parser) parsePosition(keys []SortKey, values []*string) ([]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]any, len(values))
	for i, raw := range values {
		if raw == nil {
			continue
		}
		v, err := keys[i].Field.ParseLiteral(*raw)
		if err != nil {
			return nil, &queryerr.InvalidParameterError{
				Parameter: p.opts.Names.Cursor,
				Message:   "cursor value for " + keys[i].Field.ExternalName + " no longer matches the field type",
				Err:       err,
			}
		}
		out[i] = v
	}
	return out, nil
}

func (p *parser) buildProjection(names []string) ([]*analysis.QueryField, error) {
	if len(names) == 0 {
		return p.a.AllSelectableFields(), nil
	}
	param := p.opts.Names.Fields
	seen := make(map[*analysis.QueryField]bool, len(names))
	out := make([]*analysis.QueryField, 0, len(names))
	for _, name := range names {
		field, err := p.a.LookupExternal(name)
		if err != nil {
			return nil, &queryerr.InvalidParameterError{Parameter: param, Value: name, Message: "unknown field", Err: err}
		}
		if !field.Selectable {
			return nil, queryerr.InvalidParameterf(param, "field %s cannot be selected", name)
		}
		if seen[field] {
			return nil, queryerr.InvalidParameterf(param, "field %s is listed more than once", name)
		}
		seen[field] = true
		out = append(out, field)
	}
	return out, nil
}

func single(params url.Values, name string) (string, bool, error) {
	values, ok := params[name]
	if !ok {
		return "", false, nil
	}
	if len(values) != 1 {
		return "", false, queryerr.InvalidParameterf(name, "must be given exactly once")
	}
	if values[0] == "" {
		return "", false, queryerr.InvalidParameterf(name, "value must not be empty")
	}
	return values[0], true, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalParams(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !equalStrings(av, bv) {
			return false
		}
	}
	return true
}

func copyParams(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Analysis returns the analysis the state was parsed against.
func (s *State) Analysis() *analysis.EntityAnalysis { return s.analysis }

// Filter returns the predicate tree, nil when nothing filters the rows.
func (s *State) Filter() *Condition { return s.filter }

// Sort returns the total ordering, primary key tie-break included.
func (s *State) Sort() []SortKey { return append([]SortKey(nil), s.sort...) }

// Projection returns the fields the client asked for.
func (s *State) Projection() []*analysis.QueryField {
	return append([]*analysis.QueryField(nil), s.projection...)
}

// SelectFields returns the projection plus any sort field it lacks.
// Sort values are needed to build cursors.
func (s *State) SelectFields() []*analysis.QueryField {
	out := s.Projection()
	present := make(map[*analysis.QueryField]bool, len(out))
	for _, f := range out {
		present[f] = true
	}
	for _, k := range s.sort {
		if !present[k.Field] {
			present[k.Field] = true
			out = append(out, k.Field)
		}
	}
	return out
}

// PageSize returns the number of rows per page.
func (s *State) PageSize() int { return s.pageSize }

// Offset returns the row offset; always 0 in keyset mode.
func (s *State) Offset() int { return s.offset }

// Mode returns the paging strategy.
func (s *State) Mode() cursor.Mode { return s.mode }

// Position returns the keyset boundary values, nil on a first page.
func (s *State) Position() []any { return append([]any(nil), s.position...) }

// Backward reports whether the page precedes Position.
func (s *State) Backward() bool { return s.backward }

// Distinct reports whether rows are deduplicated.
func (s *State) Distinct() bool { return s.distinct }

// WantCount reports whether a total count is requested.
func (s *State) WantCount() bool { return s.wantCount }

// KnownTotal returns the total carried by the cursor, if any.
func (s *State) KnownTotal() (int64, bool) {
	if s.knownTotal == nil {
		return 0, false
	}
	return *s.knownTotal, true
}

// CursorTemplate returns a cursor describing this request with no position.
// Callers set Values, Backward, Offset and Total for the page they link to.
func (s *State) CursorTemplate() cursor.Cursor {
	var filters map[string][]string
	if len(s.filterParams) > 0 {
		filters = copyParams(s.filterParams)
	}
	var fields []string
	if len(s.fieldNames) > 0 {
		fields = append([]string(nil), s.fieldNames...)
	}
	return cursor.Cursor{
		Entity:   s.analysis.Name(),
		Mode:     s.mode,
		Sort:     snapshotSort(s.sort),
		PageSize: s.pageSize,
		Filters:  filters,
		Fields:   fields,
		Count:    s.wantCount,
		Total:    s.knownTotal,
	}
}
