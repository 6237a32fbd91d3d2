package request

import (
	"fmt"
	"strings"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/queryerr"
)

// SortKey is one resolved ordering key.
type SortKey struct {
	Field      *analysis.QueryField
	Descending bool
}

// parseSort reads "a,-b" or "a:ASC,b:DESC". The primary key tie-break is not added here.
func (p *parser) parseSort(raw string) ([]SortKey, error) {
	param := p.opts.Names.Sort
	var keys []SortKey
	seen := make(map[*analysis.QueryField]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, queryerr.InvalidParameterf(param, "empty sort entry in %q", raw)
		}
		name, desc, err := splitSortEntry(entry)
		if err != nil {
			return nil, queryerr.InvalidParameterf(param, "%v", err)
		}
		field, err := p.a.LookupExternal(name)
		if err != nil {
			return nil, &queryerr.InvalidParameterError{Parameter: param, Value: name, Message: "unknown sort field", Err: err}
		}
		if !field.Selectable {
			return nil, queryerr.InvalidParameterf(param, "field %s cannot be sorted by", name)
		}
		if seen[field] {
			return nil, queryerr.InvalidParameterf(param, "field %s is listed more than once", name)
		}
		seen[field] = true
		keys = append(keys, SortKey{Field: field, Descending: desc})
	}
	return keys, nil
}

func splitSortEntry(entry string) (string, bool, error) {
	if strings.HasPrefix(entry, "-") {
		return entry[1:], true, nil
	}
	if idx := strings.LastIndex(entry, ":"); idx > 0 {
		switch strings.ToUpper(entry[idx+1:]) {
		case "ASC":
			return entry[:idx], false, nil
		case "DESC":
			return entry[:idx], true, nil
		default:
			return "", false, fmt.Errorf("sort direction must be ASC or DESC in %q", entry)
		}
	}
	return entry, false, nil
}

// completeSort applies the entity default when keys is empty and appends the
// primary key so the order is total.
func (p *parser) completeSort(keys []SortKey) []SortKey {
	if len(keys) == 0 {
		for _, term := range p.a.DefaultSort() {
			keys = append(keys, SortKey{Field: term.Field, Descending: term.Descending})
		}
	}
	present := make(map[*analysis.QueryField]bool, len(keys))
	for _, k := range keys {
		present[k.Field] = true
	}
	out := append([]SortKey(nil), keys...)
	for _, pk := range p.a.PrimaryKey() {
		if !present[pk] {
			out = append(out, SortKey{Field: pk})
		}
	}
	return out
}

// resolveCursorSort maps a cursor's sort snapshot back onto the current fields.
func (p *parser) resolveCursorSort(snapshot []cursor.SortKey) ([]SortKey, error) {
	keys := make([]SortKey, 0, len(snapshot))
	seen := make(map[*analysis.QueryField]bool)
	for _, k := range snapshot {
		field, err := p.a.LookupExternal(k.Field)
		if err != nil {
			return nil, &queryerr.InvalidParameterError{
				Parameter: p.opts.Names.Cursor,
				Message:   "cursor sorts by a field that no longer exists",
				Err:       err,
			}
		}
		if !field.Selectable || seen[field] {
			return nil, queryerr.InvalidParameterf(p.opts.Names.Cursor, "cursor sort on %s is no longer valid", k.Field)
		}
		seen[field] = true
		keys = append(keys, SortKey{Field: field, Descending: k.Descending})
	}
	if len(p.completeSort(keys)) != len(keys) {
		return nil, queryerr.InvalidParameterf(p.opts.Names.Cursor, "cursor sort no longer covers the primary key")
	}
	return keys, nil
}

func snapshotSort(keys []SortKey) []cursor.SortKey {
	out := make([]cursor.SortKey, len(keys))
	for i, k := range keys {
		out[i] = cursor.SortKey{Field: k.Field.ExternalName, Descending: k.Descending}
	}
	return out
}

func equalSort(a, b []SortKey) bool {
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
