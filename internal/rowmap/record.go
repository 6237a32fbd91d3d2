package rowmap

import (
	"strings"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/queryerr"
)

// Record is a materialized row keyed by external field names. Dotted names
// such as "equipment.isoEquipmentCode" become nested records.
type Record map[string]any

type recordColumn struct {
	field *analysis.QueryField
	path  []string
}

// RecordMapper materializes Records for one entity.
type RecordMapper struct {
	entity  string
	columns map[string]recordColumn
}

// NewRecordMapper builds the select name table for a. It fails when a field
// name is both a value and the parent of a nested name.
func NewRecordMapper(a *analysis.EntityAnalysis) (*RecordMapper, error) {
	m := &RecordMapper{entity: a.Name(), columns: make(map[string]recordColumn)}
	leaves := make(map[string]bool)
	parents := make(map[string]bool)
	for _, f := range a.AllSelectableFields() {
		path := strings.Split(f.ExternalName, ".")
		for i := 1; i < len(path); i++ {
			parents[strings.Join(path[:i], ".")] = true
		}
		leaves[f.ExternalName] = true
		m.columns[f.SelectName] = recordColumn{field: f, path: path}
	}
	for name := range leaves {
		if parents[name] {
			return nil, queryerr.Configurationf(a.Name(), "field %q is also used as a nested object name", name)
		}
	}
	return m, nil
}

// Materialize coerces each known column to its field type. Unknown columns
// are skipped. A nested record whose values are all NULL becomes nil, which
// is how a LEFT JOIN without a match reads.
func (m *RecordMapper) Materialize(columns []string, values []any) (Record, error) {
	rec := make(Record, len(columns))
	for i, col := range columns {
		rc, ok := m.columns[col]
		if !ok {
			continue
		}
		v, err := rc.field.ValueType.Coerce(values[i])
		if err != nil {
			return nil, &queryerr.DataMappingError{
				Column: col,
				Value:  values[i],
				Target: rc.field.ValueType.String(),
				Err:    err,
			}
		}
		node := rec
		for _, key := range rc.path[:len(rc.path)-1] {
			child, ok := node[key].(Record)
			if !ok {
				child = make(Record)
				node[key] = child
			}
			node = child
		}
		node[rc.path[len(rc.path)-1]] = v
	}
	collapseNulls(rec)
	return rec, nil
}

// collapseNulls replaces all-NULL nested records with nil and reports
// whether rec itself holds only NULLs.
func collapseNulls(rec Record) bool {
	empty := true
	for key, v := range rec {
		if child, ok := v.(Record); ok {
			if collapseNulls(child) {
				rec[key] = nil
				continue
			}
			empty = false
			continue
		}
		if v != nil {
			empty = false
		}
	}
	return empty
}
