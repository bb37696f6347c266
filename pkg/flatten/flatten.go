// Package flatten turns decoded JSON entries into candidate rows.
//
// Flattening is a pure transform: no I/O, no store access. Each top-level
// entry yields zero or more rows depending on whether a nested child
// collection is configured and on the table's shaping policy.
package flatten

import (
	"sort"

	"github.com/MarwaAbuEssa/pg-json-import/pkg/config"
	"github.com/MarwaAbuEssa/pg-json-import/pkg/policy"
)

// Row is a candidate relational row: column name to value. Values may still
// be nested JSON structures at this stage; the coercion stage reduces them
// to scalars.
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get resolves a dotted path ("settings.studio_owner") against the row,
// descending through nested objects by exact field name.
func (r Row) Get(path string) (interface{}, bool) {
	return lookupPath(map[string]interface{}(r), path)
}

// Find performs a depth-first search for the first value stored under the
// given field name anywhere in the row, own fields first.
func (r Row) Find(name string) (interface{}, bool) {
	return deepFind(map[string]interface{}(r), name)
}

// Flatten produces the rows for one decoded (key, value) entry.
//
// Without a configured child collection the entry maps to exactly one row:
// the value's own fields plus the primary-key column holding the entry key.
// With a child collection, each child entry becomes one row shaped by the
// table policy, carrying the parent's fields (minus the child collection
// itself) and the synthetic foreign-key column holding the child key.
// Parents with no child collection are dropped unless the policy keeps them.
func Flatten(key string, value interface{}, cfg *config.ImportConfig, pol policy.TablePolicy) []Row {
	fields, _ := value.(map[string]interface{})

	if !cfg.ExpandsChildren() {
		row := make(Row, len(fields)+1)
		for k, v := range fields {
			row[k] = v
		}
		row[cfg.KeyColumn] = key
		return []Row{row}
	}

	childValue, present := fields[cfg.RelatedTable]
	parent := parentRow(key, fields, cfg)

	if !present {
		if pol.EmitParentWithoutChildren {
			return []Row{parent}
		}
		return nil
	}

	children, ok := childValue.(map[string]interface{})
	if !ok {
		// A non-object child collection carries nothing to expand.
		if pol.EmitParentWithoutChildren {
			return []Row{parent}
		}
		return nil
	}

	rows := make([]Row, 0, len(children))
	for _, childKey := range sortedKeys(children) {
		row := parent.Clone()
		row[cfg.ForeignKeyColumn] = childKey
		shapeChild(row, children[childKey], pol)
		rows = append(rows, row)
	}
	return rows
}

// parentRow copies the entry's fields, drops the child collection so it
// never leaks into an output row, and sets the primary-key column.
func parentRow(key string, fields map[string]interface{}, cfg *config.ImportConfig) Row {
	row := make(Row, len(fields)+1)
	for k, v := range fields {
		if k == cfg.RelatedTable {
			continue
		}
		row[k] = v
	}
	row[cfg.KeyColumn] = key
	return row
}

// shapeChild merges one child value into the row per the shaping policy.
func shapeChild(row Row, childValue interface{}, pol policy.TablePolicy) {
	if pol.ChildShaping == policy.ShapeKeyValue {
		row[pol.ScalarValueColumn] = childValue
		return
	}

	childFields, ok := childValue.(map[string]interface{})
	if !ok {
		// Scalar child: only the key/value pair survives.
		row[pol.ScalarValueColumn] = childValue
		return
	}
	for k, v := range childFields {
		row[k] = v
	}
}

func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	current := interface{}(m)
	start := 0
	for start <= len(path) {
		end := indexDot(path, start)
		segment := path[start:end]
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
		if end == len(path) {
			return current, true
		}
		start = end + 1
	}
	return nil, false
}

func indexDot(s string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return len(s)
}

func deepFind(m map[string]interface{}, name string) (interface{}, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for _, k := range sortedKeys(m) {
		switch child := m[k].(type) {
		case map[string]interface{}:
			if v, ok := deepFind(child, name); ok {
				return v, true
			}
		case []interface{}:
			for _, elem := range child {
				if obj, ok := elem.(map[string]interface{}); ok {
					if v, ok := deepFind(obj, name); ok {
						return v, true
					}
				}
			}
		}
	}
	return nil, false
}

// sortedKeys keeps child iteration deterministic; the decoder's document
// order is lost once the entry is materialized as a map.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
