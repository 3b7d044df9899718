package types

// Row is an ordered column-name -> Value mapping for a single table row.
// Order matters: SchemaAdapter.TargetColumns(name) defines the canonical
// column order used to build positional bind arguments for the warehouse
// upsert statement (spec §4.6).
type Row struct {
	columns []string
	values  map[string]Value
}

// NewRow builds a Row preserving the given column order.
func NewRow(columns []string) *Row {
	return &Row{
		columns: columns,
		values:  make(map[string]Value, len(columns)),
	}
}

// Set assigns a value to a column. The column must have been declared in
// NewRow's column list; Set on an undeclared column appends it, keeping the
// type usable for ad hoc construction in tests.
func (r *Row) Set(column string, v Value) {
	if _, ok := r.values[column]; !ok {
		declared := false
		for _, c := range r.columns {
			if c == column {
				declared = true
				break
			}
		}
		if !declared {
			r.columns = append(r.columns, column)
		}
	}
	r.values[column] = v
}

// Get returns the value for a column, or the zero Value (Null) if absent.
func (r *Row) Get(column string) Value {
	v, ok := r.values[column]
	if !ok {
		return Null()
	}
	return v
}

// Columns returns the row's column names in declared order.
func (r *Row) Columns() []string {
	return r.columns
}

// OrderedValues returns the row's values in the column order supplied at
// construction, suitable for binding as positional arguments.
func (r *Row) OrderedValues() []interface{} {
	out := make([]interface{}, len(r.columns))
	for i, c := range r.columns {
		out[i] = r.values[c].Native()
	}
	return out
}

// Len reports the number of columns in the row.
func (r *Row) Len() int { return len(r.columns) }
