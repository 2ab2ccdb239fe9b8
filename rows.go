package dbpool

// RowSet is a fully materialized query result. Rows never reference the
// connection they were read from, so the connection can be released before
// the caller looks at them.
type RowSet struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Map returns row i keyed by column name.
func (rs *RowSet) Map(i int) map[string]interface{} {
	row := rs.Rows[i]
	m := make(map[string]interface{}, len(rs.Columns))
	for j, col := range rs.Columns {
		if j < len(row) {
			m[col] = row[j]
		}
	}
	return m
}

// Request describes one statement for Execute.
type Request struct {
	Query string
	// Args holds positional values and NamedArg values.
	Args []interface{}
	// Fetch requests the result rows; otherwise only the row count is
	// returned.
	Fetch bool
}

// Result is what Execute returns: Rows when the request fetched rows,
// RowsAffected otherwise.
type Result struct {
	Rows         *RowSet
	RowsAffected int64
}
