package database

// Column describes a single column in a table.
type Column struct {
	Name       string
	DataType   string
	Nullable   bool
	Default    *string
	PrimaryKey bool
}

// Table describes a table, its columns, and its primary key.
// PrimaryKey lists the key columns in ordinal order; it is empty for
// tables without one.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// ColumnNames returns the names of all columns in definition order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasPrimaryKey reports whether the table has any primary key columns.
// Tables without one cannot be written idempotently and are skipped by
// the batch copier.
func (t *Table) HasPrimaryKey() bool {
	return len(t.PrimaryKey) > 0
}
