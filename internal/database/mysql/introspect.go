package mysql

import (
	"context"
	"fmt"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
)

// The batch copier discovers tables and conflict keys through these
// queries. All introspection is scoped to the connected database.

// ListTables returns all user-defined base table names, sorted.
func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating tables")
	}
	return tables, nil
}

// InspectTable returns column and primary key metadata for one table.
// column_key marks primary key membership; ordinal_position keeps the
// key columns in declaration order.
func (d *Driver) InspectTable(ctx context.Context, table string) (*database.Table, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_default,
		       column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		  AND table_name   = ?
		ORDER BY ordinal_position`

	rows, err := d.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	t := &database.Table{Name: table}
	for rows.Next() {
		var c database.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default, &c.PrimaryKey); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		if c.PrimaryKey {
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}
	if len(t.Columns) == 0 {
		return nil, errs.New(errs.ErrKindNotFound, fmt.Sprintf("table %q not found", table))
	}
	return t, nil
}
