package postgres

import (
	"context"
	"fmt"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
)

// The batch copier discovers tables and conflict keys through these
// queries. All introspection is scoped to the public schema.

// ListTables returns all user-defined base table names, sorted.
func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := d.pool.Query(ctx, q)
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
func (d *Driver) InspectTable(ctx context.Context, table string) (*database.Table, error) {
	columns, err := d.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errs.New(errs.ErrKindNotFound, fmt.Sprintf("table %q not found", table))
	}

	pks, err := d.fetchPrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}

	pkSet := make(map[string]bool, len(pks))
	for _, pk := range pks {
		pkSet[pk] = true
	}
	for i := range columns {
		columns[i].PrimaryKey = pkSet[columns[i].Name]
	}

	return &database.Table{
		Name:       table,
		Columns:    columns,
		PrimaryKey: pks,
	}, nil
}

func (d *Driver) fetchColumns(ctx context.Context, table string) ([]database.Column, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_default
		FROM information_schema.columns
		WHERE table_schema = 'public'
		  AND table_name   = $1
		ORDER BY ordinal_position`

	rows, err := d.pool.Query(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []database.Column
	for rows.Next() {
		var c database.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}
	return cols, nil
}

// fetchPrimaryKey returns the primary key columns in ordinal order.
func (d *Driver) fetchPrimaryKey(ctx context.Context, table string) ([]string, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema    = 'public'
		  AND tc.table_name      = $1
		ORDER BY kcu.ordinal_position`

	rows, err := d.pool.Query(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch primary key")
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err, "failed to scan primary key column")
		}
		pks = append(pks, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating primary key")
	}
	return pks, nil
}
