package database

import (
	"errors"

	"github.com/denwal/poolgate/internal/errs"
)

// Field describes one column of a result set.
type Field struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
}

// Result is a fully materialized result set, ready for JSON encoding.
type Result struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
	Fields   []Field          `json:"fields"`
}

// Collect reads all rows from the result set and returns them as a Result,
// where each row maps column name to the Go-native representation of the
// DB value.
//
// Rows and Fields are always non-nil (empty on zero rows / zero columns).
// Collect always closes the Rows — callers do not need to call Close().
func Collect(rows Rows) (*Result, error) {
	defer rows.Close()

	fields := rows.Fields()
	if fields == nil {
		fields = []Field{}
	}

	result := &Result{
		Rows:   make([]map[string]any, 0),
		Fields: fields,
	}

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(fields))
		destPtrs := make([]any, len(fields))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, ensureKind(err, "failed to scan row")
		}

		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = NormalizeValue(dest[i])
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, ensureKind(err, "error during row iteration")
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// ensureKind keeps driver-classified errors intact so callers can react
// to their kind; unclassified ones become plain query failures.
func ensureKind(err error, msg string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// NormalizeValue converts driver-specific scan results into engine-neutral
// values. database/sql hands text columns back as []byte; encoding them
// raw would produce base64 in JSON, and pgx would bind them as bytea when
// they travel on to another database.
func NormalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
