package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denwal/poolgate/internal/errs"
)

// fakeRows is an in-memory Rows implementation for exercising Collect.
type fakeRows struct {
	fields  []Field
	data    [][]any
	idx     int
	iterErr error
	scanErr error
	closed  bool
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Fields() []Field { return r.fields }
func (r *fakeRows) Close()          { r.closed = true }
func (r *fakeRows) Err() error      { return r.iterErr }

func TestCollect(t *testing.T) {
	rows := &fakeRows{
		fields: []Field{{Name: "id", DataType: "int4"}, {Name: "name", DataType: "text"}},
		data: [][]any{
			{int64(1), "ada"},
			{int64(2), "grace"},
		},
	}

	result, err := Collect(rows)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, int64(1), result.Rows[0]["id"])
	assert.Equal(t, "ada", result.Rows[0]["name"])
	assert.Equal(t, "grace", result.Rows[1]["name"])
	assert.Equal(t, rows.fields, result.Fields)
	assert.True(t, rows.closed, "Collect must close the rows")
}

func TestCollect_Empty(t *testing.T) {
	rows := &fakeRows{fields: []Field{{Name: "id", DataType: "int4"}}}

	result, err := Collect(rows)
	require.NoError(t, err)

	assert.Equal(t, 0, result.RowCount)
	assert.NotNil(t, result.Rows, "Rows must be non-nil on zero rows")
	assert.NotNil(t, result.Fields)
	assert.True(t, rows.closed)
}

func TestCollect_NormalizesBytes(t *testing.T) {
	// database/sql surfaces text columns as []byte; the JSON layer must
	// see them as strings, not base64.
	rows := &fakeRows{
		fields: []Field{{Name: "name", DataType: "VARCHAR"}},
		data:   [][]any{{[]byte("ada")}},
	}

	result, err := Collect(rows)
	require.NoError(t, err)
	assert.Equal(t, "ada", result.Rows[0]["name"])
}

func TestCollect_ScanError(t *testing.T) {
	rows := &fakeRows{
		fields:  []Field{{Name: "id", DataType: "int4"}},
		data:    [][]any{{int64(1)}},
		scanErr: errors.New("type mismatch"),
	}

	_, err := Collect(rows)
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.True(t, rows.closed, "Collect must close the rows on error")
}

func TestCollect_IterationError(t *testing.T) {
	rows := &fakeRows{
		fields:  []Field{{Name: "id", DataType: "int4"}},
		iterErr: errors.New("connection reset by peer"),
	}

	_, err := Collect(rows)
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.True(t, rows.closed)
}

func TestCollect_KeepsClassifiedErrors(t *testing.T) {
	// Drivers classify their own failures; Collect must not mask a reset
	// behind a generic query failure, or the lifecycle layer would never
	// hear about the dead connection.
	rows := &fakeRows{
		fields:  []Field{{Name: "id", DataType: "int4"}},
		iterErr: errs.Wrap(errs.ErrKindConnectionReset, "connection reset", errors.New("read tcp: connection reset by peer")),
	}

	_, err := Collect(rows)
	require.Error(t, err)
	assert.True(t, errs.IsConnectionReset(err))
	assert.False(t, errs.IsQueryFailed(err))
}
