package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denwal/poolgate/internal/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			pred: errs.IsTimeout,
		},
		{
			name: "no rows",
			err:  sql.ErrNoRows,
			pred: errs.IsNotFound,
		},
		{
			name: "bad conn from pool",
			err:  driver.ErrBadConn,
			pred: errs.IsConnectionReset,
		},
		{
			name: "invalid connection",
			err:  gomysql.ErrInvalidConn,
			pred: errs.IsConnectionReset,
		},
		{
			name: "server shutdown 1053",
			err:  &gomysql.MySQLError{Number: 1053, Message: "Server shutdown in progress"},
			pred: errs.IsConnectionReset,
		},
		{
			name: "connection killed 1927",
			err:  &gomysql.MySQLError{Number: 1927, Message: "Connection was killed"},
			pred: errs.IsConnectionReset,
		},
		{
			name: "too many connections 1040",
			err:  &gomysql.MySQLError{Number: 1040, Message: "Too many connections"},
			pred: errs.IsUnavailable,
		},
		{
			name: "access denied 1045",
			err:  &gomysql.MySQLError{Number: 1045, Message: "Access denied for user"},
			pred: errs.IsConnectionFailed,
		},
		{
			name: "syntax error 1064",
			err:  &gomysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"},
			pred: errs.IsQueryFailed,
		},
		{
			name: "no such table 1146",
			err:  &gomysql.MySQLError{Number: 1146, Message: "Table 'app.missing' doesn't exist"},
			pred: errs.IsQueryFailed,
		},
		{
			name: "wrapped server error",
			err:  fmt.Errorf("run statement: %w", &gomysql.MySQLError{Number: 1053}),
			pred: errs.IsConnectionReset,
		},
		{
			name: "reset by message text",
			err:  errors.New("read tcp 10.0.0.5:51112->10.0.0.9:3306: connection reset by peer"),
			pred: errs.IsConnectionReset,
		},
		{
			name: "plain dial error falls through to connection failed",
			err:  errors.New("dial tcp 10.0.0.9:3306: connect: connection refused"),
			pred: errs.IsConnectionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapError(tt.err, "op")
			require.Error(t, mapped)
			assert.True(t, tt.pred(mapped), "got %v", mapped)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.NoError(t, mapError(nil, "op"))
	assert.NoError(t, mapConnectError(nil, "op"))
}

func TestMapConnectError_ResetBecomesConnectFailure(t *testing.T) {
	inner := mapError(&gomysql.MySQLError{Number: 1053}, "ping failed")
	err := mapConnectError(inner, "connect to mysql")
	assert.True(t, errs.IsConnectionFailed(err))
}

func TestMapAcquireError_DeadlineIsTimeout(t *testing.T) {
	err := mapAcquireError(context.DeadlineExceeded)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.Contains(t, err.Error(), "acquiring")
}
