package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/denwal/poolgate/internal/errs"
)

// MySQL server error numbers the pool lifecycle cares about.
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errServerShutdown   = 1053 // server shutdown in progress
	errConnectionKilled = 1927 // connection was killed
	errTooManyConns     = 1040
	errAccessDenied     = 1045
	errUnknownDatabase  = 1049
	errBadField         = 1054
	errDuplicateEntry   = 1062
	errSyntax           = 1064
	errNoSuchTable      = 1146
)

// mapError translates errors from an established pool into *errs.Error.
// A killed or shut-down session surfaces as a connection reset so callers
// can demote the pool rather than blame the query.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// database/sql retries ErrBadConn internally; seeing it here means the
	// pool handed us a dead connection it could not replace.
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, gomysql.ErrInvalidConn) {
		return errs.Wrap(errs.ErrKindConnectionReset, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyServerError(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	if isNetReset(err) {
		return errs.Wrap(errs.ErrKindConnectionReset, msg, err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// mapConnectError classifies failures while establishing the pool.
func mapConnectError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if errors.As(err, &e) {
		// already classified by mapError during the validation ping
		if e.Kind == errs.ErrKindConnectionReset {
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg+" timed out", err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// mapAcquireError classifies pool checkout failures. A context deadline
// here means the pool is exhausted or the dial is slow — callers must be
// able to tell this apart from a failed connect sequence.
func mapAcquireError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, "timed out acquiring connection from pool", err)
	}
	return mapError(err, "acquire connection")
}

// classifyServerError maps MySQL error numbers to error kinds.
func classifyServerError(code uint16) errs.ErrKind {
	switch code {
	case errServerShutdown, errConnectionKilled:
		return errs.ErrKindConnectionReset
	case errTooManyConns:
		return errs.ErrKindUnavailable
	case errAccessDenied, errUnknownDatabase:
		return errs.ErrKindConnectionFailed
	case errBadField, errDuplicateEntry, errSyntax, errNoSuchTable:
		return errs.ErrKindQueryFailed
	default:
		return errs.ErrKindQueryFailed
	}
}

// isNetReset reports whether err is a severed-socket failure.
func isNetReset(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "unexpected EOF") ||
		strings.Contains(s, "closed network connection")
}
