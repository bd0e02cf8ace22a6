package postgres

import (
	"context"
	"errors"
	"io"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/denwal/poolgate/internal/errs"
)

// PostgreSQL SQLSTATE codes that matter to the pool lifecycle.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrAdminShutdown    = "57P01"
	pgErrCrashShutdown    = "57P02"
	pgErrCannotConnectNow = "57P03"
	pgErrTooManyConns     = "53300"
)

// mapError translates errors from an established pool into *errs.Error.
// Server shutdowns and severed sockets surface as connection resets so
// callers can demote the pool rather than blame the query.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// No rows
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case isResetState(pgErr.Code):
			return errs.Wrap(errs.ErrKindConnectionReset, msg+": "+pgErr.Message, err)
		case pgErr.Code == pgErrTooManyConns:
			return errs.Wrap(errs.ErrKindUnavailable, msg+": "+pgErr.Message, err)
		default:
			return errs.Wrap(errs.ErrKindQueryFailed, msg+": "+pgErr.Message, err)
		}
	}

	// Socket-level failures on a previously live connection
	if isNetReset(err) {
		return errs.Wrap(errs.ErrKindConnectionReset, msg, err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// mapConnectError classifies failures while establishing the pool.
// Everything here is a connect failure; a deadline keeps its own kind so
// a slow host and a refusing host log differently.
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

// isResetState reports whether a SQLSTATE code means the connection (or
// the server behind it) went away: class 08, admin/crash shutdown, or a
// server that is up but refusing sessions.
func isResetState(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case pgErrAdminShutdown, pgErrCrashShutdown, pgErrCannotConnectNow:
		return true
	}
	return false
}

// isNetReset reports whether err is a severed-socket failure. pgconn does
// not always expose a typed cause, so the message checks cover what the
// wrapped syscall errors miss.
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
