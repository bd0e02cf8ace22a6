package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrKind_String(t *testing.T) {
	tests := []struct {
		kind ErrKind
		want string
	}{
		{ErrKindUnknown, "unknown"},
		{ErrKindNotFound, "not_found"},
		{ErrKindConfigMissing, "config_missing"},
		{ErrKindConnectionFailed, "connection_failed"},
		{ErrKindConnectionReset, "connection_reset"},
		{ErrKindTimeout, "timeout"},
		{ErrKindQueryFailed, "query_failed"},
		{ErrKindInvalidInput, "invalid_input"},
		{ErrKindUnavailable, "unavailable"},
		{ErrKindPermissionDenied, "permission_denied"},
		{ErrKind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrKindUnavailable, "database not connected"),
			want: "[unavailable] database not connected",
		},
		{
			name: "with cause",
			err:  Wrap(ErrKindConnectionReset, "connection lost", errors.New("broken pipe")),
			want: "[connection_reset] connection lost: broken pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(ErrKindConnectionFailed, "connect failed", cause)

	assert.True(t, errors.Is(err, cause))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ErrKindConnectionFailed, e.Kind)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"not found matches", New(ErrKindNotFound, "no rows"), IsNotFound, true},
		{"config missing matches", New(ErrKindConfigMissing, "no db config"), IsConfigMissing, true},
		{"connection failed matches", New(ErrKindConnectionFailed, "refused"), IsConnectionFailed, true},
		{"connection reset matches", New(ErrKindConnectionReset, "reset"), IsConnectionReset, true},
		{"timeout matches", New(ErrKindTimeout, "deadline"), IsTimeout, true},
		{"query failed matches", New(ErrKindQueryFailed, "syntax"), IsQueryFailed, true},
		{"invalid input matches", New(ErrKindInvalidInput, "empty text"), IsInvalidInput, true},
		{"unavailable matches", New(ErrKindUnavailable, "not connected"), IsUnavailable, true},
		{"permission denied matches", New(ErrKindPermissionDenied, "denied"), IsPermissionDenied, true},
		{"reset is not connect failure", New(ErrKindConnectionReset, "reset"), IsConnectionFailed, false},
		{"plain error matches nothing", errors.New("plain"), IsTimeout, false},
		{"nil matches nothing", nil, IsUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred(tt.err))
		})
	}
}

func TestPredicates_WrappedChain(t *testing.T) {
	// Predicates must see through fmt.Errorf %w wrapping.
	inner := Wrap(ErrKindConnectionReset, "connection lost", errors.New("EOF"))
	outer := fmt.Errorf("query users: %w", inner)

	assert.True(t, IsConnectionReset(outer))
	assert.False(t, IsQueryFailed(outer))
}
