package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an underlying transport error
	cause := errors.New("connection refused")

	// When: wrapping it
	err := New(ErrCodeBackendUnreachable, "node 127.0.0.1:9300 unreachable", cause)

	// Then: the chain still reaches the cause
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestSyncError_Error_Format(t *testing.T) {
	tests := []struct {
		name     string
		err      *SyncError
		expected string
	}{
		{
			name:     "no cause",
			err:      New(ErrCodeNoHosts, "no hosts provided", nil),
			expected: "[ERR_103_NO_HOSTS] no hosts provided",
		},
		{
			name:     "cause differs",
			err:      New(ErrCodeIndexFailed, "index article/1", errors.New("boom")),
			expected: "[ERR_302_INDEX_FAILED] index article/1: boom",
		},
		{
			name:     "wrapped keeps message once",
			err:      Wrap(ErrCodeInternal, errors.New("boom")),
			expected: "[ERR_501_INTERNAL] boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestSyncError_Is_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", New(ErrCodeWrongKind, "payload is not a model", nil))

	assert.True(t, HasCode(err, ErrCodeWrongKind))
	assert.False(t, HasCode(err, ErrCodeNotSearchable))
	assert.Equal(t, ErrCodeWrongKind, GetCode(err))
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{ErrCodeBackendTimeout, CategoryBackend, SeverityWarning, true},
		{ErrCodeCircuitOpen, CategoryBackend, SeverityWarning, true},
		{ErrCodeIndexFailed, CategoryIndexing, SeverityError, false},
		{ErrCodeUnknownHandler, CategoryContract, SeverityFatal, false},
		{ErrCodeStoreFailed, CategoryInternal, SeverityError, false},
		{"bogus", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "x", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsFatal_OnlyForSyncErrors(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("x: %w", ConfigError("bad", nil))))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestWrap_NilStaysNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeNoHosts, "no hosts provided", nil).
		WithSuggestion("set backend.hosts or backend.local: true")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: no hosts provided")
	assert.Contains(t, out, "Hint: set backend.hosts")
	assert.Contains(t, out, "Code: ERR_103_NO_HOSTS")
	assert.Contains(t, FormatForCLI(errors.New("plain")), "ERR_501_INTERNAL")
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs_IncludesDetails(t *testing.T) {
	err := New(ErrCodeIndexFailed, "index failed", nil).
		WithDetail("kind", "article").
		WithDetail("id", "7")

	attrs := LogAttrs(err)

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"error", "error_code", "category", "retryable", "detail_id", "detail_kind"}, keys)
	assert.Len(t, LogAttrs(errors.New("plain")), 1)
}
