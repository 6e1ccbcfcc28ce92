// Package errors provides structured error handling for searchsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Backend transport errors
//   - 3XX: Indexing, provisioning and query errors
//   - 4XX: Caller contract violations
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryBackend indicates the search backend could not be reached or refused a request.
	CategoryBackend Category = "BACKEND"
	// CategoryIndexing indicates a provisioning, document or query operation failed.
	CategoryIndexing Category = "INDEXING"
	// CategoryContract indicates the caller handed the engine something it must not.
	CategoryContract Category = "CONTRACT"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeNoHosts        = "ERR_103_NO_HOSTS"
	ErrCodeInvalidHost    = "ERR_104_INVALID_HOST"

	// Backend errors (200-299)
	ErrCodeBackendUnreachable = "ERR_201_BACKEND_UNREACHABLE"
	ErrCodeBackendTimeout     = "ERR_202_BACKEND_TIMEOUT"
	ErrCodeBackendRejected    = "ERR_203_BACKEND_REJECTED"
	ErrCodeProtocol           = "ERR_204_PROTOCOL"
	ErrCodeCircuitOpen        = "ERR_205_CIRCUIT_OPEN"

	// Indexing errors (300-399)
	ErrCodeProvisionFailed = "ERR_301_PROVISION_FAILED"
	ErrCodeIndexFailed     = "ERR_302_INDEX_FAILED"
	ErrCodeDeleteFailed    = "ERR_303_DELETE_FAILED"
	ErrCodeQueryFailed     = "ERR_304_QUERY_FAILED"
	ErrCodeHydrateFailed   = "ERR_305_HYDRATE_FAILED"
	ErrCodeDrainIncomplete = "ERR_306_DRAIN_INCOMPLETE"

	// Contract errors (400-499)
	ErrCodeWrongKind      = "ERR_401_WRONG_KIND"
	ErrCodeNotSearchable  = "ERR_402_NOT_SEARCHABLE"
	ErrCodeUnknownHandler = "ERR_403_UNKNOWN_HANDLER"
	ErrCodeUnmappedType   = "ERR_404_UNMAPPED_TYPE"
	ErrCodeInvalidQuery   = "ERR_405_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal    = "ERR_501_INTERNAL"
	ErrCodeStoreFailed = "ERR_502_STORE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryBackend
	case '3':
		return CategoryIndexing
	case '4':
		return CategoryContract
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid, ErrCodeNoHosts, ErrCodeInvalidHost,
		ErrCodeWrongKind, ErrCodeUnknownHandler:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a later attempt of the same call may succeed.
// Nothing in the write path retries automatically; callers decide.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendUnreachable, ErrCodeBackendTimeout, ErrCodeCircuitOpen:
		return true
	default:
		return false
	}
}
