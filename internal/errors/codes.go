// Package errors provides the structured error taxonomy used across zepindex.
//
// Codes follow the pattern ERR_XNN_NAME where X is the category digit:
//   - 1: configuration (backend layout, config files)
//   - 2: local storage (index files, rebuild state)
//   - 3: connectivity to the queue, backends and canonical store
//   - 4: caller input (tasks, filters, saved search ids)
//   - 5: internal failures
package errors

// Category classifies an error for logging and HTTP status mapping.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity says whether the process can keep going.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

const (
	ErrCodeConfigNotFound         = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid          = "ERR_102_CONFIG_INVALID"
	ErrCodeDuplicateBackend       = "ERR_103_DUPLICATE_BACKEND"
	ErrCodeNoEnabledBackend       = "ERR_104_NO_ENABLED_BACKEND"
	ErrCodeInvalidBackendID       = "ERR_105_INVALID_BACKEND_ID"
	ErrCodeBackendRegisteredTwice = "ERR_106_BACKEND_REGISTERED_TWICE"

	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeFileCorrupt  = "ERR_206_FILE_CORRUPT"

	ErrCodeQueueUnavailable   = "ERR_301_QUEUE_UNAVAILABLE"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeStoreUnavailable   = "ERR_303_STORE_UNAVAILABLE"

	ErrCodeInvalidInput        = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidTask         = "ERR_402_INVALID_TASK"
	ErrCodeInvalidQuery        = "ERR_403_INVALID_QUERY"
	ErrCodeSavedSearchNotFound = "ERR_404_SAVED_SEARCH_NOT_FOUND"
	ErrCodeInvalidRange        = "ERR_405_INVALID_RANGE"
	ErrCodeUnindexedDetail     = "ERR_406_UNINDEXED_DETAIL"
	ErrCodeInvalidTimeout      = "ERR_407_INVALID_TIMEOUT"

	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeOutOfMemory   = "ERR_502_OUT_OF_MEMORY"
	ErrCodeSearchFailed  = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed   = "ERR_504_INDEX_FAILED"
	ErrCodeRebuildFailed = "ERR_505_REBUILD_FAILED"
)

func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDuplicateBackend, ErrCodeNoEnabledBackend,
		ErrCodeInvalidBackendID, ErrCodeBackendRegisteredTwice:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// Connectivity failures are picked up again by the next grabber or rebuilder tick.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeQueueUnavailable, ErrCodeBackendUnavailable, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
