package errors

import (
	"errors"
	"fmt"
)

// ZepError is the structured error returned by every zepindex package.
type ZepError struct {
	// Code is the stable identifier, e.g. "ERR_402_INVALID_TASK".
	Code     string
	Message  string
	Category Category
	Severity Severity

	// Details holds extra context such as the backend id.
	Details map[string]string
	Cause   error

	// Retryable is set for failures a later tick may get past.
	Retryable  bool
	Suggestion string
}

func (e *ZepError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ZepError) Unwrap() error {
	return e.Cause
}

// Is matches another *ZepError by code, so sentinel values work with errors.Is.
func (e *ZepError) Is(target error) bool {
	if t, ok := target.(*ZepError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail records a key/value pair and returns e for chaining.
func (e *ZepError) WithDetail(key, value string) *ZepError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an operator-facing hint.
func (e *ZepError) WithSuggestion(suggestion string) *ZepError {
	e.Suggestion = suggestion
	return e
}

// New builds a ZepError whose category, severity and retry flag derive from code.
func New(code string, message string, cause error) *ZepError {
	return &ZepError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *ZepError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap converts err into a ZepError carrying err's message. Nil stays nil.
func Wrap(code string, err error) *ZepError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func ConfigError(message string, cause error) *ZepError {
	return New(ErrCodeConfigInvalid, message, cause)
}

func IOError(message string, cause error) *ZepError {
	return New(ErrCodeFileNotFound, message, cause)
}

func NetworkError(message string, cause error) *ZepError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

func ValidationError(message string, cause error) *ZepError {
	return New(ErrCodeInvalidInput, message, cause)
}

func InternalError(message string, cause error) *ZepError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first *ZepError in err's chain.
func As(err error) (*ZepError, bool) {
	var ze *ZepError
	if errors.As(err, &ze) {
		return ze, true
	}
	return nil, false
}

// HasCode reports whether any *ZepError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		if ze, ok := err.(*ZepError); ok && ze.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func IsRetryable(err error) bool {
	if ze, ok := As(err); ok {
		return ze.Retryable
	}
	return false
}

func IsFatal(err error) bool {
	if ze, ok := As(err); ok {
		return ze.Severity == SeverityFatal
	}
	return false
}

// GetCode returns the code of the outermost ZepError, or "".
func GetCode(err error) string {
	if ze, ok := As(err); ok {
		return ze.Code
	}
	return ""
}

func GetCategory(err error) Category {
	if ze, ok := As(err); ok {
		return ze.Category
	}
	return ""
}
