package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI renders err for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ze, ok := As(err)
	if !ok {
		ze = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ze.Message)
	if ze.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ze.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ze.Code)
	return sb.String()
}

// JSONError is the wire form used by the HTTP API.
type JSONError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// ToJSON converts any error into its wire form.
func ToJSON(err error) JSONError {
	ze, ok := As(err)
	if !ok {
		ze = Wrap(ErrCodeInternal, err)
	}
	return JSONError{
		Code:       ze.Code,
		Message:    ze.Message,
		Category:   string(ze.Category),
		Details:    ze.Details,
		Suggestion: ze.Suggestion,
		Retryable:  ze.Retryable,
	}
}

func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(ToJSON(err))
}

// LogAttrs returns slog attributes describing err, details sorted by key.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	ze, ok := As(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error_code", ze.Code),
		slog.String("error", ze.Message),
		slog.Bool("retryable", ze.Retryable),
	}
	if ze.Cause != nil && ze.Cause.Error() != ze.Message {
		attrs = append(attrs, slog.String("cause", ze.Cause.Error()))
	}
	keys := make([]string, 0, len(ze.Details))
	for k := range ze.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, ze.Details[k]))
	}
	return attrs
}
