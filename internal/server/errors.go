package server

import (
	"context"
	"log/slog"
	"net/http"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

func errNotFound(msg string) error {
	return zerrors.New(zerrors.ErrCodeInvalidInput, msg, nil)
}

// statusFor maps an error to an HTTP status by code, then by category.
func statusFor(err error) int {
	switch zerrors.GetCode(err) {
	case zerrors.ErrCodeSavedSearchNotFound:
		return http.StatusNotFound
	case zerrors.ErrCodeOutOfMemory:
		return http.StatusServiceUnavailable
	}
	switch zerrors.GetCategory(err) {
	case zerrors.CategoryValidation:
		return http.StatusBadRequest
	case zerrors.CategoryNetwork:
		return http.StatusServiceUnavailable
	case zerrors.CategoryConfig:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as JSON. A zero status is derived from err.
func writeError(w http.ResponseWriter, status int, err error) {
	if status == 0 {
		status = statusFor(err)
	}
	if status >= http.StatusInternalServerError {
		attrs := append([]slog.Attr{slog.Int("status", status)}, zerrors.LogAttrs(err)...)
		slog.LogAttrs(context.Background(), slog.LevelWarn, "http_error", attrs...)
	}
	writeJSON(w, status, zerrors.ToJSON(err))
}
