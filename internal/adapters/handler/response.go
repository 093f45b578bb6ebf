// Package handler implements the HTTP surface of the transcript backend
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"connect-chat/internal/adapters/gateway"
	"connect-chat/internal/core/services"
	"connect-chat/internal/core/transcript"
)

// APIResponse represents the standard response envelope
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// NewSuccessResponse creates a successful response (code 200)
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Code:    http.StatusOK,
		Message: "Success",
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Code:    code,
		Message: message,
	}
}

func BadRequestResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

func NotFoundResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

func InternalErrorResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// statusFor maps service and gateway errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrUnknownPendingItem):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSessionEnded):
		return http.StatusGone
	case errors.Is(err, services.ErrInvalidSession),
		errors.Is(err, services.ErrUnsupportedKind),
		errors.Is(err, transcript.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrStaleFetch),
		errors.Is(err, services.ErrFetchInProgress):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrSessionExpired):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the envelope for err; 5xx details stay in the log
func writeError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, append(attrs, "error", err)...)
		writeJSON(w, status, InternalErrorResponse(msg))
		return
	}
	writeJSON(w, status, NewErrorResponse(status, err.Error()))
}
