// Package http serves the ledger as a JSON API.
//
// Every response body is an envelope {"data": ..., "notice": "..."}; errors
// carry {"error": "..."} instead. Reads degrade to the last known data with a
// notice, mutations report failures through the status code.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Notices attached to degraded but successful responses.
const (
	NoticeOutOfSync = "Saved, but the budget total could not be updated. It will be corrected on the next change."
	NoticeStale     = "Storage is unavailable; showing the last known data."
)

type envelope struct {
	Data   any    `json:"data"`
	Notice string `json:"notice,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ResponseBuilder provides a fluent API for building JSON envelope responses.
type ResponseBuilder struct {
	statusCode int
	body       envelope
	headers    map[string]string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Data(data any) *ResponseBuilder {
	b.body.Data = data
	return b
}

func (b *ResponseBuilder) Notice(notice string) *ResponseBuilder {
	b.body.Notice = notice
	return b
}

func (b *ResponseBuilder) Error(message string) *ResponseBuilder {
	b.body.Error = message
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// Write sends the built response to w.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// ErrorResponse creates an error envelope with the given status.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).Error(message)
}

func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedError() *ResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, "Authentication required").
		Header("WWW-Authenticate", `Bearer realm="smartspend"`)
}

func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func ServiceUnavailableError() *ResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, "Storage is unavailable, try again later").
		Header("Retry-After", "5")
}

func InternalServerError() *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "Internal error")
}

func TooManyRequestsError() *ResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}
