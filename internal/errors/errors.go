// Package errors maps failures onto the JSON error bodies returned by the
// HTTP surface.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes carried in every error body
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidURL   = "INVALID_URL"
	CodeInvalidJSON  = "INVALID_JSON"
	CodeMissingField = "MISSING_FIELD"
	CodeNotFound     = "URL_NOT_FOUND"
	CodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	CodeInternal     = "INTERNAL_ERROR"
	CodeDatabase     = "DATABASE_ERROR"
	CodeRender       = "RENDER_ERROR"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with HTTP context
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// ErrorResponse is the JSON response format for errors
type ErrorResponse struct {
	Error *AppError `json:"error"`
}

// WriteJSON writes the error as JSON response
func (e *AppError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: e})
}

func newError(status int, code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: status}
}

// 400

func BadRequest(message string) *AppError {
	return newError(http.StatusBadRequest, CodeBadRequest, message, "")
}

func InvalidURL(details string) *AppError {
	return newError(http.StatusBadRequest, CodeInvalidURL, "The provided URL is invalid", details)
}

func InvalidJSON(details string) *AppError {
	return newError(http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON in request body", details)
}

func MissingField(field string) *AppError {
	return newError(http.StatusBadRequest, CodeMissingField, fmt.Sprintf("Required field '%s' is missing", field), "")
}

// 404

// URLNotFound is returned for short ids neither store knows about
func URLNotFound(id string) *AppError {
	return newError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("Short URL '%s' not found", id), "")
}

// 429

func RateLimitExceeded() *AppError {
	return newError(http.StatusTooManyRequests, CodeRateLimited, "Too many requests, please try again later", "")
}

// 500

func Internal(details string) *AppError {
	return newError(http.StatusInternalServerError, CodeInternal, "An internal server error occurred", details)
}

// DatabaseError hides store failures behind a generic message
func DatabaseError() *AppError {
	return newError(http.StatusInternalServerError, CodeDatabase, "A database error occurred", "")
}

// RenderError is returned when a page template fails to execute
func RenderError() *AppError {
	return newError(http.StatusInternalServerError, CodeRender, "Failed to render page", "")
}

// 503

func Unavailable(details string) *AppError {
	return newError(http.StatusServiceUnavailable, CodeUnavailable, "Service unavailable", details)
}
