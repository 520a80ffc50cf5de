// Package apierror renders errors as the flat JSON envelope of the control API:
//
//	{"error":"NOT_FOUND","code":"NOT_FOUND","message":"...","details":...,"request_id":"..."}
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openctemio/webhooks/pkg/domain/shared"
)

// Code is the machine-readable error code.
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeQuotaExceeded      Code = "QUOTA_EXCEEDED"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeTimeout            Code = "TIMEOUT"
)

const genericInternal = "An internal error occurred"

// Error is an HTTP status plus envelope fields. Err is kept for logs and
// never rendered.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is the rendered envelope. Error duplicates Code for clients that
// only look at "error".
type Response struct {
	Error     string `json:"error"`
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Response builds the envelope.
func (e *Error) Response(requestID string) Response {
	return Response{
		Error:     string(e.Code),
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: requestID,
	}
}

// MarshalJSON renders the envelope without a request ID.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Response(""))
}

// WriteJSON writes the envelope with e.Status.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	e.WriteJSONWithRequestID(w, "")
}

// WriteJSONWithRequestID writes the envelope and echoes requestID when set.
func (e *Error) WriteJSONWithRequestID(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.Response(requestID))
}

func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func (e *Error) WithError(err error) *Error {
	e.Err = err
	return e
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

// SafeBadRequest hides err from the client behind a generic message.
func SafeBadRequest(err error) *Error {
	return BadRequest("Invalid request body").WithError(err)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, orDefault(message, "Authentication required"))
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, CodeForbidden, orDefault(message, "Access denied"))
}

// NotFound names the missing resource, e.g. NotFound("registration").
func NotFound(resource string) *Error {
	msg := "Resource not found"
	if resource != "" {
		msg = resource + " not found"
	}
	return New(http.StatusNotFound, CodeNotFound, msg)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message)
}

// ValidationFailed is a 400 carrying per-field details.
func ValidationFailed(message string, details any) *Error {
	return New(http.StatusBadRequest, CodeValidationFailed, message).WithDetails(details)
}

// InternalError hides err from the client.
func InternalError(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternalError, genericInternal).WithError(err)
}

func InternalServerError(message string) *Error {
	return New(http.StatusInternalServerError, CodeInternalError, orDefault(message, genericInternal))
}

func ServiceUnavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, orDefault(message, "Service temporarily unavailable"))
}

func RateLimitExceeded() *Error {
	return New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")
}

func QuotaExceeded(message string) *Error {
	return New(http.StatusTooManyRequests, CodeQuotaExceeded, message)
}

func PayloadTooLarge(message string) *Error {
	return New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

func GatewayTimeout(message string) *Error {
	return New(http.StatusGatewayTimeout, CodeTimeout, orDefault(message, "Request timed out"))
}

// FieldError is one entry of a VALIDATION_FAILED details list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the details payload of VALIDATION_FAILED.
type ValidationErrors []FieldError

func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// domainErrors maps shared sentinels to envelopes. First match wins.
var domainErrors = []struct {
	target error
	build  func(err error) *Error
}{
	{shared.ErrValidation, func(err error) *Error { return BadRequest(err.Error()) }},
	{shared.ErrInvalidInput, func(err error) *Error { return BadRequest(err.Error()) }},
	{shared.ErrNotFound, func(error) *Error { return NotFound("") }},
	{shared.ErrConflict, func(err error) *Error { return Conflict(err.Error()) }},
	{shared.ErrQuotaExceeded, func(error) *Error { return QuotaExceeded("Registration limit reached") }},
	{shared.ErrStoreUnavailable, func(error) *Error { return ServiceUnavailable("Registration store unavailable") }},
	{shared.ErrUnauthorized, func(error) *Error { return Unauthorized("") }},
	{shared.ErrForbidden, func(error) *Error { return Forbidden("") }},
}

// FromError converts err to an envelope. *Error values pass through;
// unrecognised errors become an opaque 500.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if ve, ok := shared.AsValidationError(err); ok {
		details := make(ValidationErrors, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			details.Add(f.Field, f.Message)
		}
		return ValidationFailed("Validation failed", details).WithError(err)
	}

	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.build(err).WithError(err)
		}
	}
	return InternalError(err)
}
