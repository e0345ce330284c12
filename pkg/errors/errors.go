package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents different types of errors
type ErrorCode string

const (
	// Client errors
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeRequestTooLarge  ErrorCode = "REQUEST_TOO_LARGE"

	// Provider errors
	ErrCodeProviderNotFound    ErrorCode = "PROVIDER_NOT_FOUND"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeNoData              ErrorCode = "NO_DATA"
	ErrCodeFetchFailed         ErrorCode = "FETCH_FAILED"
	ErrCodeCircuitBreakerOpen  ErrorCode = "CIRCUIT_BREAKER_OPEN"
	ErrCodeRateLimit           ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Server errors
	ErrCodeConfigLoad ErrorCode = "CONFIG_LOAD_ERROR"
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
)

// InternalMessage is the only message clients see for unanticipated failures.
const InternalMessage = "Internal server error"

// AppError represents an application error with additional context
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
	Timestamp  time.Time      `json:"timestamp"`
	HTTPStatus int            `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on code so sentinel AppErrors work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause adds a cause error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		HTTPStatus: getHTTPStatusForCode(code),
	}
}

// Newf is NewAppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return NewAppError(code, fmt.Sprintf(format, args...))
}

// getHTTPStatusForCode returns the appropriate HTTP status code for an error code.
// Every known domain error is a 400; only routing-level and internal failures differ.
func getHTTPStatusForCode(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeInternal, ErrCodeConfigLoad:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// WrapError wraps an existing error with additional context
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// Keep the original code when none is given
	if code == "" {
		if appErr := GetAppError(err); appErr != nil {
			code = appErr.Code
		} else {
			code = ErrCodeInternal
		}
	}

	return NewAppError(code, message).WithCause(err)
}

// IsCode reports whether err carries an AppError with the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetAppError extracts the outermost AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Public returns the code, message and details a client may see.
// Internal errors never expose their message or details.
func (e *AppError) Public() (ErrorCode, string, map[string]any) {
	if e.Code == ErrCodeInternal || e.HTTPStatus >= http.StatusInternalServerError {
		return ErrCodeInternal, InternalMessage, nil
	}
	return e.Code, e.Message, e.Details
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	*AppError
	Fields []FieldError `json:"fields"`
}

// FieldError represents an error for a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// NewValidationError creates a new validation error
func NewValidationError(message string, fields ...FieldError) *ValidationError {
	ve := &ValidationError{
		AppError: NewAppError(ErrCodeValidation, message),
	}
	for _, f := range fields {
		ve.AddField(f.Field, f.Message, f.Value)
	}
	return ve
}

// AddField adds a field error to the validation error
func (ve *ValidationError) AddField(field, message string, value any) *ValidationError {
	ve.Fields = append(ve.Fields, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
	ve.WithDetail("fields", ve.Fields)
	return ve
}

// HasFields returns true if the validation error has field errors
func (ve *ValidationError) HasFields() bool {
	return len(ve.Fields) > 0
}

// Unwrap exposes the embedded AppError to errors.As.
func (ve *ValidationError) Unwrap() error {
	return ve.AppError
}

// OrNil returns nil when no field errors were collected.
func (ve *ValidationError) OrNil() error {
	if !ve.HasFields() {
		return nil
	}
	return ve
}

// HTTPStatus returns the response status for err. Errors without an AppError are 500.
func HTTPStatus(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
