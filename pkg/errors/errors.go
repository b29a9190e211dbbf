package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("resource conflict")
	ErrInternal     = errors.New("internal server error")
	ErrValidation   = errors.New("validation error")

	// Ledger business rules
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrDateExpired             = errors.New("allocation window expired")
	ErrItemDisabled            = errors.New("item line is disabled")
	ErrAlreadyAllocated        = errors.New("item line already fully allocated")
	ErrNotAllocated            = errors.New("item line has no active allocation")
	ErrReturnExceedsAllocated  = errors.New("return exceeds allocated amount")
	ErrDisableAllocated        = errors.New("cannot disable an allocated item line")
	ErrOverrideReasonRequired  = errors.New("admin override requires a reason")
	ErrDestinationUnresolvable = errors.New("no destination stock record could be resolved")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Ledger business-rule constructors. Every rejection carries a
// machine-checkable code; callers must never rely on message text.

func InsufficientStock(message string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func DateExpired(message string) *AppError {
	return &AppError{
		Err:        ErrDateExpired,
		Code:       "DATE_EXPIRED",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func ItemDisabled(message string) *AppError {
	return &AppError{
		Err:        ErrItemDisabled,
		Code:       "ITEM_DISABLED",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func AlreadyAllocated(message string) *AppError {
	return &AppError{
		Err:        ErrAlreadyAllocated,
		Code:       "ALREADY_ALLOCATED",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NotAllocated(message string) *AppError {
	return &AppError{
		Err:        ErrNotAllocated,
		Code:       "NOT_ALLOCATED",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func ReturnExceedsAllocated(message string) *AppError {
	return &AppError{
		Err:        ErrReturnExceedsAllocated,
		Code:       "RETURN_EXCEEDS_ALLOCATED",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func DisableAllocated(message string) *AppError {
	return &AppError{
		Err:        ErrDisableAllocated,
		Code:       "DISABLE_ALLOCATED",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func OverrideReasonRequired() *AppError {
	return &AppError{
		Err:        ErrOverrideReasonRequired,
		Code:       "OVERRIDE_REASON_REQUIRED",
		Message:    "admin override requires a non-empty reason",
		StatusCode: http.StatusBadRequest,
	}
}

func DestinationUnresolvable(message string) *AppError {
	return &AppError{
		Err:        ErrDestinationUnresolvable,
		Code:       "DESTINATION_UNRESOLVABLE",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
