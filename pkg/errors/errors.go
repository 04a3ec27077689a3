package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Chat errors
	ErrCodeHistoryUnavailable ErrorCode = "HISTORY_UNAVAILABLE"
	ErrCodeUploadFailed       ErrorCode = "UPLOAD_FAILED"
	ErrCodeChannelDisconnect  ErrorCode = "CHANNEL_DISCONNECTED"
	ErrCodeInvalidParticipant ErrorCode = "INVALID_PARTICIPANT"

	// Not found errors
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeMessageNotFound ErrorCode = "MESSAGE_NOT_FOUND"
	ErrCodeGroupNotFound   ErrorCode = "GROUP_NOT_FOUND"

	// Conflict errors
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeStorage  ErrorCode = "STORAGE_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err (or any error it wraps) carries the given code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Chat errors

// HistoryUnavailable signals a failed history fetch; existing buffers stay intact
func HistoryUnavailable(err error) *AppError {
	return &AppError{
		Code:       ErrCodeHistoryUnavailable,
		Message:    "Message history is unavailable",
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// UploadFailed signals a failed attachment upload; the message must not be sent
func UploadFailed(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeUploadFailed,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// ChannelDisconnected signals the push channel is down; sends fail fast
func ChannelDisconnected() *AppError {
	return NewWithStatus(ErrCodeChannelDisconnect, "Push channel is disconnected", http.StatusServiceUnavailable)
}

// InvalidParticipant signals malformed identity input to the resolver
func InvalidParticipant(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidParticipant, message, http.StatusBadRequest)
}

// Validation errors

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func MissingFieldError(field string) *AppError {
	return NewWithStatus(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field), http.StatusBadRequest)
}

// Not found errors

func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func MessageNotFoundError() *AppError {
	return NewWithStatus(ErrCodeMessageNotFound, "Message not found", http.StatusNotFound)
}

func GroupNotFoundError() *AppError {
	return NewWithStatus(ErrCodeGroupNotFound, "Group not found", http.StatusNotFound)
}

// Internal errors

func InternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func StorageError(message string, err error) *AppError {
	return Wrap(ErrCodeStorage, message, err)
}
