package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes carried by AppError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodePermission = "PERMISSION_DENIED"
	CodeState      = "STATE_ERROR"
	CodeTransport  = "TRANSPORT_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeAuth       = "UNAUTHORIZED"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewPermissionError(message string) *AppError {
	return &AppError{
		Code:    CodePermission,
		Message: message,
	}
}

func NewStateError(message string) *AppError {
	return &AppError{
		Code:    CodeState,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeAuth,
		Message: message,
	}
}

// NewTransportError wraps a failure of the underlying document store.
func NewTransportError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeTransport,
		Message: fmt.Sprintf("%s failed", operation),
		Err:     err,
	}
}

// CodeOf returns the AppError code found in err's chain, or "" when there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }
func IsPermission(err error) bool { return CodeOf(err) == CodePermission }
func IsState(err error) bool      { return CodeOf(err) == CodeState }
func IsTransport(err error) bool  { return CodeOf(err) == CodeTransport }
func IsNotFound(err error) bool   { return CodeOf(err) == CodeNotFound }

// StatusFor maps an error to the HTTP status the adapter responds with.
func StatusFor(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeAuth:
		return fiber.StatusUnauthorized
	case CodePermission:
		return fiber.StatusForbidden
	case CodeState:
		return fiber.StatusConflict
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeTransport:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
