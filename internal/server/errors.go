package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/cv-customizer/internal/customizer"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrBodyTooLarge indicates the request body exceeded the configured limit
type ErrBodyTooLarge struct {
	Limit int64
}

func (e *ErrBodyTooLarge) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validationErr *ErrValidation
		tooLargeErr   *ErrBodyTooLarge
		invalidErr    *customizer.InvalidInputError
		backendErr    *customizer.BackendFailureError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &invalidErr):
		return http.StatusBadRequest
	case errors.As(err, &tooLargeErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &backendErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable error kind returned to clients
func errorCode(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusRequestEntityTooLarge:
		return "body_too_large"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusBadGateway:
		return "backend_failure"
	default:
		return "internal_error"
	}
}
