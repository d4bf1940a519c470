package customizer

import "fmt"

// InvalidInputError represents a caller-correctable precondition failure.
// It is always reported before any backend call is made.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Message)
}

// BackendFailureError represents any failure originating from the generation backend:
// client construction, authentication, network, quota, or an empty/malformed response.
type BackendFailureError struct {
	Message string
	Cause   error
}

func (e *BackendFailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend failure: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("backend failure: %s", e.Message)
}

func (e *BackendFailureError) Unwrap() error {
	return e.Cause
}
