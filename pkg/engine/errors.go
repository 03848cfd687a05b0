package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/shiftflow/pkg/models"
)

// Client errors (4xx responses).
var (
	ErrWorkflowNil       = errors.New("workflow cannot be nil")
	ErrInvalidStatus     = errors.New("invalid workflow status")
	ErrInvalidTransition = errors.New("invalid workflow status transition")
	ErrWorkflowExists    = errors.New("workflow already exists")
	ErrSafeNotConfigured = errors.New("multi-sig gateway is not configured")
	ErrInvalidTemplate   = errors.New("invalid action template")
	ErrInvalidCondition  = errors.New("invalid condition")
)

// ServiceError wraps engine errors with an operation name and a code for API responses.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewServiceError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError reports errors caused by a malformed request (HTTP 400).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTemplate) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, models.ErrInvalidWorkflow) ||
		errors.Is(err, models.ErrSchemaViolation)
}

// IsConflictError reports requests that clash with the current state (HTTP 409).
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrWorkflowExists)
}
