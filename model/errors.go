package model

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error codes.
const (
	ErrBadRequest    = "BAD_REQUEST"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrForbidden     = "FORBIDDEN"
	ErrNotFound      = "NOT_FOUND"
	ErrConflict      = "CONFLICT"
	ErrInternalError = "INTERNAL_ERROR"
)

// Orchestrator error codes.
const (
	ErrEntityNotFound              = "ENTITY_NOT_FOUND"
	ErrInvalidTransition           = "INVALID_TRANSITION"
	ErrMissingRequiredData         = "MISSING_REQUIRED_DATA"
	ErrConcurrentModification      = "CONCURRENT_MODIFICATION"
	ErrNotificationDeliveryFailure = "NOTIFICATION_DELIVERY_FAILURE"
)

// ErrorEnvelope is the structured error returned by the orchestrator and
// rendered by the HTTP adapter. It implements the error interface.
type ErrorEnvelope struct {
	Code          string       `json:"code"`
	Message       string       `json:"message"`
	Details       []FieldError `json:"details,omitempty"`
	From          Location     `json:"from,omitempty"`
	To            Location     `json:"to,omitempty"`
	MissingFields []string     `json:"missing_fields,omitempty"`
	TraceID       string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AsEnvelope unwraps err into an *ErrorEnvelope.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	ee, ok := AsEnvelope(err)
	return ok && ee.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewEntityNotFoundError returns ENTITY_NOT_FOUND for an unknown VIN.
func NewEntityNotFoundError(vin string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrEntityNotFound,
		Message: fmt.Sprintf("vehicle %q not found", vin),
	}
}

// NewInvalidTransitionError returns INVALID_TRANSITION naming both locations.
func NewInvalidTransitionError(from, to Location) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("cannot move from %q to %q", from, to),
		From:    from,
		To:      to,
	}
}

// NewMissingRequiredDataError returns MISSING_REQUIRED_DATA listing every
// missing field, each also reported as a field-level detail.
func NewMissingRequiredDataError(to Location, fields []string) *ErrorEnvelope {
	details := make([]FieldError, 0, len(fields))
	for _, f := range fields {
		details = append(details, FieldError{
			Field:   f,
			Code:    "REQUIRED",
			Message: fmt.Sprintf("%s is required to enter %s", f, to),
		})
	}
	missing := make([]string, len(fields))
	copy(missing, fields)
	return &ErrorEnvelope{
		Code:          ErrMissingRequiredData,
		Message:       fmt.Sprintf("missing required data for %q: %s", to, strings.Join(fields, ", ")),
		Details:       details,
		To:            to,
		MissingFields: missing,
	}
}

// NewConcurrentModificationError returns CONCURRENT_MODIFICATION. Callers
// should reload the vehicle and retry.
func NewConcurrentModificationError(vin string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConcurrentModification,
		Message: fmt.Sprintf("vehicle %q was modified concurrently, reload and retry", vin),
	}
}

// NewNotificationDeliveryError returns NOTIFICATION_DELIVERY_FAILURE. It is
// only ever logged and counted, never returned from a move.
func NewNotificationDeliveryError(topic string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNotificationDeliveryFailure,
		Message: fmt.Sprintf("notification %q not delivered: %v", topic, cause),
	}
}
