package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
)

// BusinessError is a business-rule violation surfaced to API callers with a
// machine-readable reason code. Handlers map it to a 422 response.
type BusinessError struct {
	Reason  string
	Message string
}

// Error implements the error interface.
func (e *BusinessError) Error() string {
	return e.Message
}

// Reason codes understood by API clients.
const (
	ReasonInsufficientStock      = "InsufficientStock"
	ReasonOverReceipt            = "OverReceipt"
	ReasonSerialOverflow         = "SerialOverflow"
	ReasonDuplicateSerial        = "DuplicateSerial"
	ReasonInvalidStateTransition = "InvalidStateTransition"
	ReasonSerialMismatch         = "SerialMismatch"
)

// NewBusinessError builds a BusinessError with a formatted message.
func NewBusinessError(reason, format string, args ...any) *BusinessError {
	return &BusinessError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// BusinessReason extracts the reason code when err is (or wraps) a
// BusinessError; empty string otherwise.
func BusinessReason(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Reason
	}
	return ""
}
