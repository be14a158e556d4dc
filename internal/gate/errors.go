package gate

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes errors that stop a run.
type ErrorKind string

const (
	// ErrKindConfiguration indicates a missing credential or unresolvable
	// identity. Raised before any network call.
	ErrKindConfiguration ErrorKind = "CONFIGURATION"

	// ErrKindValidationRefused indicates the licensing service did not answer
	// allowed == true, for whatever reason.
	ErrKindValidationRefused ErrorKind = "VALIDATION_REFUSED"

	// ErrKindDownstreamFailure indicates the gated task itself failed.
	ErrKindDownstreamFailure ErrorKind = "DOWNSTREAM_FAILURE"
)

// Error is returned by Gate operations that stop a run.
type Error struct {
	Kind     ErrorKind
	Message  string
	RunID    string
	DeviceID string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.DeviceID != "" {
		msg = fmt.Sprintf("%s (device=%s)", msg, e.DeviceID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a gate error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// IsConfigurationError reports whether err is a CONFIGURATION error.
func IsConfigurationError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrKindConfiguration
}

// IsRefusal reports whether err is a VALIDATION_REFUSED error.
func IsRefusal(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrKindValidationRefused
}

// IsDownstreamFailure reports whether err is a DOWNSTREAM_FAILURE error.
func IsDownstreamFailure(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrKindDownstreamFailure
}

// NewConfigurationError creates a CONFIGURATION error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{Kind: ErrKindConfiguration, Message: message, Err: err}
}
