// Package errors provides domain-specific error types for vpnc-enforcer.
//
// Errors carry a code so callers can tell a missing precondition apart from a failed
// kernel primitive without string matching.
package errors

import "fmt"

// ErrorCode represents a category of error that can occur in the application.
type ErrorCode string

const (
	// ErrCodeConfig indicates a configuration-related error.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodePrecondition indicates a missing or invalid argument detected before
	// any kernel state was touched (e.g. an empty interface name).
	ErrCodePrecondition ErrorCode = "PRECONDITION_ERROR"

	// ErrCodeAllocation indicates that a routing table ID could not be obtained.
	ErrCodeAllocation ErrorCode = "ALLOCATION_ERROR"

	// ErrCodeRouting indicates a failed ip rule / ip route operation.
	ErrCodeRouting ErrorCode = "ROUTING_ERROR"

	// ErrCodeFilter indicates a failed iptables/ip6tables operation.
	ErrCodeFilter ErrorCode = "FILTER_ERROR"

	// ErrCodeInput indicates malformed input such as a subnet or address literal.
	ErrCodeInput ErrorCode = "INPUT_ERROR"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a domain-specific error with an error code and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// ErrInterfaceNotSpecified is returned by every enforcement operation called with an
// empty interface name.
var ErrInterfaceNotSpecified = New(ErrCodePrecondition, "interface is not specified")

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && (&Error{Code: code}).matches(err)
}

func (e *Error) matches(err error) bool {
	for err != nil {
		if de, ok := err.(*Error); ok && de.Code == e.Code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// New creates a new domain error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, cause error) *Error {
	return Wrap(ErrCodeConfig, message, cause)
}

// NewAllocationError creates a new table allocation error.
func NewAllocationError(message string, cause error) *Error {
	return Wrap(ErrCodeAllocation, message, cause)
}

// NewRoutingError creates a new ip rule / ip route error.
func NewRoutingError(message string, cause error) *Error {
	return Wrap(ErrCodeRouting, message, cause)
}

// NewFilterError creates a new packet filter error.
func NewFilterError(message string, cause error) *Error {
	return Wrap(ErrCodeFilter, message, cause)
}

// NewInputError creates a new malformed input error.
func NewInputError(message string, cause error) *Error {
	return Wrap(ErrCodeInput, message, cause)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCodeInternal, message, cause)
}
