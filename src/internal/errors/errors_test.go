package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "error without cause",
			err:      &Error{Code: ErrCodeConfig, Message: "invalid configuration"},
			expected: "[CONFIG_ERROR] invalid configuration",
		},
		{
			name:     "error with cause",
			err:      Wrap(ErrCodeRouting, "failed to add rule", errors.New("permission denied")),
			expected: "[ROUTING_ERROR] failed to add rule: permission denied",
		},
		{
			name:     "precondition sentinel",
			err:      ErrInterfaceNotSpecified,
			expected: "[PRECONDITION_ERROR] interface is not specified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeInternal, "wrapper", cause)

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is should find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err1 := &Error{Code: ErrCodeFilter, Message: "test error"}
	err2 := &Error{Code: ErrCodeFilter, Message: "another error"}
	err3 := &Error{Code: ErrCodeRouting, Message: "routing error"}

	if !err1.Is(err2) {
		t.Errorf("Expected errors with same code to match")
	}

	if err1.Is(err3) {
		t.Errorf("Expected errors with different codes to not match")
	}
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("enforce strict: %w", NewFilterError("delete failed", errors.New("exit status 1")))

	if !HasCode(wrapped, ErrCodeFilter) {
		t.Errorf("expected FILTER_ERROR to be found through fmt wrapping")
	}
	if HasCode(wrapped, ErrCodeRouting) {
		t.Errorf("unexpected ROUTING_ERROR match")
	}
	if HasCode(nil, ErrCodeFilter) {
		t.Errorf("nil error must not match")
	}
	if HasCode(errors.New("plain"), ErrCodeFilter) {
		t.Errorf("plain error must not match")
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err  *Error
		code ErrorCode
	}{
		{NewConfigError("m", cause), ErrCodeConfig},
		{NewAllocationError("m", cause), ErrCodeAllocation},
		{NewRoutingError("m", cause), ErrCodeRouting},
		{NewFilterError("m", cause), ErrCodeFilter},
		{NewInputError("m", cause), ErrCodeInput},
		{NewInternalError("m", cause), ErrCodeInternal},
	}

	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
		}
		if tt.err.Cause != cause {
			t.Errorf("expected cause to be preserved for %s", tt.code)
		}
	}
}
