package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypeSurvivesWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"validation", NewValidationError("role %s is not on stage", "r1"), ErrorTypeValidation},
		{"not found wrapped", fmt.Errorf("load scene: %w", NewNotFoundError("scene not found")), ErrorTypeNotFound},
		{"conflict", NewConflictError("already admitted"), ErrorTypeConflict},
		{"not active", NewNotActiveError("belief %s is not active", "b1"), ErrorTypeNotActive},
		{"plain error", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeOf(tt.err); got != tt.want {
				t.Errorf("TypeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := NewProcessingError("append dialogue", cause)
	if err.Error() != "append dialogue: disk full" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if !IsNotActive(NewNotActiveError("x")) || IsNotActive(NewConflictError("x")) {
		t.Error("IsNotActive mismatch")
	}
}
