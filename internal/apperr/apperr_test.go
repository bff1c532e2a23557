package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"invalid selection", Invalid("no target"), CodeInvalidSelection},
		{"upload", Upload("put object", cause), CodeUploadFailure},
		{"write", Write("commit", cause), CodeWriteFailure},
		{"generation", Generation("model call", cause), CodeGenerationFailure},
		{"wrapped once more", fmt.Errorf("send: %w", Write("commit", cause)), CodeWriteFailure},
		{"plain error", cause, CodeUnknown},
		{"nil", nil, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(CodeUploadFailure, "put object", errors.New("timeout"))
	if got, want := err.Error(), "put object: timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := New(CodeInvalidSelection, "no target")
	if got, want := bare.Error(), "no target"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Write("commit", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is() = false, want true for wrapped cause")
	}
}

func TestIs(t *testing.T) {
	err := Generation("model call", errors.New("503"))
	if !Is(err, CodeGenerationFailure) {
		t.Error("Is(CodeGenerationFailure) = false, want true")
	}
	if Is(err, CodeWriteFailure) {
		t.Error("Is(CodeWriteFailure) = true, want false")
	}
}
