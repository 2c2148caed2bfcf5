package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestPredicatesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", Validationf("missing field"))
	if !IsValidation(wrapped) {
		t.Error("IsValidation should see through wrapping")
	}
	if IsNotFound(wrapped) || IsConflict(wrapped) || IsExternal(wrapped) {
		t.Error("predicates must not cross types")
	}
}

func TestMalformedAIIsExternal(t *testing.T) {
	err := MalformedAI("language model", errors.New("no object"), "raw output here")

	if !IsMalformedAI(err) {
		t.Error("expected IsMalformedAI")
	}
	if !IsExternal(err) {
		t.Error("a malformed response is an external failure")
	}

	var m *MalformedAIResponse
	if !errors.As(err, &m) {
		t.Fatal("errors.As failed")
	}
	if m.RawOutput != "raw output here" {
		t.Errorf("RawOutput = %q", m.RawOutput)
	}
}

func TestExternalTimeout(t *testing.T) {
	err := ExternalTimeout("transcription", errors.New("deadline"))

	var x *ExternalError
	if !errors.As(err, &x) {
		t.Fatal("errors.As failed")
	}
	if !x.Timeout {
		t.Error("expected timeout flag")
	}
	if x.Service != "transcription" {
		t.Errorf("service = %q", x.Service)
	}
}

func TestExternalUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := External("language model", cause)
	if !errors.Is(err, cause) {
		t.Error("ExternalError should unwrap to its cause")
	}
}
