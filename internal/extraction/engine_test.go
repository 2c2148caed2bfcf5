package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

// scriptedCompleter returns canned responses in order.
type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (c *scriptedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	i := c.calls
	c.calls++
	c.prompts = append(c.prompts, prompt)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func newTestEngine(t *testing.T, completer Completer) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), completer, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestExtractEmptyTranscript(t *testing.T) {
	e := newTestEngine(t, &scriptedCompleter{})
	_, err := e.ExtractClinicalRecord(context.Background(), "   \n ")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractRetriesOnceOnGarbage(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		"sorry, I cannot help with that",
		`{"diagnosis": "viral fever"}`,
	}}
	e := newTestEngine(t, c)

	rec, err := e.ExtractClinicalRecord(context.Background(), "patient has fever")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if rec.Diagnosis != "viral fever" {
		t.Errorf("diagnosis = %q", rec.Diagnosis)
	}
	if c.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", c.calls)
	}
}

func TestExtractMalformedAfterRetry(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"garbage one", "garbage two"}}
	e := newTestEngine(t, c)

	_, err := e.ExtractClinicalRecord(context.Background(), "patient has fever")
	if !apperror.IsMalformedAI(err) {
		t.Fatalf("expected MalformedAIResponse, got %v", err)
	}

	var malformed *apperror.MalformedAIResponse
	if !errors.As(err, &malformed) {
		t.Fatal("error does not unwrap to MalformedAIResponse")
	}
	if malformed.RawOutput != "garbage two" {
		t.Errorf("RawOutput = %q, want last attempt's output", malformed.RawOutput)
	}
	if c.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", c.calls)
	}
}

func TestExtractUpstreamFailureIsNotRetried(t *testing.T) {
	c := &scriptedCompleter{errs: []error{errors.New("connection refused")}}
	e := newTestEngine(t, c)

	_, err := e.ExtractClinicalRecord(context.Background(), "patient has fever")
	if !apperror.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	if c.calls != 1 {
		t.Errorf("transport failures should not retry, got %d calls", c.calls)
	}
}

func TestExtractTimeout(t *testing.T) {
	c := &scriptedCompleter{errs: []error{context.DeadlineExceeded}}
	e := newTestEngine(t, c)

	_, err := e.ExtractClinicalRecord(context.Background(), "patient has fever")
	var ext *apperror.ExternalError
	if !errors.As(err, &ext) {
		t.Fatalf("expected external error, got %v", err)
	}
	if !ext.Timeout {
		t.Error("deadline exceeded should mark the error as a timeout")
	}
}

func TestExplainLanguageFallback(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{"explanation": "ok"}`, `{"explanation": "ok"}`}}
	e := newTestEngine(t, c)

	if _, err := e.ExplainForPatient(context.Background(), "viral fever", nil, "xx"); err != nil {
		t.Fatalf("explain failed: %v", err)
	}
	if !strings.Contains(c.prompts[0], "Hindi") {
		t.Error("unknown language code should fall back to the default language")
	}

	if _, err := e.ExplainForPatient(context.Background(), "viral fever", nil, "ta"); err != nil {
		t.Fatalf("explain failed: %v", err)
	}
	if !strings.Contains(c.prompts[1], "Tamil") {
		t.Error("known language code should be used directly")
	}
}

func TestNewEngineRequiresCompleter(t *testing.T) {
	if _, err := NewEngine(DefaultConfig(), nil, nil); err == nil {
		t.Fatal("expected error for nil completer")
	}
}
