package prescription

import (
	"strings"
	"testing"
	"time"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

func draft(t *testing.T) *Prescription {
	t.Helper()
	p, err := New("rx-1", "cons-1", "pat-1", "doc-1", []Medicine{
		{Name: "Paracetamol", Dosage: "500mg", Frequency: "TDS", Duration: "3 days"},
	}, []string{"CBC"}, "rest and fluids")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRejectsNilMedicines(t *testing.T) {
	_, err := New("rx-1", "cons-1", "pat-1", "doc-1", nil, nil, "")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewAcceptsEmptyMedicines(t *testing.T) {
	p, err := New("rx-1", "cons-1", "pat-1", "doc-1", []Medicine{}, nil, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Status != StatusDraft {
		t.Errorf("status = %q", p.Status)
	}
	if p.LabTests == nil {
		t.Error("labTests should default to empty list")
	}
	if p.Version != 1 {
		t.Errorf("version = %d", p.Version)
	}
}

func TestNewNumberFormat(t *testing.T) {
	n := NewNumber(time.Now())
	if !strings.HasPrefix(n, "RX-") {
		t.Errorf("number = %q", n)
	}
}

func TestFinalize(t *testing.T) {
	p := draft(t)
	exp := &PatientExplanation{Explanation: "bukhar ki dawa hai"}

	if err := p.Finalize(nil, "https://docs/rx.pdf"); !apperror.IsValidation(err) {
		t.Errorf("nil explanation: got %v", err)
	}
	if err := p.Finalize(exp, ""); !apperror.IsValidation(err) {
		t.Errorf("empty document url: got %v", err)
	}

	if err := p.Finalize(exp, "https://docs/rx.pdf"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if p.Status != StatusFinalized {
		t.Errorf("status = %q", p.Status)
	}
	if p.Version != 2 {
		t.Errorf("version = %d", p.Version)
	}

	// A second finalize is a conflict, and the first result stands.
	if err := p.Finalize(exp, "https://docs/other.pdf"); !apperror.IsConflict(err) {
		t.Errorf("second finalize: got %v", err)
	}
	if p.DocumentURL != "https://docs/rx.pdf" {
		t.Errorf("document url changed to %q", p.DocumentURL)
	}
}

func TestMarkSentRequiresFinalized(t *testing.T) {
	p := draft(t)
	if err := p.MarkSent(); !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if p.IsSentToPatient {
		t.Error("draft must not be marked sent")
	}

	if err := p.Finalize(&PatientExplanation{Explanation: "x"}, "https://docs/rx.pdf"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := p.MarkSent(); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if !p.IsSentToPatient {
		t.Error("expected sent flag")
	}
	if p.Status != StatusFinalized {
		t.Error("sending must not move status")
	}
}
