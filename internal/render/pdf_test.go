package render

import (
	"testing"

	"github.com/medscribe/go-scribe/internal/domain/patient"
	"github.com/medscribe/go-scribe/internal/domain/prescription"
)

func TestRenderRequiresCoreRecords(t *testing.T) {
	r := NewPDFRenderer(PDFConfig{})

	tests := []struct {
		name string
		doc  Document
	}{
		{"missing prescription", Document{Patient: &patient.Patient{}, Doctor: &patient.Doctor{}}},
		{"missing patient", Document{Prescription: &prescription.Prescription{}, Doctor: &patient.Doctor{}}},
		{"missing doctor", Document{Prescription: &prescription.Prescription{}, Patient: &patient.Patient{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Render(&tt.doc); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRenderMissingFont(t *testing.T) {
	r := NewPDFRenderer(PDFConfig{FontPath: "/nonexistent/font.ttf", FontName: "Nope"})
	doc := &Document{
		Prescription: &prescription.Prescription{PrescriptionNumber: "RX-1"},
		Patient:      &patient.Patient{Name: "Asha"},
		Doctor:       &patient.Doctor{Name: "Mehta"},
	}
	if _, err := r.Render(doc); err == nil {
		t.Error("expected font load error")
	}
}
