// Package prescription implements the prescription record and its guarded
// state machine.
package prescription

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

// Status represents prescription status
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
)

// Medicine is one prescribed medicine entry.
type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

// PatientExplanation is the translated, patient-facing explanation attached
// at finalization.
type PatientExplanation struct {
	Explanation          string   `json:"explanation"`
	MedicineInstructions []string `json:"medicineInstructions"`
	Precautions          []string `json:"precautions"`
	EmergencyWarning     string   `json:"emergencyWarning"`
}

// Prescription is the persisted prescription record. Status moves
// draft -> finalized exactly once; IsSentToPatient is an independent flag
// layered on top and never moves status backward.
type Prescription struct {
	ID                 string              `json:"id"`
	ConsultationID     string              `json:"consultationId"`
	PatientID          string              `json:"patientId"`
	DoctorID           string              `json:"doctorId"`
	PrescriptionNumber string              `json:"prescriptionNumber"`
	Medicines          []Medicine          `json:"medicines"`
	LabTests           []string            `json:"labTests"`
	Advice             string              `json:"advice,omitempty"`
	PatientExplanation *PatientExplanation `json:"patientExplanation,omitempty"`
	DocumentURL        string              `json:"documentUrl,omitempty"`
	Status             Status              `json:"status"`
	IsSentToPatient    bool                `json:"isSentToPatient"`
	Version            int                 `json:"version"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// New returns a draft prescription with a generated prescription number.
// Medicines may be empty but never nil; labTests defaults to an empty list.
func New(id, consultationID, patientID, doctorID string, medicines []Medicine, labTests []string, advice string) (*Prescription, error) {
	if medicines == nil {
		return nil, apperror.Validationf("medicines must be a list")
	}
	if labTests == nil {
		labTests = []string{}
	}

	now := time.Now().UTC()
	return &Prescription{
		ID:                 id,
		ConsultationID:     consultationID,
		PatientID:          patientID,
		DoctorID:           doctorID,
		PrescriptionNumber: NewNumber(now),
		Medicines:          medicines,
		LabTests:           labTests,
		Advice:             advice,
		Status:             StatusDraft,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// NewNumber generates a human-readable prescription number.
func NewNumber(at time.Time) string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		// Timestamp alone still yields a unique-enough number.
		return fmt.Sprintf("RX-%d", at.UnixMilli())
	}
	return fmt.Sprintf("RX-%d-%s", at.UnixMilli(), strings.ToUpper(hex.EncodeToString(buf)))
}

// Finalize moves the prescription to finalized, attaching the patient
// explanation and the rendered document. It refuses anything but a draft.
func (p *Prescription) Finalize(explanation *PatientExplanation, documentURL string) error {
	if p.Status != StatusDraft {
		return apperror.Conflict("prescription", p.ID, "already finalized")
	}
	if explanation == nil {
		return apperror.Validationf("patient explanation is required to finalize")
	}
	if documentURL == "" {
		return apperror.Validationf("document url is required to finalize")
	}

	p.Status = StatusFinalized
	p.PatientExplanation = explanation
	p.DocumentURL = documentURL
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSent records that at least one notification channel delivered. Sending
// an unfinalized prescription is rejected.
func (p *Prescription) MarkSent() error {
	if p.Status != StatusFinalized {
		return apperror.Validationf("prescription %s is not finalized", p.ID)
	}
	p.IsSentToPatient = true
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return nil
}
