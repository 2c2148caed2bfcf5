// Package consultation holds the consultation record and its store.
package consultation

import (
	"time"
)

// Status represents consultation status
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Consultation is the persisted record for one doctor-patient encounter.
// The raw transcription is authoritative; the structured fields are derived
// from it by the extraction engine and may be edited by the doctor afterward.
type Consultation struct {
	ID                string            `json:"id"`
	ClinicID          string            `json:"clinicId"`
	PatientID         string            `json:"patientId"`
	DoctorID          string            `json:"doctorId"`
	ConsultationDate  time.Time         `json:"consultationDate"`
	Transcription     string            `json:"transcription,omitempty"`
	AudioRecordingURL string            `json:"audioRecordingUrl,omitempty"`
	ChiefComplaint    string            `json:"chiefComplaint,omitempty"`
	History           string            `json:"history,omitempty"`
	Examination       string            `json:"examination,omitempty"`
	Diagnosis         string            `json:"diagnosis,omitempty"`
	TreatmentPlan     string            `json:"treatmentPlan,omitempty"`
	Vitals            map[string]string `json:"vitals,omitempty"`
	FollowUp          string            `json:"followUp,omitempty"`
	Status            Status            `json:"status"`
	DurationMinutes   int               `json:"durationMinutes,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// New returns an in-progress consultation for the given participants.
func New(id, clinicID, patientID, doctorID string) *Consultation {
	now := time.Now().UTC()
	return &Consultation{
		ID:               id,
		ClinicID:         clinicID,
		PatientID:        patientID,
		DoctorID:         doctorID,
		ConsultationDate: now,
		Vitals:           map[string]string{},
		Status:           StatusInProgress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ClinicalFields is the extraction output applied to a consultation after the
// final transcript is processed. Values overwrite the current fields; empty
// values clear nothing the doctor typed by hand because the extraction runs
// before review.
type ClinicalFields struct {
	ChiefComplaint string
	History        string
	Examination    string
	Diagnosis      string
	TreatmentPlan  string
	Vitals         map[string]string
	FollowUp       string
}

// ApplyExtraction records the authoritative transcript and the structured
// fields derived from it.
func (c *Consultation) ApplyExtraction(transcript, audioURL string, f ClinicalFields) {
	c.Transcription = transcript
	c.AudioRecordingURL = audioURL
	c.ChiefComplaint = f.ChiefComplaint
	c.History = f.History
	c.Examination = f.Examination
	c.Diagnosis = f.Diagnosis
	c.TreatmentPlan = f.TreatmentPlan
	if f.Vitals != nil {
		c.Vitals = f.Vitals
	}
	c.FollowUp = f.FollowUp
	c.UpdatedAt = time.Now().UTC()
}

// Complete marks the consultation completed and records its duration.
func (c *Consultation) Complete() {
	now := time.Now().UTC()
	c.Status = StatusCompleted
	c.DurationMinutes = int(now.Sub(c.ConsultationDate).Minutes())
	c.UpdatedAt = now
}
