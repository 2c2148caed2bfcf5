// Package patient exposes the patient/doctor directory the core reads.
// These records are owned by the surrounding clinic system; the scribe
// engine treats them as a read-mostly collaborator surface.
package patient

import "time"

// Patient is a clinic patient record.
type Patient struct {
	ID                string    `json:"id"`
	ClinicID          string    `json:"clinicId"`
	Name              string    `json:"name"`
	Age               int       `json:"age,omitempty"`
	Gender            string    `json:"gender,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	Email             string    `json:"email,omitempty"`
	PreferredLanguage string    `json:"preferredLanguage,omitempty"`
	Allergies         []string  `json:"allergies,omitempty"`
	ChronicConditions []string  `json:"chronicConditions,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// HasContactChannel reports whether at least one notification channel is
// available for the patient.
func (p *Patient) HasContactChannel() bool {
	return p.Phone != "" || p.Email != ""
}

// Doctor is a clinic doctor record.
type Doctor struct {
	ID                 string `json:"id"`
	ClinicID           string `json:"clinicId"`
	Name               string `json:"name"`
	Specialization     string `json:"specialization,omitempty"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
}

// Clinic is the letterhead information used on rendered documents.
type Clinic struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}
