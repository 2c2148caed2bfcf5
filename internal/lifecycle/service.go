// Package lifecycle owns the consultation and prescription workflow: final
// transcript processing, prescription creation, the draft->finalized
// transition and patient delivery. External capabilities are injected as
// narrow interfaces; nothing here reaches for globals.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
	"github.com/medscribe/go-scribe/internal/domain/consultation"
	"github.com/medscribe/go-scribe/internal/domain/patient"
	"github.com/medscribe/go-scribe/internal/domain/prescription"
	"github.com/medscribe/go-scribe/internal/extraction"
	"github.com/medscribe/go-scribe/internal/infrastructure/redpanda"
	"github.com/medscribe/go-scribe/internal/notify"
	"github.com/medscribe/go-scribe/internal/render"
)

// ConsultationStore is the consultation persistence the service needs.
type ConsultationStore interface {
	Create(ctx context.Context, c *consultation.Consultation) error
	Get(ctx context.Context, id string) (*consultation.Consultation, error)
	Update(ctx context.Context, c *consultation.Consultation) error
	Exists(ctx context.Context, id string) (bool, error)
}

// PrescriptionStore is the prescription persistence the service needs.
type PrescriptionStore interface {
	Create(ctx context.Context, p *prescription.Prescription) error
	Get(ctx context.Context, id string) (*prescription.Prescription, error)
	Finalize(ctx context.Context, p *prescription.Prescription) error
	MarkSent(ctx context.Context, id string) error
}

// Directory reads patient, doctor and clinic records.
type Directory interface {
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)
	GetDoctor(ctx context.Context, id string) (*patient.Doctor, error)
	GetClinic(ctx context.Context, id string) (*patient.Clinic, error)
	PatientExists(ctx context.Context, id string) (bool, error)
}

// Extractor is the structured extraction capability.
type Extractor interface {
	ExtractClinicalRecord(ctx context.Context, transcript string) (*extraction.ClinicalRecord, error)
	ExplainForPatient(ctx context.Context, diagnosis string, medicines []extraction.Medicine, languageCode string) (*extraction.PatientExplanation, error)
}

// Renderer produces the printable document.
type Renderer interface {
	Render(doc *render.Document) ([]byte, error)
}

// ArtifactStore persists rendered documents and audio recordings.
type ArtifactStore interface {
	PutPrescriptionPDF(ctx context.Context, prescriptionNumber string, pdf []byte) (string, error)
	PutAudioRecording(ctx context.Context, consultationID string, audio []byte, contentType string) (string, error)
}

// Notifier fans a message out to the patient's channels.
type Notifier interface {
	Send(ctx context.Context, msg *notify.Message) []notify.Delivery
}

// Auditor records lifecycle transitions. Implementations never fail the
// audited operation.
type Auditor interface {
	Record(ctx context.Context, actorID, actorRole, action, entityType, entityID string, details map[string]interface{}) error
}

// EventSink enqueues domain events for the outbox relay.
type EventSink interface {
	Enqueue(ctx context.Context, aggregateType, aggregateID, eventType, topic string, payload interface{}) error
}

// Service is the lifecycle manager.
type Service struct {
	consultations ConsultationStore
	prescriptions PrescriptionStore
	directory     Directory
	extractor     Extractor
	renderer      Renderer
	artifacts     ArtifactStore
	notifier      Notifier
	auditor       Auditor
	events        EventSink
	logger        *zap.Logger
}

// Deps bundles the service's collaborators.
type Deps struct {
	Consultations ConsultationStore
	Prescriptions PrescriptionStore
	Directory     Directory
	Extractor     Extractor
	Renderer      Renderer
	Artifacts     ArtifactStore
	Notifier      Notifier
	Auditor       Auditor
	Events        EventSink
}

// NewService creates a new lifecycle service
func NewService(deps Deps, logger *zap.Logger) (*Service, error) {
	if deps.Consultations == nil || deps.Prescriptions == nil || deps.Directory == nil {
		return nil, fmt.Errorf("stores are required")
	}
	if deps.Extractor == nil || deps.Renderer == nil || deps.Artifacts == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("extractor, renderer, artifact store and notifier are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		consultations: deps.Consultations,
		prescriptions: deps.Prescriptions,
		directory:     deps.Directory,
		extractor:     deps.Extractor,
		renderer:      deps.Renderer,
		artifacts:     deps.Artifacts,
		notifier:      deps.Notifier,
		auditor:       deps.Auditor,
		events:        deps.Events,
		logger:        logger,
	}, nil
}

// CreateConsultation opens an in-progress consultation for a known patient.
func (s *Service) CreateConsultation(ctx context.Context, clinicID, patientID, doctorID, actorID string) (*consultation.Consultation, error) {
	if patientID == "" || doctorID == "" {
		return nil, apperror.Validationf("patientId and doctorId are required")
	}
	exists, err := s.directory.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.NotFound("patient", patientID)
	}

	c := consultation.New(uuid.NewString(), clinicID, patientID, doctorID)
	if err := s.consultations.Create(ctx, c); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "doctor", "consultation_started", "consultation", c.ID, nil)
	s.emit(ctx, "consultation", c.ID, "consultation.started", redpanda.TopicConsultationEvents, c)
	return c, nil
}

// GetConsultation reads one consultation.
func (s *Service) GetConsultation(ctx context.Context, id string) (*consultation.Consultation, error) {
	return s.consultations.Get(ctx, id)
}

// ProcessTranscript runs extraction over the authoritative final transcript
// and writes the derived fields onto the consultation. Nothing is persisted
// when extraction fails.
func (s *Service) ProcessTranscript(ctx context.Context, consultationID, transcript, audioURL, actorID string) (*consultation.Consultation, *extraction.ClinicalRecord, error) {
	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.extractor.ExtractClinicalRecord(ctx, transcript)
	if err != nil {
		return nil, nil, err
	}

	c.ApplyExtraction(transcript, audioURL, consultation.ClinicalFields{
		ChiefComplaint: rec.ChiefComplaint,
		History:        rec.History,
		Examination:    rec.Examination,
		Diagnosis:      rec.Diagnosis,
		TreatmentPlan:  rec.TreatmentPlan,
		Vitals:         rec.Vitals,
		FollowUp:       rec.FollowUp,
	})
	if err := s.consultations.Update(ctx, c); err != nil {
		return nil, nil, err
	}

	s.audit(ctx, actorID, "doctor", "transcript_processed", "consultation", c.ID, map[string]interface{}{
		"transcript_length": len(transcript),
		"diagnosis":         rec.Diagnosis,
	})
	s.emit(ctx, "consultation", c.ID, "consultation.transcript_processed", redpanda.TopicConsultationEvents, c)

	return c, rec, nil
}

// AttachRecording stores the consultation's assembled audio and records its
// URL. The audio artifact is supporting evidence; the transcript stays
// authoritative.
func (s *Service) AttachRecording(ctx context.Context, consultationID string, audio []byte, contentType, actorID string) (*consultation.Consultation, error) {
	if len(audio) == 0 {
		return nil, apperror.Validationf("recording is empty")
	}

	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	url, err := s.artifacts.PutAudioRecording(ctx, consultationID, audio, contentType)
	if err != nil {
		return nil, err
	}

	c.AudioRecordingURL = url
	if err := s.consultations.Update(ctx, c); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "doctor", "recording_attached", "consultation", c.ID, map[string]interface{}{
		"recording_url": url,
		"bytes":         len(audio),
	})
	return c, nil
}

// CompleteConsultation marks the consultation done. A follow-up
// recommendation, if present, turns into a queued reminder request handled
// by the notification worker.
func (s *Service) CompleteConsultation(ctx context.Context, consultationID, actorID string) (*consultation.Consultation, error) {
	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if c.Status == consultation.StatusCompleted {
		return nil, apperror.Conflict("consultation", c.ID, "already completed")
	}

	c.Complete()
	if err := s.consultations.Update(ctx, c); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "doctor", "consultation_completed", "consultation", c.ID, map[string]interface{}{
		"duration_minutes": c.DurationMinutes,
	})
	s.emit(ctx, "consultation", c.ID, "consultation.completed", redpanda.TopicConsultationEvents, c)

	if c.FollowUp != "" {
		s.enqueueFollowUpReminder(ctx, c)
	}
	return c, nil
}

// FollowUpReminder is the payload the notification worker consumes.
type FollowUpReminder struct {
	ConsultationID string `json:"consultationId"`
	PatientID      string `json:"patientId"`
	DoctorID       string `json:"doctorId"`
	FollowUp       string `json:"followUp"`
}

func (s *Service) enqueueFollowUpReminder(ctx context.Context, c *consultation.Consultation) {
	reminder := FollowUpReminder{
		ConsultationID: c.ID,
		PatientID:      c.PatientID,
		DoctorID:       c.DoctorID,
		FollowUp:       c.FollowUp,
	}
	if err := s.emitErr(ctx, "consultation", c.ID, "notification.follow_up", redpanda.TopicNotificationRequests, reminder); err != nil {
		s.logger.Error("enqueue follow-up reminder",
			zap.String("consultation_id", c.ID),
			zap.Error(err))
	}
}

// CreateInput is the prescription creation request.
type CreateInput struct {
	ConsultationID string
	PatientID      string
	DoctorID       string
	Medicines      []prescription.Medicine
	LabTests       []string
	Advice         string
}

// CreatePrescription opens a draft. Medicines must be a list; empty is fine,
// absent is not.
func (s *Service) CreatePrescription(ctx context.Context, in CreateInput, actorID string) (*prescription.Prescription, error) {
	if in.Medicines == nil {
		return nil, apperror.Validationf("medicines must be a list")
	}

	exists, err := s.consultations.Exists(ctx, in.ConsultationID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.NotFound("consultation", in.ConsultationID)
	}
	exists, err = s.directory.PatientExists(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.NotFound("patient", in.PatientID)
	}

	p, err := prescription.New(uuid.NewString(), in.ConsultationID, in.PatientID, in.DoctorID, in.Medicines, in.LabTests, in.Advice)
	if err != nil {
		return nil, err
	}
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "doctor", "prescription_created", "prescription", p.ID, map[string]interface{}{
		"prescription_number": p.PrescriptionNumber,
		"medicine_count":      len(p.Medicines),
	})
	s.emit(ctx, "prescription", p.ID, "prescription.created", redpanda.TopicPrescriptionEvents, p)

	return p, nil
}

// Finalize runs the explanation and render steps, then commits the
// draft->finalized transition in one guarded write. Any external failure
// aborts with the prescription still a draft.
func (s *Service) Finalize(ctx context.Context, prescriptionID, patientLanguage, actorID string) (*prescription.Prescription, error) {
	p, err := s.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	// This pre-check is advisory. Two concurrent finalizes can both pass it
	// and both render; the guarded repository update below lets exactly one
	// win and maps the loser to Conflict. The wasted render is accepted.
	if p.Status != prescription.StatusDraft {
		return nil, apperror.Conflict("prescription", p.ID, "already finalized")
	}

	c, err := s.consultations.Get(ctx, p.ConsultationID)
	if err != nil {
		return nil, err
	}
	if c.Diagnosis == "" {
		return nil, apperror.Validationf("consultation %s has no diagnosis", c.ID)
	}

	pat, err := s.directory.GetPatient(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}
	doc, err := s.directory.GetDoctor(ctx, p.DoctorID)
	if err != nil {
		return nil, err
	}
	clinic, err := s.directory.GetClinic(ctx, c.ClinicID)
	if err != nil && !apperror.IsNotFound(err) {
		return nil, err
	}

	if patientLanguage == "" {
		patientLanguage = pat.PreferredLanguage
	}

	medicines := make([]extraction.Medicine, len(p.Medicines))
	for i, m := range p.Medicines {
		medicines[i] = extraction.Medicine(m)
	}
	explained, err := s.extractor.ExplainForPatient(ctx, c.Diagnosis, medicines, patientLanguage)
	if err != nil {
		return nil, err
	}
	explanation := &prescription.PatientExplanation{
		Explanation:          explained.Explanation,
		MedicineInstructions: explained.MedicineInstructions,
		Precautions:          explained.Precautions,
		EmergencyWarning:     explained.EmergencyWarning,
	}

	pdf, err := s.renderer.Render(&render.Document{
		Prescription: p,
		Patient:      pat,
		Doctor:       doc,
		Clinic:       clinic,
		Diagnosis:    c.Diagnosis,
		FollowUp:     c.FollowUp,
	})
	if err != nil {
		return nil, apperror.External("document renderer", err)
	}

	documentURL, err := s.artifacts.PutPrescriptionPDF(ctx, p.PrescriptionNumber, pdf)
	if err != nil {
		return nil, err
	}

	if err := p.Finalize(explanation, documentURL); err != nil {
		return nil, err
	}
	if err := s.prescriptions.Finalize(ctx, p); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "doctor", "prescription_finalized", "prescription", p.ID, map[string]interface{}{
		"document_url": documentURL,
		"language":     patientLanguage,
	})
	s.emit(ctx, "prescription", p.ID, "prescription.finalized", redpanda.TopicPrescriptionEvents, p)

	return p, nil
}

// SendResult is the outcome of a delivery attempt.
type SendResult struct {
	Delivered  bool              `json:"delivered"`
	Deliveries []notify.Delivery `json:"deliveries"`
}

// SendToPatient fans the finalized prescription out to the patient's
// contact channels. At least one delivered channel marks the prescription
// sent; all channels failing surfaces an external error with the per-channel
// outcomes attached.
func (s *Service) SendToPatient(ctx context.Context, prescriptionID, actorID string) (*SendResult, error) {
	p, err := s.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if p.Status != prescription.StatusFinalized {
		return nil, apperror.Validationf("prescription %s is not finalized", p.ID)
	}

	pat, err := s.directory.GetPatient(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}
	if !pat.HasContactChannel() {
		return nil, apperror.Validationf("patient %s has no phone or email on record", pat.ID)
	}

	body := fmt.Sprintf("Your prescription %s is ready.", p.PrescriptionNumber)
	if p.PatientExplanation != nil && p.PatientExplanation.Explanation != "" {
		body = p.PatientExplanation.Explanation
	}
	deliveries := s.notifier.Send(ctx, &notify.Message{
		PatientName: pat.Name,
		Phone:       pat.Phone,
		Email:       pat.Email,
		Subject:     "Your prescription " + p.PrescriptionNumber,
		Body:        body,
		DocumentURL: p.DocumentURL,
	})

	result := &SendResult{
		Delivered:  notify.Delivered(deliveries),
		Deliveries: deliveries,
	}

	s.audit(ctx, actorID, "doctor", "prescription_sent", "prescription", p.ID, map[string]interface{}{
		"delivered":  result.Delivered,
		"deliveries": deliveries,
	})

	if !result.Delivered {
		return result, apperror.External("notification", fmt.Errorf("all channels failed for prescription %s", p.ID))
	}

	if err := s.prescriptions.MarkSent(ctx, p.ID); err != nil {
		return result, err
	}
	p.IsSentToPatient = true
	s.emit(ctx, "prescription", p.ID, "prescription.sent", redpanda.TopicPrescriptionEvents, result)

	return result, nil
}

func (s *Service) audit(ctx context.Context, actorID, actorRole, action, entityType, entityID string, details map[string]interface{}) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, actorID, actorRole, action, entityType, entityID, details); err != nil {
		s.logger.Error("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) emit(ctx context.Context, aggregateType, aggregateID, eventType, topic string, payload interface{}) {
	if err := s.emitErr(ctx, aggregateType, aggregateID, eventType, topic, payload); err != nil {
		s.logger.Error("emit event failed",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *Service) emitErr(ctx context.Context, aggregateType, aggregateID, eventType, topic string, payload interface{}) error {
	if s.events == nil {
		return nil
	}
	return s.events.Enqueue(ctx, aggregateType, aggregateID, eventType, topic, payload)
}
