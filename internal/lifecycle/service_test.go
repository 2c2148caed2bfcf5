package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
	"github.com/medscribe/go-scribe/internal/domain/consultation"
	"github.com/medscribe/go-scribe/internal/domain/patient"
	"github.com/medscribe/go-scribe/internal/domain/prescription"
	"github.com/medscribe/go-scribe/internal/extraction"
	"github.com/medscribe/go-scribe/internal/notify"
	"github.com/medscribe/go-scribe/internal/render"
)

// In-memory fakes for the service's collaborators.

type fakeConsultations struct {
	items map[string]*consultation.Consultation
}

func (f *fakeConsultations) Create(ctx context.Context, c *consultation.Consultation) error {
	f.items[c.ID] = c
	return nil
}

func (f *fakeConsultations) Get(ctx context.Context, id string) (*consultation.Consultation, error) {
	c, ok := f.items[id]
	if !ok {
		return nil, apperror.NotFound("consultation", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConsultations) Update(ctx context.Context, c *consultation.Consultation) error {
	if _, ok := f.items[c.ID]; !ok {
		return apperror.NotFound("consultation", c.ID)
	}
	f.items[c.ID] = c
	return nil
}

func (f *fakeConsultations) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := f.items[id]
	return ok, nil
}

type fakePrescriptions struct {
	items map[string]*prescription.Prescription
}

func (f *fakePrescriptions) Create(ctx context.Context, p *prescription.Prescription) error {
	f.items[p.ID] = p
	return nil
}

func (f *fakePrescriptions) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	p, ok := f.items[id]
	if !ok {
		return nil, apperror.NotFound("prescription", id)
	}
	cp := *p
	return &cp, nil
}

// Finalize mirrors the repository's guarded write: only a draft row updates.
func (f *fakePrescriptions) Finalize(ctx context.Context, p *prescription.Prescription) error {
	stored, ok := f.items[p.ID]
	if !ok {
		return apperror.NotFound("prescription", p.ID)
	}
	if stored.Status != prescription.StatusDraft {
		return apperror.Conflict("prescription", p.ID, "already finalized")
	}
	f.items[p.ID] = p
	return nil
}

func (f *fakePrescriptions) MarkSent(ctx context.Context, id string) error {
	stored, ok := f.items[id]
	if !ok {
		return apperror.NotFound("prescription", id)
	}
	stored.IsSentToPatient = true
	return nil
}

type fakeDirectory struct {
	patients map[string]*patient.Patient
	doctors  map[string]*patient.Doctor
	clinics  map[string]*patient.Clinic
}

func (f *fakeDirectory) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient", id)
	}
	return p, nil
}

func (f *fakeDirectory) GetDoctor(ctx context.Context, id string) (*patient.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, apperror.NotFound("doctor", id)
	}
	return d, nil
}

func (f *fakeDirectory) GetClinic(ctx context.Context, id string) (*patient.Clinic, error) {
	c, ok := f.clinics[id]
	if !ok {
		return nil, apperror.NotFound("clinic", id)
	}
	return c, nil
}

func (f *fakeDirectory) PatientExists(ctx context.Context, id string) (bool, error) {
	_, ok := f.patients[id]
	return ok, nil
}

type fakeExtractor struct {
	record      *extraction.ClinicalRecord
	explanation *extraction.PatientExplanation
	err         error
	language    string
}

func (f *fakeExtractor) ExtractClinicalRecord(ctx context.Context, transcript string) (*extraction.ClinicalRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

func (f *fakeExtractor) ExplainForPatient(ctx context.Context, diagnosis string, medicines []extraction.Medicine, languageCode string) (*extraction.PatientExplanation, error) {
	f.language = languageCode
	if f.err != nil {
		return nil, f.err
	}
	return f.explanation, nil
}

type fakeRenderer struct {
	err   error
	calls int
}

func (f *fakeRenderer) Render(doc *render.Document) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4"), nil
}

type fakeArtifacts struct {
	url string
	err error
}

func (f *fakeArtifacts) PutPrescriptionPDF(ctx context.Context, number string, pdf []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func (f *fakeArtifacts) PutAudioRecording(ctx context.Context, consultationID string, audio []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url + "/recordings/" + consultationID, nil
}

type fakeNotifier struct {
	deliveries []notify.Delivery
	got        *notify.Message
}

func (f *fakeNotifier) Send(ctx context.Context, msg *notify.Message) []notify.Delivery {
	f.got = msg
	return f.deliveries
}

type recordedEvent struct {
	eventType string
	topic     string
}

type fakeEvents struct {
	events []recordedEvent
}

func (f *fakeEvents) Enqueue(ctx context.Context, aggregateType, aggregateID, eventType, topic string, payload interface{}) error {
	f.events = append(f.events, recordedEvent{eventType: eventType, topic: topic})
	return nil
}

type fixture struct {
	service       *Service
	consultations *fakeConsultations
	prescriptions *fakePrescriptions
	directory     *fakeDirectory
	extractor     *fakeExtractor
	renderer      *fakeRenderer
	artifacts     *fakeArtifacts
	notifier      *fakeNotifier
	events        *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		consultations: &fakeConsultations{items: map[string]*consultation.Consultation{}},
		prescriptions: &fakePrescriptions{items: map[string]*prescription.Prescription{}},
		directory: &fakeDirectory{
			patients: map[string]*patient.Patient{
				"pat-1": {ID: "pat-1", Name: "Asha", Phone: "+919876543210", Email: "asha@example.com", PreferredLanguage: "hi"},
				"pat-2": {ID: "pat-2", Name: "Ravi"},
			},
			doctors: map[string]*patient.Doctor{
				"doc-1": {ID: "doc-1", Name: "Dr. Mehta"},
			},
			clinics: map[string]*patient.Clinic{
				"clinic-1": {ID: "clinic-1", Name: "City Clinic"},
			},
		},
		extractor: &fakeExtractor{
			record: &extraction.ClinicalRecord{
				ChiefComplaint: "fever",
				Diagnosis:      "viral fever",
				FollowUp:       "review in 3 days",
				Vitals:         map[string]string{"temperature": "101"},
				Medicines:      []extraction.Medicine{},
				LabTests:       []string{},
			},
			explanation: &extraction.PatientExplanation{Explanation: "aapko viral bukhar hai"},
		},
		renderer:  &fakeRenderer{},
		artifacts: &fakeArtifacts{url: "https://docs/rx.pdf"},
		notifier:  &fakeNotifier{deliveries: []notify.Delivery{{Channel: "sms", Success: true}}},
		events:    &fakeEvents{},
	}

	service, err := NewService(Deps{
		Consultations: f.consultations,
		Prescriptions: f.prescriptions,
		Directory:     f.directory,
		Extractor:     f.extractor,
		Renderer:      f.renderer,
		Artifacts:     f.artifacts,
		Notifier:      f.notifier,
		Events:        f.events,
	}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.service = service
	return f
}

func (f *fixture) startedConsultation(t *testing.T) *consultation.Consultation {
	t.Helper()
	c, err := f.service.CreateConsultation(context.Background(), "clinic-1", "pat-1", "doc-1", "doc-1")
	if err != nil {
		t.Fatalf("CreateConsultation: %v", err)
	}
	return c
}

func (f *fixture) draftPrescription(t *testing.T, consultationID string) *prescription.Prescription {
	t.Helper()
	p, err := f.service.CreatePrescription(context.Background(), CreateInput{
		ConsultationID: consultationID,
		PatientID:      "pat-1",
		DoctorID:       "doc-1",
		Medicines: []prescription.Medicine{
			{Name: "Paracetamol", Dosage: "500mg", Frequency: "TDS", Duration: "3 days"},
		},
	}, "doc-1")
	if err != nil {
		t.Fatalf("CreatePrescription: %v", err)
	}
	return p
}

func TestCreateConsultationUnknownPatient(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateConsultation(context.Background(), "clinic-1", "nobody", "doc-1", "doc-1")
	if !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessTranscriptAppliesExtraction(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)

	updated, rec, err := f.service.ProcessTranscript(context.Background(), c.ID, "doctor: you have fever", "https://audio/1.webm", "doc-1")
	if err != nil {
		t.Fatalf("ProcessTranscript: %v", err)
	}
	if updated.Diagnosis != "viral fever" || rec.Diagnosis != "viral fever" {
		t.Errorf("diagnosis not applied: %q / %q", updated.Diagnosis, rec.Diagnosis)
	}
	if updated.Transcription != "doctor: you have fever" {
		t.Errorf("transcription = %q", updated.Transcription)
	}

	stored := f.consultations.items[c.ID]
	if stored.Diagnosis != "viral fever" {
		t.Error("extraction result not persisted")
	}
}

func TestProcessTranscriptExtractionFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)
	f.extractor.err = apperror.External("language model", errors.New("down"))

	_, _, err := f.service.ProcessTranscript(context.Background(), c.ID, "transcript", "", "doc-1")
	if !apperror.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	if f.consultations.items[c.ID].Transcription != "" {
		t.Error("failed extraction must not persist the transcript")
	}
}

func TestAttachRecording(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)

	updated, err := f.service.AttachRecording(context.Background(), c.ID, []byte("webm-bytes"), "audio/webm", "doc-1")
	if err != nil {
		t.Fatalf("AttachRecording: %v", err)
	}
	want := f.artifacts.url + "/recordings/" + c.ID
	if updated.AudioRecordingURL != want {
		t.Errorf("AudioRecordingURL = %q, want %q", updated.AudioRecordingURL, want)
	}
	if f.consultations.items[c.ID].AudioRecordingURL != want {
		t.Error("recording url not persisted")
	}
}

func TestAttachRecordingEmptyAudio(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)

	if _, err := f.service.AttachRecording(context.Background(), c.ID, nil, "audio/webm", "doc-1"); !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCompleteConsultationEnqueuesFollowUp(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)
	if _, _, err := f.service.ProcessTranscript(context.Background(), c.ID, "transcript", "", "doc-1"); err != nil {
		t.Fatalf("ProcessTranscript: %v", err)
	}

	done, err := f.service.CompleteConsultation(context.Background(), c.ID, "doc-1")
	if err != nil {
		t.Fatalf("CompleteConsultation: %v", err)
	}
	if done.Status != consultation.StatusCompleted {
		t.Errorf("status = %q", done.Status)
	}

	var sawReminder bool
	for _, e := range f.events.events {
		if e.eventType == "notification.follow_up" {
			sawReminder = true
		}
	}
	if !sawReminder {
		t.Error("follow-up instruction should enqueue a reminder request")
	}

	if _, err := f.service.CompleteConsultation(context.Background(), c.ID, "doc-1"); !apperror.IsConflict(err) {
		t.Errorf("second complete: got %v", err)
	}
}

func TestCreatePrescriptionValidation(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)

	_, err := f.service.CreatePrescription(context.Background(), CreateInput{
		ConsultationID: c.ID, PatientID: "pat-1", DoctorID: "doc-1",
	}, "doc-1")
	if !apperror.IsValidation(err) {
		t.Errorf("nil medicines: got %v", err)
	}

	_, err = f.service.CreatePrescription(context.Background(), CreateInput{
		ConsultationID: "missing", PatientID: "pat-1", DoctorID: "doc-1",
		Medicines: []prescription.Medicine{},
	}, "doc-1")
	if !apperror.IsNotFound(err) {
		t.Errorf("unknown consultation: got %v", err)
	}
}

func TestFinalizeRequiresDiagnosis(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)
	p := f.draftPrescription(t, c.ID)

	// No transcript processed, so the consultation has no diagnosis yet.
	_, err := f.service.Finalize(context.Background(), p.ID, "", "doc-1")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.prescriptions.items[p.ID].Status != prescription.StatusDraft {
		t.Error("prescription must stay a draft")
	}
}

func TestFinalizeHappyPath(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)
	if _, _, err := f.service.ProcessTranscript(context.Background(), c.ID, "transcript", "", "doc-1"); err != nil {
		t.Fatalf("ProcessTranscript: %v", err)
	}
	p := f.draftPrescription(t, c.ID)

	final, err := f.service.Finalize(context.Background(), p.ID, "", "doc-1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.Status != prescription.StatusFinalized {
		t.Errorf("status = %q", final.Status)
	}
	if final.DocumentURL != "https://docs/rx.pdf" {
		t.Errorf("document url = %q", final.DocumentURL)
	}
	if final.PatientExplanation == nil || final.PatientExplanation.Explanation == "" {
		t.Error("explanation missing")
	}
	if f.extractor.language != "hi" {
		t.Errorf("language should default to the patient's preference, got %q", f.extractor.language)
	}

	// Second finalize loses the race.
	if _, err := f.service.Finalize(context.Background(), p.ID, "", "doc-1"); !apperror.IsConflict(err) {
		t.Errorf("second finalize: got %v", err)
	}
}

func TestFinalizeRenderFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)
	if _, _, err := f.service.ProcessTranscript(context.Background(), c.ID, "transcript", "", "doc-1"); err != nil {
		t.Fatalf("ProcessTranscript: %v", err)
	}
	p := f.draftPrescription(t, c.ID)
	f.renderer.err = errors.New("font missing")

	_, err := f.service.Finalize(context.Background(), p.ID, "", "doc-1")
	if !apperror.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	if f.prescriptions.items[p.ID].Status != prescription.StatusDraft {
		t.Error("render failure must leave the prescription a draft")
	}
}

func TestSendRequiresFinalized(t *testing.T) {
	f := newFixture(t)
	c := f.startedConsultation(t)
	p := f.draftPrescription(t, c.ID)

	_, err := f.service.SendToPatient(context.Background(), p.ID, "doc-1")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func finalizedPrescription(t *testing.T, f *fixture) *prescription.Prescription {
	t.Helper()
	c := f.startedConsultation(t)
	if _, _, err := f.service.ProcessTranscript(context.Background(), c.ID, "transcript", "", "doc-1"); err != nil {
		t.Fatalf("ProcessTranscript: %v", err)
	}
	p := f.draftPrescription(t, c.ID)
	final, err := f.service.Finalize(context.Background(), p.ID, "", "doc-1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return final
}

func TestSendToPatient(t *testing.T) {
	f := newFixture(t)
	p := finalizedPrescription(t, f)

	result, err := f.service.SendToPatient(context.Background(), p.ID, "doc-1")
	if err != nil {
		t.Fatalf("SendToPatient: %v", err)
	}
	if !result.Delivered {
		t.Error("expected delivery")
	}
	if !f.prescriptions.items[p.ID].IsSentToPatient {
		t.Error("prescription should be marked sent")
	}
	if f.notifier.got == nil || f.notifier.got.DocumentURL != "https://docs/rx.pdf" {
		t.Errorf("message = %+v", f.notifier.got)
	}
	if f.notifier.got.Body != "aapko viral bukhar hai" {
		t.Errorf("body should use the patient explanation, got %q", f.notifier.got.Body)
	}
}

func TestSendAllChannelsFail(t *testing.T) {
	f := newFixture(t)
	p := finalizedPrescription(t, f)
	f.notifier.deliveries = []notify.Delivery{
		{Channel: "sms", Success: false, Error: "gateway down"},
		{Channel: "email", Success: false, Error: "mailbox full"},
	}

	result, err := f.service.SendToPatient(context.Background(), p.ID, "doc-1")
	if !apperror.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	if result == nil || len(result.Deliveries) != 2 {
		t.Fatalf("per-channel outcomes must survive the failure: %+v", result)
	}
	if f.prescriptions.items[p.ID].IsSentToPatient {
		t.Error("failed send must not mark the prescription sent")
	}
}

func TestSendNoContactChannel(t *testing.T) {
	f := newFixture(t)
	p := finalizedPrescription(t, f)
	stored := f.prescriptions.items[p.ID]
	stored.PatientID = "pat-2"

	_, err := f.service.SendToPatient(context.Background(), p.ID, "doc-1")
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
