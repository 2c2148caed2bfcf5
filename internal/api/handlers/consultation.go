package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/api/middleware"
	"github.com/medscribe/go-scribe/internal/audit"
	"github.com/medscribe/go-scribe/internal/lifecycle"
)

// maxRecordingBytes caps consultation audio uploads at 50 MB.
const maxRecordingBytes = 50 << 20

// ConsultationHandler handles consultation endpoints
type ConsultationHandler struct {
	service  *lifecycle.Service
	recorder *audit.Recorder
	logger   *zap.Logger
}

// NewConsultationHandler creates a new handler
func NewConsultationHandler(service *lifecycle.Service, recorder *audit.Recorder, logger *zap.Logger) *ConsultationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultationHandler{service: service, recorder: recorder, logger: logger}
}

// Routes returns the handler routes
func (h *ConsultationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/transcript", h.ProcessTranscript)
	r.Post("/{id}/recording", h.UploadRecording)
	r.Post("/{id}/complete", h.Complete)
	r.Get("/{id}/audit", h.Audit)
	return r
}

// StartRequest is the request body for starting a consultation
type StartRequest struct {
	ClinicID  string `json:"clinicId"`
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
}

// Create handles POST /consultations
func (h *ConsultationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateConsultation(ctx, req.ClinicID, req.PatientID, req.DoctorID, middleware.GetClientID(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("consultation started",
		zap.String("id", c.ID),
		zap.String("patient_id", c.PatientID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, c)
}

// Get handles GET /consultations/{id}
func (h *ConsultationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetConsultation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// TranscriptRequest carries the authoritative final transcript.
type TranscriptRequest struct {
	Transcript string `json:"transcript"`
	AudioURL   string `json:"audioUrl"`
}

// ProcessTranscript handles POST /consultations/{id}/transcript
func (h *ConsultationHandler) ProcessTranscript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("consultation-handler")
	ctx, span := tracer.Start(ctx, "process_transcript")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("consultation_id", id))

	var req TranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, rec, err := h.service.ProcessTranscript(ctx, id, req.Transcript, req.AudioURL, middleware.GetClientID(ctx))
	if err != nil {
		h.logger.Warn("transcript processing failed",
			zap.String("id", id),
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consultation": c,
		"extraction":   rec,
	})
}

// UploadRecording handles POST /consultations/{id}/recording. The body is the
// raw audio; Content-Type is stored with the artifact.
func (h *ConsultationHandler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordingBytes))
	if err != nil {
		jsonError(w, "recording too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}

	c, err := h.service.AttachRecording(ctx, id, audio, r.Header.Get("Content-Type"), middleware.GetClientID(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("recording attached",
		zap.String("id", c.ID),
		zap.Int("bytes", len(audio)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, c)
}

// Complete handles POST /consultations/{id}/complete
func (h *ConsultationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	c, err := h.service.CompleteConsultation(ctx, id, middleware.GetClientID(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("consultation completed",
		zap.String("id", c.ID),
		zap.Int("duration_minutes", c.DurationMinutes))

	writeJSON(w, http.StatusOK, c)
}

// Audit handles GET /consultations/{id}/audit
func (h *ConsultationHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.recorder.ListForEntity(r.Context(), "consultation", chi.URLParam(r, "id"), limit)
	if err != nil {
		h.logger.Error("list audit entries failed", zap.Error(err))
		jsonError(w, "failed to load audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
