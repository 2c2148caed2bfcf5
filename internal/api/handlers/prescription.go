package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/api/middleware"
	"github.com/medscribe/go-scribe/internal/audit"
	"github.com/medscribe/go-scribe/internal/domain/apperror"
	"github.com/medscribe/go-scribe/internal/domain/prescription"
	"github.com/medscribe/go-scribe/internal/lifecycle"
)

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	service  *lifecycle.Service
	repo     *prescription.Repository
	recorder *audit.Recorder
	logger   *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(service *lifecycle.Service, repo *prescription.Repository, recorder *audit.Recorder, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{service: service, repo: repo, recorder: recorder, logger: logger}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/finalize", h.Finalize)
	r.Post("/{id}/send", h.Send)
	r.Get("/{id}/audit", h.Audit)
	r.Get("/patient/{patientID}", h.ListByPatient)
	return r
}

// CreateRequest is the request body for creating a prescription
type CreateRequest struct {
	ConsultationID string                  `json:"consultationId"`
	PatientID      string                  `json:"patientId"`
	DoctorID       string                  `json:"doctorId"`
	Medicines      []prescription.Medicine `json:"medicines"`
	LabTests       []string                `json:"labTests"`
	Advice         string                  `json:"advice"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.service.CreatePrescription(ctx, lifecycle.CreateInput{
		ConsultationID: req.ConsultationID,
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		Medicines:      req.Medicines,
		LabTests:       req.LabTests,
		Advice:         req.Advice,
	}, middleware.GetClientID(ctx))
	if err != nil {
		h.logger.Warn("create prescription failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		writeDomainError(w, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", p.ID))

	h.logger.Info("prescription created",
		zap.String("id", p.ID),
		zap.String("number", p.PrescriptionNumber),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// FinalizeRequest is the request body for finalizing
type FinalizeRequest struct {
	PatientLanguage string `json:"patientLanguage"`
}

// Finalize handles POST /prescriptions/{id}/finalize
func (h *PrescriptionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "finalize_prescription")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("prescription_id", id))

	var req FinalizeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	p, err := h.service.Finalize(ctx, id, req.PatientLanguage, middleware.GetClientID(ctx))
	if err != nil {
		if apperror.IsConflict(err) {
			h.logger.Info("finalize conflict", zap.String("id", id))
		} else {
			h.logger.Warn("finalize failed", zap.String("id", id), zap.Error(err))
		}
		writeDomainError(w, err)
		return
	}

	h.logger.Info("prescription finalized",
		zap.String("id", p.ID),
		zap.String("document_url", p.DocumentURL),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, p)
}

// Send handles POST /prescriptions/{id}/send
func (h *PrescriptionHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	result, err := h.service.SendToPatient(ctx, id, middleware.GetClientID(ctx))
	if err != nil {
		// Per-channel outcomes still matter when everything failed.
		if result != nil && apperror.IsExternal(err) {
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		writeDomainError(w, err)
		return
	}

	h.logger.Info("prescription sent",
		zap.String("id", id),
		zap.Int("channels", len(result.Deliveries)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, result)
}

// Audit handles GET /prescriptions/{id}/audit
func (h *PrescriptionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.recorder.ListForEntity(r.Context(), "prescription", chi.URLParam(r, "id"), limit)
	if err != nil {
		h.logger.Error("list audit entries failed", zap.Error(err))
		jsonError(w, "failed to load audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListByPatient handles GET /prescriptions/patient/{patientID}
func (h *PrescriptionHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	list, err := h.repo.ListByPatient(r.Context(), chi.URLParam(r, "patientID"), limit)
	if err != nil {
		h.logger.Error("list prescriptions failed", zap.Error(err))
		jsonError(w, "failed to list prescriptions", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*prescription.Prescription{}
	}
	writeJSON(w, http.StatusOK, list)
}
