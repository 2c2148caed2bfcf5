package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/domain/patient"
)

// DirectoryHandler serves patient and doctor lookups.
type DirectoryHandler struct {
	repo   *patient.Repository
	logger *zap.Logger
}

// NewDirectoryHandler creates a new handler
func NewDirectoryHandler(repo *patient.Repository, logger *zap.Logger) *DirectoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryHandler{repo: repo, logger: logger}
}

// PatientRoutes returns the patient lookup routes
func (h *DirectoryHandler) PatientRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.GetPatient)
	return r
}

// DoctorRoutes returns the doctor lookup routes
func (h *DirectoryHandler) DoctorRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.GetDoctor)
	return r
}

// GetPatient handles GET /patients/{id}
func (h *DirectoryHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetDoctor handles GET /doctors/{id}
func (h *DirectoryHandler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	d, err := h.repo.GetDoctor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
