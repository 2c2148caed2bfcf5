// Package consultation provides the consultation store.
package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

// Repository persists consultations in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Create inserts a new consultation record.
func (r *Repository) Create(ctx context.Context, c *Consultation) error {
	vitals, err := json.Marshal(c.Vitals)
	if err != nil {
		return fmt.Errorf("marshal vitals: %w", err)
	}

	query := `
		INSERT INTO consultations
		(id, clinic_id, patient_id, doctor_id, consultation_date, vitals, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID, c.ClinicID, c.PatientID, c.DoctorID, c.ConsultationDate,
		vitals, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

// Get retrieves a consultation by ID.
func (r *Repository) Get(ctx context.Context, id string) (*Consultation, error) {
	query := `
		SELECT id, clinic_id, patient_id, doctor_id, consultation_date,
		       COALESCE(transcription, ''), COALESCE(audio_recording_url, ''),
		       COALESCE(chief_complaint, ''), COALESCE(history_of_present_illness, ''),
		       COALESCE(examination_findings, ''), COALESCE(diagnosis, ''),
		       COALESCE(treatment_plan, ''), vitals, COALESCE(follow_up, ''),
		       status, COALESCE(duration_minutes, 0), created_at, updated_at
		FROM consultations
		WHERE id = $1
	`

	c := &Consultation{}
	var vitals []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.ClinicID, &c.PatientID, &c.DoctorID, &c.ConsultationDate,
		&c.Transcription, &c.AudioRecordingURL,
		&c.ChiefComplaint, &c.History, &c.Examination, &c.Diagnosis,
		&c.TreatmentPlan, &vitals, &c.FollowUp,
		&c.Status, &c.DurationMinutes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("consultation", id)
		}
		return nil, fmt.Errorf("query consultation: %w", err)
	}

	if len(vitals) > 0 {
		if err := json.Unmarshal(vitals, &c.Vitals); err != nil {
			r.logger.Warn("invalid vitals payload", zap.String("id", id), zap.Error(err))
			c.Vitals = map[string]string{}
		}
	}
	return c, nil
}

// Update writes back the mutable fields of a consultation in one statement.
func (r *Repository) Update(ctx context.Context, c *Consultation) error {
	vitals, err := json.Marshal(c.Vitals)
	if err != nil {
		return fmt.Errorf("marshal vitals: %w", err)
	}

	query := `
		UPDATE consultations
		SET transcription = $2, audio_recording_url = $3, chief_complaint = $4,
		    history_of_present_illness = $5, examination_findings = $6,
		    diagnosis = $7, treatment_plan = $8, vitals = $9, follow_up = $10,
		    status = $11, duration_minutes = $12, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		c.ID, c.Transcription, c.AudioRecordingURL, c.ChiefComplaint,
		c.History, c.Examination, c.Diagnosis, c.TreatmentPlan,
		vitals, c.FollowUp, c.Status, c.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("consultation", c.ID)
	}
	return nil
}

// Exists reports whether a consultation with the given ID is present.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM consultations WHERE id = $1)", id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check consultation: %w", err)
	}
	return ok, nil
}
