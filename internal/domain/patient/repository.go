package patient

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

// Repository reads the patient/doctor directory tables.
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

// GetPatient retrieves a patient by ID.
func (r *Repository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	query := `
		SELECT id, clinic_id, name, COALESCE(age, 0), COALESCE(gender, ''),
		       COALESCE(phone, ''), COALESCE(email, ''),
		       COALESCE(preferred_language, ''), allergies, chronic_conditions,
		       created_at
		FROM patients
		WHERE id = $1
	`

	p := &Patient{}
	var allergies, conditions []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.ClinicID, &p.Name, &p.Age, &p.Gender,
		&p.Phone, &p.Email, &p.PreferredLanguage,
		&allergies, &conditions, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("patient", id)
		}
		return nil, fmt.Errorf("query patient: %w", err)
	}

	p.Allergies = unmarshalList(r.logger, "allergies", id, allergies)
	p.ChronicConditions = unmarshalList(r.logger, "chronic_conditions", id, conditions)
	return p, nil
}

// GetDoctor retrieves a doctor by ID.
func (r *Repository) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	query := `
		SELECT id, clinic_id, name, COALESCE(specialization, ''),
		       COALESCE(registration_number, '')
		FROM doctors
		WHERE id = $1
	`

	d := &Doctor{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.ClinicID, &d.Name, &d.Specialization, &d.RegistrationNumber,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("doctor", id)
		}
		return nil, fmt.Errorf("query doctor: %w", err)
	}
	return d, nil
}

// GetClinic retrieves clinic letterhead info by ID.
func (r *Repository) GetClinic(ctx context.Context, id string) (*Clinic, error) {
	query := `
		SELECT id, name, COALESCE(address, ''), COALESCE(phone, ''), COALESCE(email, '')
		FROM clinics
		WHERE id = $1
	`

	c := &Clinic{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("clinic", id)
		}
		return nil, fmt.Errorf("query clinic: %w", err)
	}
	return c, nil
}

// PatientExists reports whether a patient with the given ID is present.
func (r *Repository) PatientExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM patients WHERE id = $1)", id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return ok, nil
}

func unmarshalList(logger *zap.Logger, field, id string, raw []byte) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Warn("invalid directory payload",
			zap.String("field", field),
			zap.String("id", id),
			zap.Error(err))
		return nil
	}
	return out
}
