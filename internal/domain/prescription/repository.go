// Package prescription provides the prescription store. The store enforces
// the draft->finalized transition at the row level so two concurrent
// finalize calls cannot both succeed.
package prescription

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

// Repository persists prescriptions in PostgreSQL.
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

// Create inserts a draft prescription.
func (r *Repository) Create(ctx context.Context, p *Prescription) error {
	medicines, err := json.Marshal(p.Medicines)
	if err != nil {
		return fmt.Errorf("marshal medicines: %w", err)
	}
	labTests, err := json.Marshal(p.LabTests)
	if err != nil {
		return fmt.Errorf("marshal lab tests: %w", err)
	}

	query := `
		INSERT INTO prescriptions
		(id, consultation_id, patient_id, doctor_id, prescription_number,
		 medicines, lab_tests, advice, status, is_sent_to_patient, version,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID, p.ConsultationID, p.PatientID, p.DoctorID, p.PrescriptionNumber,
		medicines, labTests, p.Advice, p.Status, p.IsSentToPatient, p.Version,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

// Get retrieves a prescription by ID.
func (r *Repository) Get(ctx context.Context, id string) (*Prescription, error) {
	p, err := r.scanOne(ctx, "WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Finalize commits the draft->finalized transition. The status predicate in
// the WHERE clause is the concurrency guard: of two racing callers, exactly
// one updates the row; the other gets a ConflictError.
func (r *Repository) Finalize(ctx context.Context, p *Prescription) error {
	explanation, err := json.Marshal(p.PatientExplanation)
	if err != nil {
		return fmt.Errorf("marshal patient explanation: %w", err)
	}

	query := `
		UPDATE prescriptions
		SET status = $2, patient_explanation = $3, document_url = $4,
		    version = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`
	tag, err := r.pool.Exec(ctx, query, p.ID, StatusFinalized, explanation, p.DocumentURL, p.Version)
	if err != nil {
		return fmt.Errorf("finalize prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, p.ID)
		if err != nil {
			return err
		}
		if !exists {
			return apperror.NotFound("prescription", p.ID)
		}
		return apperror.Conflict("prescription", p.ID, "already finalized")
	}
	return nil
}

// MarkSent flips is_sent_to_patient on a finalized prescription.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE prescriptions
		SET is_sent_to_patient = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'finalized'
	`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return apperror.NotFound("prescription", id)
		}
		return apperror.Validationf("prescription %s is not finalized", id)
	}
	return nil
}

// ListByPatient returns a patient's prescriptions, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string, limit int) ([]*Prescription, error) {
	query := `
		SELECT id, consultation_id, patient_id, doctor_id, prescription_number,
		       medicines, lab_tests, COALESCE(advice, ''), patient_explanation,
		       COALESCE(document_url, ''), status, is_sent_to_patient, version,
		       created_at, updated_at
		FROM prescriptions
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) scanOne(ctx context.Context, where string, args ...interface{}) (*Prescription, error) {
	query := `
		SELECT id, consultation_id, patient_id, doctor_id, prescription_number,
		       medicines, lab_tests, COALESCE(advice, ''), patient_explanation,
		       COALESCE(document_url, ''), status, is_sent_to_patient, version,
		       created_at, updated_at
		FROM prescriptions
	` + where

	row := r.pool.QueryRow(ctx, query, args...)
	p, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("prescription", fmt.Sprint(args[0]))
		}
		return nil, err
	}
	return p, nil
}

func scanRow(row pgx.Row) (*Prescription, error) {
	p := &Prescription{}
	var medicines, labTests, explanation []byte
	err := row.Scan(
		&p.ID, &p.ConsultationID, &p.PatientID, &p.DoctorID, &p.PrescriptionNumber,
		&medicines, &labTests, &p.Advice, &explanation,
		&p.DocumentURL, &p.Status, &p.IsSentToPatient, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(medicines, &p.Medicines); err != nil {
		return nil, fmt.Errorf("unmarshal medicines: %w", err)
	}
	if err := json.Unmarshal(labTests, &p.LabTests); err != nil {
		return nil, fmt.Errorf("unmarshal lab tests: %w", err)
	}
	if len(explanation) > 0 && string(explanation) != "null" {
		p.PatientExplanation = &PatientExplanation{}
		if err := json.Unmarshal(explanation, p.PatientExplanation); err != nil {
			return nil, fmt.Errorf("unmarshal patient explanation: %w", err)
		}
	}
	return p, nil
}

func (r *Repository) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM prescriptions WHERE id = $1)", id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check prescription: %w", err)
	}
	return ok, nil
}
