// Package audit records who did what to which record. Audit writes are
// best effort: a failed write is logged loudly but never fails the clinical
// operation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/infrastructure/postgres"
	"github.com/medscribe/go-scribe/internal/infrastructure/redpanda"
)

// Entry is one audit record.
type Entry struct {
	ID         string                 `json:"id"`
	ActorID    string                 `json:"actorId"`
	ActorRole  string                 `json:"actorRole"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// Recorder writes audit entries to the audit_logs table and mirrors them to
// the audit trail topic via the outbox.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRecorder creates a new recorder
func NewRecorder(pool *pgxpool.Pool, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{pool: pool, logger: logger}
}

// Record persists the entry. It always returns nil; audit must never block
// or abort the operation being audited.
func (r *Recorder) Record(ctx context.Context, actorID, actorRole, action, entityType, entityID string, details map[string]interface{}) error {
	entry := &Entry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		ActorRole:  actorRole,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		r.logger.Error("marshal audit details",
			zap.String("action", action),
			zap.Error(err))
		detailsJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		entry.ID, entry.ActorID, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil
	}

	outboxEntry, err := postgres.NewOutboxEntry(entityType, entityID, "audit."+action, redpanda.TopicAuditTrail, entry)
	if err == nil {
		err = postgres.WriteEntry(ctx, r.pool, outboxEntry)
	}
	if err != nil {
		r.logger.Error("audit trail enqueue failed",
			zap.String("action", action),
			zap.Error(err))
	}
	return nil
}

// ListForEntity returns the audit trail for one record, newest first.
func (r *Recorder) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, details, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var details []byte
		err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action,
			&e.EntityType, &e.EntityID, &details, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				r.logger.Warn("invalid audit details payload", zap.String("id", e.ID))
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
