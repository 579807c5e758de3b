package postgres

import (
	"context"

	"github.com/frahmantamala/cashback-settlement/internal/audit"
	auditDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/audit"
	"github.com/jmoiron/sqlx"
)

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) audit.RepositoryAPI {
	return &AuditRepository{db: db}
}

const insertEvent = `
INSERT INTO audit_events
	(id, event_type, actor_type, actor_id, batch_id, session_id, transaction_id, description, metadata, created_at)
VALUES
	(:id, :event_type, :actor_type, :actor_id, :batch_id, :session_id, :transaction_id, :description, :metadata, :created_at)`

func (r *AuditRepository) Append(ctx context.Context, event *auditDatamodel.Event) error {
	_, err := r.db.NamedExecContext(ctx, insertEvent, event)
	return err
}

const selectByBatch = `
SELECT id, event_type, actor_type, actor_id, batch_id, session_id, transaction_id, description, metadata, created_at
FROM audit_events
WHERE batch_id = $1
ORDER BY created_at ASC, id ASC
LIMIT $2`

func (r *AuditRepository) ListByBatch(ctx context.Context, batchID string, limit int) ([]*auditDatamodel.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var rows []*auditDatamodel.Event
	if err := r.db.SelectContext(ctx, &rows, selectByBatch, batchID, limit); err != nil {
		return nil, err
	}
	return rows, nil
}
