package audit

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type Event struct {
	ID            string         `db:"id"`
	EventType     string         `db:"event_type"`
	ActorType     string         `db:"actor_type"`
	ActorID       string         `db:"actor_id"`
	BatchID       *string        `db:"batch_id"`
	SessionID     *string        `db:"session_id"`
	TransactionID *string        `db:"transaction_id"`
	Description   string         `db:"description"`
	Metadata      types.JSONText `db:"metadata"`
	CreatedAt     time.Time      `db:"created_at"`
}
