// Package audit records the append-only trail of every batch, session and
// item transition.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/cashback-settlement/internal"
	auditDatamodel "github.com/frahmantamala/cashback-settlement/internal/core/datamodel/audit"
	"github.com/frahmantamala/cashback-settlement/internal/metrics"
	"github.com/google/uuid"
)

type EventType string

const (
	EventBatchCreated           EventType = "batch_created"
	EventBatchCancelled         EventType = "batch_cancelled"
	EventFraudPatternsDetected  EventType = "fraud_patterns_detected"
	EventFraudAssessed          EventType = "fraud_assessment_recorded"
	EventSessionDownloaded      EventType = "session_downloaded"
	EventSessionStarted         EventType = "session_started"
	EventSessionSubmitted       EventType = "session_submitted"
	EventSessionCompleted       EventType = "session_completed"
	EventSessionAutoApproved    EventType = "session_auto_approved"
	EventSessionExpired         EventType = "session_expired"
	EventItemVerified           EventType = "item_verified"
	EventAlreadyVerifiedAttempt EventType = "already_verified_attempt"
	EventItemAdminOverride      EventType = "item_admin_override"
	EventResultsUploaded        EventType = "verification_results_uploaded"
	EventUploadRejected         EventType = "verification_upload_rejected"
	EventDeadlineExtended       EventType = "deadline_extended"
)

type Event struct {
	ID            string                 `json:"id"`
	EventType     EventType              `json:"event_type"`
	ActorType     internal.ActorType     `json:"actor_type"`
	ActorID       string                 `json:"actor_id"`
	BatchID       string                 `json:"batch_id,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Description   string                 `json:"description"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewEvent starts an event authored by actor.
func NewEvent(actor internal.Actor, eventType EventType, description string) Event {
	return Event{
		EventType:   eventType,
		ActorType:   actor.Type,
		ActorID:     actor.ID,
		Description: description,
	}
}

func (e Event) ForBatch(batchID string) Event {
	e.BatchID = batchID
	return e
}

func (e Event) ForSession(sessionID string) Event {
	e.SessionID = sessionID
	return e
}

func (e Event) ForTransaction(transactionID string) Event {
	e.TransactionID = transactionID
	return e
}

func (e Event) With(key string, value interface{}) Event {
	md := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// Recorder is what the lifecycle services need from the audit trail.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

type RepositoryAPI interface {
	Append(ctx context.Context, event *auditDatamodel.Event) error
	ListByBatch(ctx context.Context, batchID string, limit int) ([]*auditDatamodel.Event, error)
}

type Service struct {
	repo    RepositoryAPI
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo RepositoryAPI, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{repo: repo, logger: logger, metrics: m, now: time.Now}
}

func (s *Service) Record(ctx context.Context, event Event) error {
	if event.EventType == "" {
		return internal.NewValidationError("audit event type is required", internal.ErrCodeValidationFailed)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	row, err := ToDataModel(event)
	if err != nil {
		return err
	}
	if err := s.repo.Append(ctx, row); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *Service) ListByBatch(ctx context.Context, batchID string, limit int) ([]Event, error) {
	if batchID == "" {
		return nil, internal.NewValidationFieldError("batch_id", "batch_id is required", internal.ErrCodeValidationFailed)
	}
	rows, err := s.repo.ListByBatch(ctx, batchID, limit)
	if err != nil {
		s.logger.Error("failed to list audit events", "error", err, "batch_id", batchID)
		return nil, internal.AsAppError(err)
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromDataModel(r))
	}
	return out, nil
}

// Emit records event after the state change it describes has committed. A
// failure is logged and counted but never undoes that change.
func Emit(ctx context.Context, r Recorder, logger *slog.Logger, m *metrics.Metrics, event Event) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, event); err != nil {
		m.AuditFailure()
		logger.Error("failed to record audit event",
			"error", err,
			"event_type", event.EventType,
			"batch_id", event.BatchID,
			"session_id", event.SessionID,
			"transaction_id", event.TransactionID)
	}
}

func ToDataModel(e Event) (*auditDatamodel.Event, error) {
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = raw
	}
	return &auditDatamodel.Event{
		ID:            e.ID,
		EventType:     string(e.EventType),
		ActorType:     string(e.ActorType),
		ActorID:       e.ActorID,
		BatchID:       optional(e.BatchID),
		SessionID:     optional(e.SessionID),
		TransactionID: optional(e.TransactionID),
		Description:   e.Description,
		Metadata:      metadata,
		CreatedAt:     e.CreatedAt,
	}, nil
}

func FromDataModel(row *auditDatamodel.Event) Event {
	e := Event{
		ID:          row.ID,
		EventType:   EventType(row.EventType),
		ActorType:   internal.ActorType(row.ActorType),
		ActorID:     row.ActorID,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
	}
	if row.BatchID != nil {
		e.BatchID = *row.BatchID
	}
	if row.SessionID != nil {
		e.SessionID = *row.SessionID
	}
	if row.TransactionID != nil {
		e.TransactionID = *row.TransactionID
	}
	if len(row.Metadata) > 0 {
		var md map[string]interface{}
		if err := row.Metadata.Unmarshal(&md); err == nil && len(md) > 0 {
			e.Metadata = md
		}
	}
	return e
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
