package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypeBatchCreated    = "batch.created"
	EventTypeDeadlineWarning = "session.deadline_warning"
	EventTypeSessionResolved = "session.resolved"
)

type BatchCreatedEvent struct {
	BaseEvent
	BatchID           string          `json:"batch_id"`
	SessionID         string          `json:"session_id"`
	BusinessID        string          `json:"business_id"`
	WeekNumber        int             `json:"week_number"`
	YearNumber        int             `json:"year_number"`
	TotalTransactions int             `json:"total_transactions"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Deadline          time.Time       `json:"deadline"`
}

func NewBatchCreatedEvent(batchID, sessionID, businessID string, week, year, totalTransactions int, totalAmount decimal.Decimal, deadline time.Time) *BatchCreatedEvent {
	return &BatchCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBatchCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id":           batchID,
				"session_id":         sessionID,
				"business_id":        businessID,
				"week_number":        week,
				"year_number":        year,
				"total_transactions": totalTransactions,
				"total_amount":       totalAmount.String(),
				"deadline":           deadline,
			},
		},
		BatchID:           batchID,
		SessionID:         sessionID,
		BusinessID:        businessID,
		WeekNumber:        week,
		YearNumber:        year,
		TotalTransactions: totalTransactions,
		TotalAmount:       totalAmount,
		Deadline:          deadline,
	}
}

// DeadlineWarningEvent asks for one scheduled reminder to be delivered.
type DeadlineWarningEvent struct {
	BaseEvent
	SessionID        string    `json:"session_id"`
	BatchID          string    `json:"batch_id"`
	BusinessID       string    `json:"business_id"`
	NotificationType string    `json:"notification_type"`
	Deadline         time.Time `json:"deadline"`
	Pending          int       `json:"pending_items"`
}

func NewDeadlineWarningEvent(sessionID, batchID, businessID, notificationType string, deadline time.Time, pending int) *DeadlineWarningEvent {
	return &DeadlineWarningEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDeadlineWarning,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"session_id":        sessionID,
				"batch_id":          batchID,
				"business_id":       businessID,
				"notification_type": notificationType,
				"deadline":          deadline,
				"pending_items":     pending,
			},
		},
		SessionID:        sessionID,
		BatchID:          batchID,
		BusinessID:       businessID,
		NotificationType: notificationType,
		Deadline:         deadline,
		Pending:          pending,
	}
}

// SessionResolvedEvent is published when the deadline sweep closes a session.
type SessionResolvedEvent struct {
	BaseEvent
	SessionID  string `json:"session_id"`
	BatchID    string `json:"batch_id"`
	BusinessID string `json:"business_id"`
	Outcome    string `json:"outcome"`
}

func NewSessionResolvedEvent(sessionID, batchID, businessID, outcome string) *SessionResolvedEvent {
	return &SessionResolvedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSessionResolved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"session_id":  sessionID,
				"batch_id":    batchID,
				"business_id": businessID,
				"outcome":     outcome,
			},
		},
		SessionID:  sessionID,
		BatchID:    batchID,
		BusinessID: businessID,
		Outcome:    outcome,
	}
}
