package notification

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/frahmantamala/cashback-settlement/internal/business"
	"github.com/frahmantamala/cashback-settlement/internal/core/events"
)

type BusinessLookup interface {
	GetActive(ctx context.Context, id string) (*business.Business, error)
}

type Outbox interface {
	Enqueue(msg Message) error
}

// EventHandler turns domain events into messages for the business contact.
type EventHandler struct {
	businesses BusinessLookup
	outbox     Outbox
	logger     *slog.Logger
}

func NewEventHandler(businesses BusinessLookup, outbox Outbox, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		businesses: businesses,
		outbox:     outbox,
		logger:     logger,
	}
}

func (h *EventHandler) recipient(ctx context.Context, businessID string) (*business.Business, error) {
	b, err := h.businesses.GetActive(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("resolve business %s: %w", businessID, err)
	}
	if b.ContactEmail == "" {
		return nil, fmt.Errorf("business %s: %w", businessID, ErrNoRecipient)
	}
	return b, nil
}

func (h *EventHandler) HandleBatchCreated(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.BatchCreatedEvent)
	if !ok {
		h.logger.Error("invalid event type for batch created handler", "event_type", event.EventType())
		return fmt.Errorf("expected BatchCreatedEvent, got %T", event)
	}
	b, err := h.recipient(ctx, e.BusinessID)
	if err != nil {
		h.logger.Warn("no recipient for batch notification", "error", err, "batch_id", e.BatchID)
		return err
	}
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>A new cash-back batch for week %d/%d is ready for verification: %d transactions totalling %s SEK.</p>"+
			"<p>Please verify it before %s.</p>",
		html.EscapeString(b.Name), e.WeekNumber, e.YearNumber, e.TotalTransactions, e.TotalAmount.StringFixed(2),
		e.Deadline.UTC().Format(time.RFC1123))
	return h.outbox.Enqueue(Message{
		Kind:      KindBatchCreated,
		To:        b.ContactEmail,
		Subject:   fmt.Sprintf("Verification batch for week %d/%d", e.WeekNumber, e.YearNumber),
		Body:      body,
		SessionID: e.SessionID,
		BatchID:   e.BatchID,
	})
}

func (h *EventHandler) HandleDeadlineWarning(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.DeadlineWarningEvent)
	if !ok {
		h.logger.Error("invalid event type for deadline warning handler", "event_type", event.EventType())
		return fmt.Errorf("expected DeadlineWarningEvent, got %T", event)
	}
	b, err := h.recipient(ctx, e.BusinessID)
	if err != nil {
		h.logger.Warn("no recipient for deadline warning", "error", err, "session_id", e.SessionID)
		return err
	}
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>%d transaction(s) still need a decision. The verification deadline is %s.</p>"+
			"<p>Unverified batches may be approved or expired automatically once the deadline passes.</p>",
		html.EscapeString(b.Name), e.Pending, e.Deadline.UTC().Format(time.RFC1123))
	return h.outbox.Enqueue(Message{
		Kind:      KindDeadlineWarning,
		To:        b.ContactEmail,
		Subject:   "Verification deadline approaching (" + e.NotificationType + ")",
		Body:      body,
		SessionID: e.SessionID,
		BatchID:   e.BatchID,
	})
}

func (h *EventHandler) HandleSessionResolved(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.SessionResolvedEvent)
	if !ok {
		h.logger.Error("invalid event type for session resolved handler", "event_type", event.EventType())
		return fmt.Errorf("expected SessionResolvedEvent, got %T", event)
	}
	b, err := h.recipient(ctx, e.BusinessID)
	if err != nil {
		h.logger.Warn("no recipient for session outcome", "error", err, "session_id", e.SessionID)
		return err
	}
	return h.outbox.Enqueue(Message{
		Kind:      KindSessionResolved,
		To:        b.ContactEmail,
		Subject:   "Verification session " + e.Outcome,
		Body:      fmt.Sprintf("<p>Hello %s,</p><p>Your verification session was closed with outcome <b>%s</b>.</p>", html.EscapeString(b.Name), e.Outcome),
		SessionID: e.SessionID,
		BatchID:   e.BatchID,
	})
}

func (h *EventHandler) RegisterEventHandlers(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeBatchCreated, h.HandleBatchCreated)
	bus.Subscribe(events.EventTypeDeadlineWarning, h.HandleDeadlineWarning)
	bus.Subscribe(events.EventTypeSessionResolved, h.HandleSessionResolved)

	h.logger.Info("notification event handlers registered",
		"handlers", []string{events.EventTypeBatchCreated, events.EventTypeDeadlineWarning, events.EventTypeSessionResolved})
}
