package notification_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/business"
	"github.com/frahmantamala/cashback-settlement/internal/core/events"
	"github.com/frahmantamala/cashback-settlement/internal/notification"
)

type stubBusinesses map[string]*business.Business

func (s stubBusinesses) GetActive(_ context.Context, id string) (*business.Business, error) {
	b, ok := s[id]
	if !ok {
		return nil, internal.ErrBusinessNotFound
	}
	return b, nil
}

type mockOutbox struct {
	messages []notification.Message
}

func (m *mockOutbox) Enqueue(msg notification.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

var _ = Describe("EventHandler", func() {
	var (
		outbox  *mockOutbox
		handler *notification.EventHandler
		ctx     context.Context
		due     time.Time
	)

	BeforeEach(func() {
		outbox = &mockOutbox{}
		handler = notification.NewEventHandler(stubBusinesses{
			"biz-1": {ID: "biz-1", Name: "Kafé <Linnea>", ContactEmail: "owner@linnea.se", IsActive: true},
			"biz-2": {ID: "biz-2", Name: "No Mail AB", IsActive: true},
		}, outbox, testLogger)
		ctx = context.Background()
		due = time.Date(2025, 3, 17, 12, 0, 0, 0, time.UTC)
	})

	It("mails the business contact when a batch is created", func() {
		// Given
		event := events.NewBatchCreatedEvent("batch-1", "session-1", "biz-1", 11, 2025, 2, decimal.RequireFromString("240.5"), due)

		// When
		err := handler.HandleBatchCreated(ctx, event)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(outbox.messages).To(HaveLen(1))
		msg := outbox.messages[0]
		Expect(msg.Kind).To(Equal(notification.KindBatchCreated))
		Expect(msg.To).To(Equal("owner@linnea.se"))
		Expect(msg.Subject).To(ContainSubstring("week 11/2025"))
		Expect(msg.Body).To(ContainSubstring("240.50 SEK"))
		Expect(msg.Body).To(ContainSubstring("Kafé &lt;Linnea&gt;"))
		Expect(msg.SessionID).To(Equal("session-1"))
	})

	It("includes the pending count in deadline warnings", func() {
		event := events.NewDeadlineWarningEvent("session-1", "batch-1", "biz-1", "24_hour_warning", due, 3)

		Expect(handler.HandleDeadlineWarning(ctx, event)).To(Succeed())

		Expect(outbox.messages[0].Subject).To(ContainSubstring("24_hour_warning"))
		Expect(outbox.messages[0].Body).To(ContainSubstring("3 transaction(s)"))
	})

	It("reports the outcome of a resolved session", func() {
		event := events.NewSessionResolvedEvent("session-1", "batch-1", "biz-1", "auto_approved")

		Expect(handler.HandleSessionResolved(ctx, event)).To(Succeed())

		Expect(outbox.messages[0].Kind).To(Equal(notification.KindSessionResolved))
		Expect(outbox.messages[0].Subject).To(HaveSuffix("auto_approved"))
	})

	It("fails without a contact address or business", func() {
		Expect(handler.HandleSessionResolved(ctx, events.NewSessionResolvedEvent("s", "b", "biz-2", "expired"))).
			To(MatchError(notification.ErrNoRecipient))
		Expect(handler.HandleSessionResolved(ctx, events.NewSessionResolvedEvent("s", "b", "biz-9", "expired"))).
			To(MatchError(internal.ErrBusinessNotFound))
		Expect(outbox.messages).To(BeEmpty())
	})

	It("rejects events of the wrong type", func() {
		err := handler.HandleBatchCreated(ctx, events.NewSessionResolvedEvent("s", "b", "biz-1", "expired"))

		Expect(err).To(HaveOccurred())
	})

	It("subscribes to the bus", func() {
		bus := events.NewEventBus(testLogger)
		handler.RegisterEventHandlers(bus)

		Expect(bus.PublishSync(ctx, events.NewSessionResolvedEvent("session-1", "batch-1", "biz-1", "completed"))).To(Succeed())

		Expect(outbox.messages).To(HaveLen(1))
	})
})
