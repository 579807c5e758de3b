package notification_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/cashback-settlement/internal/metrics"
	"github.com/frahmantamala/cashback-settlement/internal/notification"
)

type mockSender struct {
	mu       sync.Mutex
	sent     []notification.Message
	failures int
	block    chan struct{}
}

func (m *mockSender) Send(_ context.Context, msg notification.Message) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("smtp 451 temporary failure")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) messages() []notification.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.Message(nil), m.sent...)
}

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

var _ = Describe("Dispatcher", func() {
	var (
		sender     *mockSender
		dispatcher *notification.Dispatcher
	)

	BeforeEach(func() {
		dispatcher = nil
	})

	AfterEach(func() {
		if dispatcher != nil {
			dispatcher.Shutdown()
		}
	})

	It("delivers queued messages through the worker pool", func() {
		// Given
		sender = &mockSender{}
		dispatcher = notification.NewDispatcher(sender, notification.DispatcherConfig{MaxWorkers: 2}, metrics.New(), testLogger)

		// When
		for _, to := range []string{"a@cafe.se", "b@cafe.se", "c@cafe.se"} {
			Expect(dispatcher.Enqueue(notification.Message{Kind: notification.KindBatchCreated, To: to})).To(Succeed())
		}

		// Then
		Eventually(func() int { return len(sender.messages()) }).Should(Equal(3))
	})

	It("retries a failed send", func() {
		sender = &mockSender{failures: 2}
		dispatcher = notification.NewDispatcher(sender, notification.DispatcherConfig{MaxWorkers: 1, MaxAttempts: 3}, nil, testLogger)

		Expect(dispatcher.Enqueue(notification.Message{Kind: notification.KindDeadlineWarning, To: "a@cafe.se"})).To(Succeed())

		Eventually(func() int { return len(sender.messages()) }).Should(Equal(1))
	})

	It("gives up after the last attempt", func() {
		sender = &mockSender{failures: 5}
		dispatcher = notification.NewDispatcher(sender, notification.DispatcherConfig{MaxWorkers: 1, MaxAttempts: 2}, nil, testLogger)

		Expect(dispatcher.Enqueue(notification.Message{Kind: notification.KindDeadlineWarning, To: "a@cafe.se"})).To(Succeed())

		Consistently(func() int { return len(sender.messages()) }, 200*time.Millisecond).Should(Equal(0))
	})

	It("refuses messages when the queue is full", func() {
		// Given
		sender = &mockSender{block: make(chan struct{})}
		dispatcher = notification.NewDispatcher(sender, notification.DispatcherConfig{MaxWorkers: 1, QueueSize: 1}, nil, testLogger)
		msg := notification.Message{Kind: notification.KindBatchCreated, To: "a@cafe.se"}

		// When
		var err error
		for i := 0; i < 10 && err == nil; i++ {
			err = dispatcher.Enqueue(msg)
		}

		// Then
		Expect(err).To(MatchError(notification.ErrQueueFull))
		close(sender.block)
	})

	It("rejects messages after shutdown", func() {
		sender = &mockSender{}
		d := notification.NewDispatcher(sender, notification.DispatcherConfig{}, nil, testLogger)
		d.Shutdown()

		Expect(d.Enqueue(notification.Message{To: "a@cafe.se"})).To(MatchError(notification.ErrStopped))
	})

	It("logs instead of mailing without an SMTP host", func() {
		s := notification.NewLogSender(testLogger)

		Expect(s.Send(context.Background(), notification.Message{To: "a@cafe.se"})).To(Succeed())
		Expect(s.Send(context.Background(), notification.Message{})).To(MatchError(notification.ErrNoRecipient))
	})
})
