package sweeper_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/frahmantamala/cashback-settlement/internal/session"
	"github.com/frahmantamala/cashback-settlement/internal/sweeper"
)

type mockSweeper struct {
	mu      sync.Mutex
	calls   []time.Time
	release chan struct{}
}

func (m *mockSweeper) SweepDeadlines(_ context.Context, now time.Time) (*session.SweepResult, error) {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	return &session.SweepResult{Expired: 1}, nil
}

func (m *mockSweeper) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ = Describe("Runner", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		locker *redislock.Client
		logger *slog.Logger
		now    time.Time
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		locker = redislock.New(client)
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		now = time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC)
		ctx = context.Background()
	})

	AfterEach(func() {
		_ = client.Close()
		mr.Close()
	})

	It("sweeps with the injected clock and releases the lock", func() {
		// Given
		sw := &mockSweeper{}
		runner := sweeper.NewRunner(sw, locker, sweeper.Config{KeyPrefix: "test:"}, logger, func() time.Time { return now })

		// When
		result, err := runner.RunOnce(ctx)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Expired).To(Equal(1))
		Expect(sw.calls).To(Equal([]time.Time{now}))
		Expect(mr.Exists("test:lock:deadline-sweep")).To(BeFalse())
	})

	It("skips the pass while another replica holds the lock", func() {
		// Given
		held, err := locker.Obtain(ctx, "test:lock:deadline-sweep", time.Minute, nil)
		Expect(err).NotTo(HaveOccurred())
		sw := &mockSweeper{}
		runner := sweeper.NewRunner(sw, locker, sweeper.Config{KeyPrefix: "test:"}, logger, nil)

		// When
		_, err = runner.RunOnce(ctx)

		// Then
		Expect(err).To(MatchError(sweeper.ErrLocked))
		Expect(sw.count()).To(Equal(0))
		Expect(held.Release(ctx)).To(Succeed())
	})

	It("lets only one of two concurrent runners sweep", func() {
		sw := &mockSweeper{release: make(chan struct{})}
		a := sweeper.NewRunner(sw, locker, sweeper.Config{}, logger, nil)
		b := sweeper.NewRunner(sw, locker, sweeper.Config{}, logger, nil)

		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			_, err := a.RunOnce(ctx)
			done <- err
		}()
		Eventually(func() bool { return mr.Exists("lock:deadline-sweep") }).Should(BeTrue())

		_, err := b.RunOnce(ctx)
		Expect(err).To(MatchError(sweeper.ErrLocked))

		close(sw.release)
		Eventually(done).Should(Receive(BeNil()))
		Expect(sw.count()).To(Equal(1))
	})

	It("runs without a lock when none is configured", func() {
		sw := &mockSweeper{}
		runner := sweeper.NewRunner(sw, nil, sweeper.Config{}, logger, nil)

		_, err := runner.RunOnce(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(sw.count()).To(Equal(1))
	})

	It("stops when the context is cancelled", func() {
		sw := &mockSweeper{}
		runner := sweeper.NewRunner(sw, nil, sweeper.Config{Interval: 10 * time.Millisecond}, logger, nil)
		runCtx, cancel := context.WithCancel(ctx)

		stopped := make(chan struct{})
		go func() {
			runner.Run(runCtx)
			close(stopped)
		}()
		Eventually(sw.count).Should(BeNumerically(">=", 2))
		cancel()

		Eventually(stopped).Should(BeClosed())
	})
})
