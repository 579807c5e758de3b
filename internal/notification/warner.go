package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frahmantamala/cashback-settlement/internal/core/events"
	"github.com/frahmantamala/cashback-settlement/internal/deadline"
	"github.com/frahmantamala/cashback-settlement/internal/session"
)

type SessionLister interface {
	OpenSessions(ctx context.Context) ([]*session.Session, error)
}

// Deduper claims a key once. Claim reports false when the key was claimed
// before.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
}

type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &RedisDeduper{client: client, prefix: prefix + "notification:sent:", ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, time.Now().Unix(), d.ttl).Result()
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// DeadlineWarner publishes the scheduled deadline reminders of open
// sessions. Only the most urgent due reminder is sent; reminders it
// supersedes are never delivered late.
type DeadlineWarner struct {
	sessions  SessionLister
	dedup     Deduper
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewDeadlineWarner(sessions SessionLister, dedup Deduper, publisher Publisher, logger *slog.Logger, now func() time.Time) *DeadlineWarner {
	if now == nil {
		now = time.Now
	}
	return &DeadlineWarner{
		sessions:  sessions,
		dedup:     dedup,
		publisher: publisher,
		logger:    logger,
		now:       now,
	}
}

func warningKey(s *session.Session, t deadline.NotificationType) string {
	return fmt.Sprintf("%s:%s:%d", s.ID, t, s.Deadline.Unix())
}

// Check runs one pass and returns the number of warnings published.
func (w *DeadlineWarner) Check(ctx context.Context) (int, error) {
	open, err := w.sessions.OpenSessions(ctx)
	if err != nil {
		return 0, err
	}
	now := w.now()
	sent := 0
	for _, s := range open {
		if !now.Before(s.Deadline) || s.Pending() == 0 {
			continue
		}
		due := deadline.DueNotifications(deadline.ScheduleNotifications(s.Deadline), now)
		if len(due) == 0 {
			continue
		}
		next := due[len(due)-1]

		claimed, err := w.dedup.Claim(ctx, warningKey(s, next.Type))
		if err != nil {
			w.logger.Warn("failed to claim deadline warning", "error", err, "session_id", s.ID, "type", next.Type)
			continue
		}
		if !claimed {
			continue
		}
		event := events.NewDeadlineWarningEvent(s.ID, s.BatchID, s.BusinessID, string(next.Type), s.Deadline, s.Pending())
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.logger.Error("failed to publish deadline warning", "error", err, "session_id", s.ID, "type", next.Type)
			continue
		}
		sent++
		w.logger.Info("deadline warning published",
			"session_id", s.ID,
			"type", next.Type,
			"deadline", s.Deadline,
			"pending_items", s.Pending())
	}
	return sent, nil
}

// Run checks on every tick until ctx is done.
func (w *DeadlineWarner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.Check(ctx); err != nil {
			w.logger.Error("deadline warning check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
