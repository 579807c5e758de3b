// Package sweeper runs the deadline sweep periodically, one replica at a time.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/session"
)

const lockKey = "lock:deadline-sweep"

var ErrLocked = internal.NewConflictError("another deadline sweep is in progress", internal.ErrCodeSweepInProgress)

type Sweeper interface {
	SweepDeadlines(ctx context.Context, now time.Time) (*session.SweepResult, error)
}

type Config struct {
	Interval  time.Duration
	LockTTL   time.Duration
	KeyPrefix string
}

type Runner struct {
	sweeper Sweeper
	locker  *redislock.Client
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner returns a runner. A nil locker runs without mutual exclusion,
// which is only safe with a single worker.
func NewRunner(sweeper Sweeper, locker *redislock.Client, cfg Config, logger *slog.Logger, now func() time.Time) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{sweeper: sweeper, locker: locker, cfg: cfg, logger: logger, now: now}
}

// RunOnce performs a single sweep under the lock.
func (r *Runner) RunOnce(ctx context.Context) (*session.SweepResult, error) {
	if r.locker == nil {
		return r.sweeper.SweepDeadlines(ctx, r.now())
	}

	lock, err := r.locker.Obtain(ctx, r.cfg.KeyPrefix+lockKey, r.cfg.LockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		r.logger.Debug("deadline sweep skipped, lock held elsewhere")
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn("failed to release sweep lock", "error", err)
		}
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, r.cfg.LockTTL)
	defer cancel()
	return r.sweeper.SweepDeadlines(sweepCtx, r.now())
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("deadline sweeper started", "interval", r.cfg.Interval, "lock_ttl", r.cfg.LockTTL)
	for {
		result, err := r.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrLocked):
		case err != nil:
			r.logger.Error("deadline sweep failed", "error", err)
		case result.AutoApproved+result.Expired > 0:
			r.logger.Info("deadline sweep resolved sessions", "auto_approved", result.AutoApproved, "expired", result.Expired)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("deadline sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
