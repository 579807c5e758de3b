package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/cashback-settlement/internal/metrics"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrStopped   = errors.New("notification dispatcher stopped")
)

type Job struct {
	Message Message
	Attempt int
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, process func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker sending notification", "worker_id", w.ID, "kind", job.Message.Kind, "to", job.Message.To)
				process(job)
			case <-ctx.Done():
				w.Logger.Debug("notification worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type DispatcherConfig struct {
	MaxWorkers  int
	QueueSize   int
	MaxAttempts int
	SendTimeout time.Duration
}

// Dispatcher hands messages to a fixed pool of workers. Failed sends are
// re-queued until MaxAttempts is reached.
type Dispatcher struct {
	sender  Sender
	cfg     DispatcherConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	jobQueue   chan Job
	workerPool chan chan Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewDispatcher(sender Sender, cfg DispatcherConfig, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:     sender,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
		jobQueue:   make(chan Job, cfg.QueueSize),
		workerPool: make(chan chan Job, cfg.MaxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.cfg.MaxWorkers; i++ {
			NewWorker(i, d.workerPool, d.logger).Start(d.ctx, &d.wg, d.process)
		}
		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("notification dispatcher started",
			"max_workers", d.cfg.MaxWorkers,
			"queue_size", cap(d.jobQueue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobQueue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- job:
				case <-d.ctx.Done():
					return
				}
			case <-d.ctx.Done():
				return
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Enqueue never blocks.
func (d *Dispatcher) Enqueue(msg Message) error {
	return d.enqueue(Job{Message: msg, Attempt: 1})
}

func (d *Dispatcher) enqueue(job Job) error {
	if d.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		d.metrics.Notification(string(job.Message.Kind), "dropped")
		d.logger.Warn("notification queue full, dropping message",
			"kind", job.Message.Kind,
			"to", job.Message.To,
			"queue_capacity", cap(d.jobQueue))
		return ErrQueueFull
	}
}

func (d *Dispatcher) process(job Job) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	defer cancel()

	err := d.sender.Send(ctx, job.Message)
	if err == nil {
		d.metrics.Notification(string(job.Message.Kind), "sent")
		d.logger.Info("notification sent",
			"kind", job.Message.Kind,
			"to", job.Message.To,
			"session_id", job.Message.SessionID,
			"attempt", job.Attempt)
		return
	}

	if errors.Is(err, ErrNoRecipient) || job.Attempt >= d.cfg.MaxAttempts {
		d.metrics.Notification(string(job.Message.Kind), "failed")
		d.logger.Error("notification failed",
			"error", err,
			"kind", job.Message.Kind,
			"to", job.Message.To,
			"attempt", job.Attempt)
		return
	}

	d.metrics.Notification(string(job.Message.Kind), "retry")
	d.logger.Warn("notification send failed, retrying", "error", err, "kind", job.Message.Kind, "attempt", job.Attempt)
	job.Attempt++
	if err := d.enqueue(job); err != nil {
		d.logger.Error("failed to re-queue notification", "error", err, "kind", job.Message.Kind)
	}
}

func (d *Dispatcher) Shutdown() {
	d.logger.Info("shutting down notification dispatcher", "pending", len(d.jobQueue))
	d.cancel()
	d.wg.Wait()
	d.logger.Info("notification dispatcher shutdown complete")
}
