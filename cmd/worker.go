package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/cashback-settlement/internal/notification"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start the background workers that enforce verification deadlines and send deadline reminders.`,
}

var deadlineWorkerCmd = &cobra.Command{
	Use:   "deadlines",
	Short: "Start the deadline sweep worker",
	Long:  `Periodically resolve verification sessions whose deadline has passed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(startDeadlineWorker)
	},
}

var notificationWorkerCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Start the deadline reminder worker",
	Long:  `Periodically send deadline reminders for open verification sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(startNotificationWorker)
	},
}

// runWorker builds the application and runs start until SIGINT or SIGTERM.
func runWorker(start func(ctx context.Context, app *application) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()
	app.startNotifications()

	if err := start(ctx, app); err != nil {
		return err
	}
	app.logger.Info("worker stopped")
	return nil
}

func startDeadlineWorker(ctx context.Context, app *application) error {
	app.logger.Info("deadline worker is running. Press Ctrl+C to stop.",
		"interval", app.cfg.Worker.SweepInterval)
	app.sweepRunner().Run(ctx)
	return nil
}

func startNotificationWorker(ctx context.Context, app *application) error {
	if app.redis == nil {
		return errors.New("notification worker requires redis to remember sent reminders")
	}
	dedup := notification.NewRedisDeduper(app.redis, app.cfg.Redis.KeyPrefix, 0)
	warner := notification.NewDeadlineWarner(app.sessions, dedup, app.bus, app.logger, nil)

	app.logger.Info("notification worker is running. Press Ctrl+C to stop.",
		"interval", app.cfg.Notification.CheckInterval)
	warner.Run(ctx, app.cfg.Notification.CheckInterval)
	return nil
}

func init() {
	workerCmd.AddCommand(deadlineWorkerCmd)
	workerCmd.AddCommand(notificationWorkerCmd)
}
