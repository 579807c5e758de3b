package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/cashback-settlement/internal/notification"
	"github.com/frahmantamala/cashback-settlement/pkg/logger"
)

var (
	notifyCmd = &cobra.Command{
		Use:   "notify",
		Short: "Notification utilities",
	}
	notifyTestCmd = &cobra.Command{
		Use:   "test",
		Short: "Send a test message through the configured mail server",
		RunE:  runNotifyTest,
	}
	notifyTo string
)

func init() {
	notifyTestCmd.Flags().StringVar(&notifyTo, "to", "", "recipient address")
	notifyCmd.AddCommand(notifyTestCmd)
}

func runNotifyTest(cmd *cobra.Command, _ []string) error {
	if notifyTo == "" {
		return errors.New("--to is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	sender := notification.NewSender(cfg.Notification, logger.LoggerWrapper())
	err = sender.Send(cmd.Context(), notification.Message{
		To:      notifyTo,
		Subject: "Cashback settlement test message",
		Body:    "<p>Mail delivery for cashback settlement notifications is working.</p>",
	})
	if err != nil {
		return fmt.Errorf("failed to send test message: %w", err)
	}
	fmt.Println("test message sent to", notifyTo)
	return nil
}
