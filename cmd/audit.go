package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/cashback-settlement/internal/audit"
	auditPostgres "github.com/frahmantamala/cashback-settlement/internal/audit/postgres"
	"github.com/frahmantamala/cashback-settlement/internal/metrics"
	"github.com/frahmantamala/cashback-settlement/pkg/logger"
)

var (
	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	auditListCmd = &cobra.Command{
		Use:   "list",
		Short: "Print the audit events of a payment batch as JSON",
		RunE:  runAuditList,
	}
	auditBatchID string
	auditLimit   int
)

func init() {
	auditListCmd.Flags().StringVarP(&auditBatchID, "batch", "b", "", "payment batch id")
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "l", 200, "maximum number of events")
	auditCmd.AddCommand(auditListCmd)
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	if auditBatchID == "" {
		return errors.New("--batch is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := initDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := audit.NewService(auditPostgres.NewAuditRepository(db), logger.LoggerWrapper(), metrics.New())
	events, err := svc.ListByBatch(cmd.Context(), auditBatchID, auditLimit)
	if err != nil {
		return fmt.Errorf("failed to list audit events: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}
