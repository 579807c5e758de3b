package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/cashback-settlement/internal/business"
	businessPostgres "github.com/frahmantamala/cashback-settlement/internal/business/postgres"
	"github.com/frahmantamala/cashback-settlement/pkg/logger"
)

var (
	businessCmd = &cobra.Command{
		Use:   "business",
		Short: "Manage the business directory",
	}
	businessListCmd = &cobra.Command{
		Use:   "list",
		Short: "Print the active businesses as JSON",
		RunE: withBusinessService(func(cmd *cobra.Command, svc *business.Service) error {
			list, err := svc.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}),
	}
	businessRegisterCmd = &cobra.Command{
		Use:   "register",
		Short: "Register a business",
		RunE: withBusinessService(func(cmd *cobra.Command, svc *business.Service) error {
			b, err := svc.Register(cmd.Context(), businessName, businessEmail)
			if err != nil {
				return err
			}
			fmt.Printf("registered business %s (%s)\n", b.Name, b.ID)
			return nil
		}),
	}
	businessDeactivateCmd = &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a business so no new batches can be created for it",
		RunE: withBusinessService(func(cmd *cobra.Command, svc *business.Service) error {
			if businessID == "" {
				return errors.New("--id is required")
			}
			if err := svc.Deactivate(cmd.Context(), businessID); err != nil {
				return err
			}
			fmt.Printf("deactivated business %s\n", businessID)
			return nil
		}),
	}

	businessName  string
	businessEmail string
	businessID    string
)

func init() {
	businessRegisterCmd.Flags().StringVar(&businessName, "name", "", "business name")
	businessRegisterCmd.Flags().StringVar(&businessEmail, "email", "", "contact email for notifications")
	businessDeactivateCmd.Flags().StringVar(&businessID, "id", "", "business id")

	businessCmd.AddCommand(businessListCmd, businessRegisterCmd, businessDeactivateCmd)
}

// withBusinessService opens the database for one command run.
func withBusinessService(run func(cmd *cobra.Command, svc *business.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		db, err := initDB(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		gormDB, err := initGorm(db)
		if err != nil {
			return err
		}
		return run(cmd, business.NewService(businessPostgres.NewBusinessRepository(gormDB), logger.LoggerWrapper()))
	}
}
