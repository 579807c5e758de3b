package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/auth"
)

var (
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a business user or an administrator",
		RunE:  runToken,
	}
	tokenRole       string
	tokenSubject    string
	tokenBusinessID string
)

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(internal.ActorBusinessUser), "business_user or admin_user")
	tokenCmd.Flags().StringVar(&tokenSubject, "id", "", "user id placed in the token subject")
	tokenCmd.Flags().StringVar(&tokenBusinessID, "business", "", "business id, required for business users")
	_ = tokenCmd.MarkFlagRequired("id")
}

func runToken(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	actor := internal.Actor{
		Type:       internal.ActorType(tokenRole),
		ID:         tokenSubject,
		BusinessID: tokenBusinessID,
	}
	token, err := auth.NewJWTTokenGenerator(cfg.Security).GenerateAccessToken(actor)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(token)
}
