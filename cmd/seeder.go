package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/cashback-settlement/internal/business"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample businesses for development and testing purposes.`,
	RunE: withBusinessService(func(cmd *cobra.Command, svc *business.Service) error {
		return seedBusinesses(cmd.Context(), svc)
	}),
}

var sampleBusinesses = []struct {
	Name  string
	Email string
}{
	{"Toko Makmur", "finance@tokomakmur.example"},
	{"Warung Sejahtera", "billing@warungsejahtera.example"},
	{"Mart Nusantara", "settlement@martnusantara.example"},
}

type businessSeeder interface {
	ListActive(ctx context.Context) ([]*business.Business, error)
	Register(ctx context.Context, name, contactEmail string) (*business.Business, error)
}

// seedBusinesses registers the sample businesses that are not active yet.
func seedBusinesses(ctx context.Context, svc businessSeeder) error {
	existing, err := svc.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list businesses: %w", err)
	}
	known := make(map[string]*business.Business, len(existing))
	for _, b := range existing {
		known[b.Name] = b
	}

	for _, s := range sampleBusinesses {
		if b, ok := known[s.Name]; ok {
			fmt.Printf("business %s already exists (%s)\n", b.Name, b.ID)
			continue
		}
		b, err := svc.Register(ctx, s.Name, s.Email)
		if err != nil {
			return fmt.Errorf("failed to seed business %s: %w", s.Name, err)
		}
		fmt.Printf("Seeded business %s (%s)\n", b.Name, b.ID)
	}
	return nil
}
