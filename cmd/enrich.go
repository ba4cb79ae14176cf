package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bssid-geolocator/internal/enrich"
	"github.com/JakeFAU/bssid-geolocator/internal/policy/ratelimit"
)

// newEnrichCmd creates the 'enrich' subcommand.
func newEnrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Fills in the vendor column from a MAC vendor lookup service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.GetConfig()

			client := enrich.NewClient(enrich.ClientConfig{
				Endpoint: cfg.Vendor.Endpoint,
				Timeout:  cfg.Vendor.Timeout,
			})
			limiter := ratelimit.New(ratelimit.Config{MinInterval: cfg.Vendor.Delay})
			e := enrich.NewEnricher(appInstance.GetStore(), client, limiter, cfg.Vendor.Endpoint,
				cfg.Vendor.BatchSize, appInstance.GetLogger())

			summary, err := e.Run(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "enrich: missing=%d resolved=%d unknown=%d failed=%d\n",
				summary.Missing, summary.Resolved, summary.Unknown, summary.Failed)
			if err != nil {
				return fmt.Errorf("enrich vendors: %w", err)
			}
			return nil
		},
	}
}
