package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bssid-geolocator/internal/policy/ratelimit"
	"github.com/JakeFAU/bssid-geolocator/internal/seeder"
)

type seedFlags struct {
	latMin, latMax float64
	lonMin, lonMax float64
	maxResults     int
}

// newSeedCmd creates the 'seed' subcommand, which imports located access
// points from the WiGLE network search.
func newSeedCmd() *cobra.Command {
	var f seedFlags
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Imports located access points from WiGLE into the frontier",
		Long: `Pages through the WiGLE network search inside a bounding box and inserts
each result as a located, unprocessed record. Credentials come from
wigle.username / wigle.api_key or BSSID_WIGLE_USERNAME / BSSID_WIGLE_API_KEY.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, f)
		},
	}
	cmd.Flags().Float64Var(&f.latMin, "lat-min", 0, "southern latitude bound (overrides wigle.lat_min)")
	cmd.Flags().Float64Var(&f.latMax, "lat-max", 0, "northern latitude bound (overrides wigle.lat_max)")
	cmd.Flags().Float64Var(&f.lonMin, "lon-min", 0, "western longitude bound (overrides wigle.lon_min)")
	cmd.Flags().Float64Var(&f.lonMax, "lon-max", 0, "eastern longitude bound (overrides wigle.lon_max)")
	cmd.Flags().IntVar(&f.maxResults, "max-results", 0, "stop after this many networks (overrides wigle.max_results)")
	return cmd
}

func runSeed(cmd *cobra.Command, f seedFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	wc := cfg.Wigle

	box := seeder.BBox{LatMin: wc.LatMin, LatMax: wc.LatMax, LonMin: wc.LonMin, LonMax: wc.LonMax}
	flags := cmd.Flags()
	if flags.Changed("lat-min") {
		box.LatMin = f.latMin
	}
	if flags.Changed("lat-max") {
		box.LatMax = f.latMax
	}
	if flags.Changed("lon-min") {
		box.LonMin = f.lonMin
	}
	if flags.Changed("lon-max") {
		box.LonMax = f.lonMax
	}
	maxResults := wc.MaxResults
	if flags.Changed("max-results") {
		maxResults = f.maxResults
	}

	client, err := seeder.NewClient(seeder.ClientConfig{
		Endpoint: wc.Endpoint,
		Username: wc.Username,
		APIKey:   wc.APIKey,
		PageSize: wc.PageSize,
		Timeout:  wc.Timeout,
	})
	if err != nil {
		return err
	}
	limiter := ratelimit.New(ratelimit.Config{MinInterval: wc.Delay})
	s := seeder.New(client, appInstance.GetStore(), limiter, wc.Endpoint, appInstance.GetLogger())

	summary, err := s.Run(cmd.Context(), box, maxResults)
	fmt.Fprintf(cmd.OutOrStdout(), "seed: pages=%d fetched=%d inserted=%d invalid=%d\n",
		summary.Pages, summary.Fetched, summary.Inserted, summary.Invalid)
	if err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}
	return nil
}
