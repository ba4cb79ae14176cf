// Package cmd defines and implements the CLI commands for the bssid-geolocator executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/app"
	"github.com/JakeFAU/bssid-geolocator/internal/config"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a test app.
type App interface {
	Close()
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetStore() frontier.Store
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	return app.NewApp(ctx, cfgPath)
}

// newRootCmd creates and configures the root command. The returned func
// closes the App if a command failed before PersistentPostRun could.
func newRootCmd() (*cobra.Command, func()) {
	var cfgFile string
	var current App
	closeApp := func() {
		if current != nil {
			current.Close()
			current = nil
		}
	}

	cmd := &cobra.Command{
		Use:   "bssid-geolocator",
		Short: "Discovers geolocated WiFi access points by crawling a location service.",
		Long: `bssid-geolocator starts from a seed BSSID and expands breadth-first through
the neighboring access points the location service reports, persisting every
located record in a resumable frontier. Companion commands seed the frontier
from WiGLE, look up vendors, render maps and wipe the table.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the App once config flags are parsed and before any RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			current = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Cobra skips this hook when RunE fails, so Execute closes too.
		PersistentPostRun: func(*cobra.Command, []string) {
			closeApp()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); BSSID_* env vars override it")

	cmd.AddCommand(
		newCrawlCmd(),
		newSeedCmd(),
		newEnrichCmd(),
		newRenderCmd(),
		newResetCmd(),
	)
	return cmd, closeApp
}

// Execute is the main entry point.
func Execute() {
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(context.Background())
	closeApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
