package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newResetCmd creates the 'reset' subcommand.
func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Deletes every record from the frontier table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset deletes every record; pass --yes to confirm")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.GetStore().Reset(cmd.Context())
			if err != nil {
				return fmt.Errorf("reset frontier: %w", err)
			}
			appInstance.GetLogger().Info("frontier reset")
			fmt.Fprintf(cmd.OutOrStdout(), "reset: deleted %d records\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
