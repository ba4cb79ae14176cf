package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bssid-geolocator/internal/render"
)

// newRenderCmd creates the 'render' subcommand.
func newRenderCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:       "render heatmap|markers",
		Short:     "Writes an HTML map of every located access point",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(render.KindHeatmap), string(render.KindMarkers)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := render.ParseKind(args[0])
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.GetConfig()

			records, err := appInstance.GetStore().Located(cmd.Context())
			if err != nil {
				return fmt.Errorf("load located records: %w", err)
			}
			points := render.PointsFromRecords(records)

			path := out
			if path == "" {
				path = kind.DefaultOutput()
			}
			err = render.WriteFile(path, kind, points, render.Options{
				Title:   cfg.Render.Title,
				Zoom:    cfg.Render.Zoom,
				TileURL: cfg.Render.TileURL,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "render: wrote %d points to %s\n", len(points), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default depends on the map kind)")
	return cmd
}
