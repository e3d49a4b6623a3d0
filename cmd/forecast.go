package cmd

import (
	"github.com/spf13/cobra"
)

func newForecastCmd() *cobra.Command {
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Runs the weather forecast pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(settingsPath, nil)
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "settings/forecast.json", "path to the settings document")

	return cmd
}
