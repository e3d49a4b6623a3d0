package cmd

import (
	"github.com/spf13/cobra"
)

func newFootfallCmd() *cobra.Command {
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "footfall",
		Short: "Runs the city footfall pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(settingsPath, nil)
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "settings/footfall-leeds.json", "path to the settings document")

	return cmd
}
