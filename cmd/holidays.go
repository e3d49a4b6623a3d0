package cmd

import (
	"github.com/spf13/cobra"
)

func newHolidaysCmd() *cobra.Command {
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "Runs the public holidays pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(settingsPath, nil)
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "settings/holidays.json", "path to the settings document")

	return cmd
}
