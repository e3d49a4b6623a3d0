package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/pipeline"
)

func newHistoricCmd() *cobra.Command {
	var settingsPath string
	var date string

	cmd := &cobra.Command{
		Use:   "historic",
		Short: "Runs the historic weather pipeline for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			var runDate time.Time
			if date != "" {
				var err error
				runDate, err = time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
				}
			}

			return runPipeline(settingsPath, func(p *pipeline.Pipeline) {
				p.RunDate = runDate
			})
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "settings/historic.json", "path to the settings document")
	cmd.Flags().StringVar(&date, "date", "", "day to backfill (YYYY-MM-DD, defaults to yesterday)")

	return cmd
}
