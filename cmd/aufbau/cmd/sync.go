package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/deploy"
)

var syncCmd = &cobra.Command{
	Use:   "sync [repository]...",
	Short: "Synchronize the tracked git checkouts",
	Long: `Bring the configured repositories to their target revisions without
running the rest of the pipeline. Repository names narrow the stage to a
subset; with no arguments every repository is synchronized.`,
	Run: func(cmd *cobra.Command, args []string) {
		params := deployParams()
		params.Repositories = args
		executeStages(cmd, params, deploy.StageSync)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(syncCmd)
}
