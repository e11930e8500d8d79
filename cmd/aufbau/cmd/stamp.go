package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/deploy"
)

var stampCmd = &cobra.Command{
	Use:   "stamp",
	Short: "Replace version tokens in the UI checkout",
	Long: `Rewrite the version and data version tokens in the UI repository's
source files with the revisions the checkouts currently sit on.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		executeStages(cmd, deployParams(), deploy.StageStamp)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(stampCmd)
}
