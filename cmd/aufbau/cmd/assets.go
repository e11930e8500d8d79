package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/deploy"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Propagate dataset assets to the served image directory",
	Long: `Copy changed image assets from the configured dataset directories to
the destination the web server serves them from. Checkouts are used as
they currently stand, nothing is synchronized first.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		executeStages(cmd, deployParams(), deploy.StageAssets)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(assetsCmd)
}
