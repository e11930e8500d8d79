package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/deploy"
)

var featuremapCmd = &cobra.Command{
	Use:   "featuremap",
	Short: "Rebuild the WibArab feature map documents",
	Long: `Regenerate the feature map GeoJSON documents from the feature database
checkout: the places and varieties collections joined with the geodata
coordinates and the bibliography, written back into that checkout unless
an output directory is configured.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		executeStages(cmd, deployParams(), deploy.StageFeatureMap)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(featuremapCmd)
}
