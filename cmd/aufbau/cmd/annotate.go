package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/deploy"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Write release provenance into TEI profiles",
	Long: `Record the release tag, commit and date in the change log of every
TEI profile of the repositories configured for annotation. Checkouts
that do not sit on a release tag are left alone.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		executeStages(cmd, deployParams(), deploy.StageAnnotate)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(annotateCmd)
}
