package cmd

import (
	"github.com/spf13/cobra"
)

// runCmd executes the full pipeline, the default way to deploy.
var runCmd = &cobra.Command{
	Use:   "run [engine-arg]",
	Short: "Run the full deployment pipeline",
	Long: `Run all deployment stages in order: sync, assets, stamp, annotate,
featuremap and dbdeploy. An optional positional argument is forwarded
verbatim to every engine script invocation.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params := deployParams()
		if len(args) > 0 {
			params.EngineArg = args[0]
		}
		executeStages(cmd, params)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
