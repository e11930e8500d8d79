package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/deploy"
)

var dbdeployCmd = &cobra.Command{
	Use:   "dbdeploy [engine-arg]",
	Short: "Run the engine scripts against the current checkouts",
	Long: `Load the content and configuration scripts into the database engine
without synchronizing or stamping first. An optional positional argument
is forwarded verbatim to every engine script invocation.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params := deployParams()
		if len(args) > 0 {
			params.EngineArg = args[0]
		}
		executeStages(cmd, params, deploy.StageDBDeploy)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(dbdeployCmd)
}
