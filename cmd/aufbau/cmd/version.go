package cmd

import (
	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/version"
)

var checkLatestVersion bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		Fmt("aufbau version %s\n", version.Version)
		if !checkLatestVersion {
			return
		}
		latest, err := version.CheckLatestVersion(version.NewReleasesSource(), version.Version)
		if err != nil {
			DieFmt("check latest version: %s", err)
		}
		switch {
		case latest.Outdated:
			Fmt("%s is not latest, you should upgrade to %s\n%s\n",
				version.Version, latest.Current, version.DefaultReleasesURL)
		case latest.New:
			Fmt("%s is newer than the latest release %s\n", version.Version, latest.Current)
		default:
			Fmt("you are up to date\n")
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&checkLatestVersion, "check", false, "check for a newer release on GitHub")
}
