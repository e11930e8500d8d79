package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/acdh-oeaw/aufbau/pkg/config"
	"github.com/acdh-oeaw/aufbau/pkg/git"
)

// statusCmd inspects the checkouts without taking the run lock, it changes
// nothing and may run next to a deployment.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the revision every tracked repository sits on",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := git.CheckAvailable(); err != nil {
			DieErr(err)
		}
		rows := make([][]interface{}, 0, len(cfg.Repositories))
		for _, repo := range cfg.Repositories {
			rows = append(rows, statusRow(cmd.Context(), cfg, repo))
		}
		PrintTable(rows, []interface{}{"Repository", "Mode", "Checkout", "Latest Tag", "Path"})
	},
}

func statusRow(ctx context.Context, cfg *config.Config, repo config.RepositorySpec) []interface{} {
	spec := cfg.GitSpec(repo)
	row := []interface{}{repo.Name, string(spec.Mode), "", "", repo.Path}
	if _, err := os.Stat(repo.Path); err != nil {
		row[2] = "missing"
		return row
	}
	if !git.IsRepository(ctx, repo.Path) {
		row[2] = "not a repository"
		return row
	}
	checkout, err := git.CurrentCheckout(ctx, repo.Path)
	if err != nil {
		row[2] = err.Error()
		return row
	}
	row[2] = checkout
	tag, err := git.LatestTag(ctx, repo.Path)
	if err != nil || tag == "" {
		tag = "-"
	}
	row[3] = tag
	return row
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(statusCmd)
}
