package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/acdh-oeaw/aufbau/pkg/config"
	"github.com/acdh-oeaw/aufbau/pkg/deploy"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
	"github.com/acdh-oeaw/aufbau/pkg/version"
)

var (
	cfgFile string
	dryRun  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aufbau",
	Short: "aufbau deploys the VICAV / WibArab corpus platform",
	Long: `aufbau brings a VICAV deployment up to date: it synchronizes the
tracked git checkouts, propagates image assets, stamps version tokens,
annotates release provenance, regenerates the WibArab feature map and
loads the BaseX databases, in that order.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var initOnce sync.Once

//nolint:gochecknoinits
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./aufbau.yaml)")
	flags.BoolVar(&dryRun, "dry-run", false, "log what every stage would do without changing anything")
	flags.String("log-level", config.DefaultLoggingLevel, "set logging level")
	flags.String("log-format", config.DefaultLoggingFormat, "set logging output format")
	flags.StringSlice("log-output", []string{config.DefaultLoggingOutput}, "set logging output(s)")
	flags.Bool("only-tags", false, "check out release tags only, whatever the per-repository modes say")
	flags.String("build-dir", "", "directory engine scripts resolve their path token against")
	bindFlags(flags)
}

// bindFlags routes changed flags through viper so they override both the
// settings file and the environment.
func bindFlags(flags *pflag.FlagSet) {
	for key, name := range map[string]string{
		config.LoggingLevelKey:  "log-level",
		config.LoggingFormatKey: "log-format",
		config.LoggingOutputKey: "log-output",
		config.OnlyTagsKey:      "only-tags",
		config.BuildDirKey:      "build-dir",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

func loadConfig() *config.Config {
	initOnce.Do(initConfig)
	cfg, err := config.NewConfig()
	if err != nil {
		DieErr(err)
	}
	if err := cfg.Validate(); err != nil {
		DieErr(err)
	}
	logging.Default().WithFields(cfg.ToLoggerFields()).Debug("Configuration loaded")
	return cfg
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	logger := logging.Default().WithField("phase", "startup")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("aufbau")
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(getHomeDir(), ".aufbau"))
		viper.AddConfigPath("/etc/aufbau")
	}

	config.SetupEnv()

	err := viper.ReadInConfig()
	logger = logger.WithField("file", viper.ConfigFileUsed()) // should be called after SetConfigFile
	var errFileNotFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		logger.Debug("Configuration file loaded")
	case errors.As(err, &errFileNotFound) && cfgFile == "":
		logger.Warn("No configuration file found, using defaults and environment only")
	default:
		logger.WithError(err).Fatal("Failed to read config file")
	}
}

// getHomeDir find and return the home directory
func getHomeDir() string {
	home, err := homedir.Dir()
	if err != nil {
		fmt.Println("Get home directory -", err)
		os.Exit(1)
	}
	return home
}

func deployParams() deploy.Params {
	return deploy.Params{
		Config: loadConfig(),
		Logger: logging.Default(),
		DryRun: dryRun,
	}
}

// executeStages runs the named pipeline stages, prints the run report and
// exits with the stage failure code when any of them failed. SIGINT and
// SIGTERM cancel the run.
func executeStages(cmd *cobra.Command, params deploy.Params, stages ...deploy.StageName) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := deploy.New(params).RunStages(ctx, stages...)
	if err != nil {
		Die(err.Error(), deploy.CodeFor(err))
	}
	printRunReport(report)
	if code := report.ExitCode(); code != deploy.CodeOK {
		os.Exit(code)
	}
}
