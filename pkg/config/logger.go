package config

import (
	"github.com/spf13/viper"

	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

func setupLogger() {
	// set output format
	logging.SetOutputFormat(viper.GetString(LoggingFormatKey))

	// set outputs
	logging.SetOutputs(viper.GetStringSlice(LoggingOutputKey),
		viper.GetInt(LoggingFileMaxSizeMBKey), viper.GetInt(LoggingFilesKeepKey))

	// set level
	logging.SetLevel(viper.GetString(LoggingLevelKey))
}

// ToLoggerFields summarizes the effective settings for the startup log line.
func (c *Config) ToLoggerFields() logging.Fields {
	return logging.Fields{
		"workdir":      c.Workdir,
		"build_dir":    c.BuildDir,
		"only_tags":    c.OnlyTags,
		"repositories": len(c.Repositories),
		"engine":       c.Engine.Binary,
	}
}
