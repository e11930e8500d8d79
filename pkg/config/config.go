package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/acdh-oeaw/aufbau/pkg/git"
)

const EnvPrefix = "AUFBAU"

var (
	ErrBadConfiguration     = errors.New("bad configuration")
	ErrNoRepositories       = fmt.Errorf("%w: no repositories configured", ErrBadConfiguration)
	ErrDuplicateRepository  = fmt.Errorf("%w: duplicate repository name", ErrBadConfiguration)
	ErrUnknownRepository    = fmt.Errorf("%w: unknown repository reference", ErrBadConfiguration)
	ErrMissingAssetsTargets = fmt.Errorf("%w: assets sources configured without a destination", ErrBadConfiguration)
)

// Settings keys, also used for flag binding.
const (
	WorkdirKey  = "workdir"
	BuildDirKey = "build_dir"
	OnlyTagsKey = "only_tags"
	LockFileKey = "lock_file"

	LoggingFormatKey        = "logging.format"
	LoggingLevelKey         = "logging.level"
	LoggingOutputKey        = "logging.output"
	LoggingFileMaxSizeMBKey = "logging.file_max_size_mb"
	LoggingFilesKeepKey     = "logging.files_keep"

	AssetsDatasetPatternKey = "assets.dataset_pattern"
	AssetsExtensionsKey     = "assets.extensions"

	StampExtensionsKey       = "stamp.extensions"
	StampExcludeDirsKey      = "stamp.exclude_dirs"
	StampVersionTokenKey     = "stamp.version_token"
	StampDataVersionTokenKey = "stamp.data_version_token"

	EngineBinaryKey    = "engine.binary"
	EngineUsernameKey  = "engine.username"
	EnginePasswordKey  = "engine.password"
	EnginePathTokenKey = "engine.path_token"
	EngineTimeoutKey   = "engine.timeout"

	GitTimeoutKey     = "git.timeout"
	GitRetryWindowKey = "git.retry_window"
)

const (
	DefaultLoggingFormat        = "text"
	DefaultLoggingLevel         = "INFO"
	DefaultLoggingOutput        = "-"
	DefaultLoggingFileMaxSizeMB = 100
	DefaultLoggingFilesKeep     = 7

	DefaultAssetsDatasetPattern = "vicav_*"

	DefaultEngineBinary    = "basex"
	DefaultEnginePathToken = "@builddir@"
	DefaultEngineTimeout   = 15 * time.Minute

	DefaultGitTimeout     = 5 * time.Minute
	DefaultGitRetryWindow = 2 * time.Minute

	DefaultLockFileName = "aufbau.lock"
)

var (
	DefaultAssetsExtensions = Strings{"jpg", "JPG", "png", "PNG", "svg"}
	DefaultStampExtensions  = Strings{"html", "xql", "xqm", "js"}
	DefaultStampExcludeDirs = Strings{"node_modules", "bower_components", "cypress"}

	DefaultStampVersionToken     = "@version@"
	DefaultStampDataVersionToken = "@data-version@"
)

// RepositorySpec names one tracked repository. Path is resolved against
// workdir when relative; a missing Path directory with URL set triggers a
// clone.
type RepositorySpec struct {
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
	URL      string `mapstructure:"url"`
	Mode     string `mapstructure:"mode"`
	Annotate bool   `mapstructure:"annotate"`
}

type Assets struct {
	// Sources are repository-relative or absolute directories scanned for
	// dataset directories.
	Sources        Strings `mapstructure:"sources"`
	DatasetPattern string  `mapstructure:"dataset_pattern"`
	Destination    string  `mapstructure:"destination"`
	Extensions     Strings `mapstructure:"extensions"`
}

type Stamp struct {
	UIRepository     string  `mapstructure:"ui_repository"`
	DataRepository   string  `mapstructure:"data_repository"`
	Extensions       Strings `mapstructure:"extensions"`
	ExcludeDirs      Strings `mapstructure:"exclude_dirs"`
	VersionToken     string  `mapstructure:"version_token"`
	DataVersionToken string  `mapstructure:"data_version_token"`
}

type Engine struct {
	Binary        string        `mapstructure:"binary"`
	Username      string        `mapstructure:"username"`
	Password      SecureString  `mapstructure:"password"`
	ContentScript string        `mapstructure:"content_script"`
	ConfigScript  string        `mapstructure:"config_script"`
	PathToken     string        `mapstructure:"path_token"`
	MinVersion    string        `mapstructure:"min_version"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type FeatureMap struct {
	Repository   string `mapstructure:"repository"`
	FeaturesDir  string `mapstructure:"features_dir"`
	Geodata      string `mapstructure:"geodata"`
	Bibliography string `mapstructure:"bibliography"`
	OutputDir    string `mapstructure:"output_dir"`
}

type Logging struct {
	Format        string  `mapstructure:"format"`
	Level         string  `mapstructure:"level"`
	Output        Strings `mapstructure:"output"`
	FileMaxSizeMB int     `mapstructure:"file_max_size_mb"`
	FilesKeep     int     `mapstructure:"files_keep"`
}

type Git struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryWindow time.Duration `mapstructure:"retry_window"`
}

type Config struct {
	Workdir      string           `mapstructure:"workdir"`
	BuildDir     string           `mapstructure:"build_dir"`
	OnlyTags     bool             `mapstructure:"only_tags"`
	LockFile     string           `mapstructure:"lock_file"`
	Repositories []RepositorySpec `mapstructure:"repositories"`
	Assets       Assets           `mapstructure:"assets"`
	Stamp        Stamp            `mapstructure:"stamp"`
	Engine       Engine           `mapstructure:"engine"`
	FeatureMap   FeatureMap       `mapstructure:"feature_map"`
	Logging      Logging          `mapstructure:"logging"`
	Git          Git              `mapstructure:"git"`
}

func setDefaults() {
	viper.SetDefault(LoggingFormatKey, DefaultLoggingFormat)
	viper.SetDefault(LoggingLevelKey, DefaultLoggingLevel)
	viper.SetDefault(LoggingOutputKey, DefaultLoggingOutput)
	viper.SetDefault(LoggingFileMaxSizeMBKey, DefaultLoggingFileMaxSizeMB)
	viper.SetDefault(LoggingFilesKeepKey, DefaultLoggingFilesKeep)

	viper.SetDefault(AssetsDatasetPatternKey, DefaultAssetsDatasetPattern)
	viper.SetDefault(AssetsExtensionsKey, []string(DefaultAssetsExtensions))

	viper.SetDefault(StampExtensionsKey, []string(DefaultStampExtensions))
	viper.SetDefault(StampExcludeDirsKey, []string(DefaultStampExcludeDirs))
	viper.SetDefault(StampVersionTokenKey, DefaultStampVersionToken)
	viper.SetDefault(StampDataVersionTokenKey, DefaultStampDataVersionToken)

	viper.SetDefault(EngineBinaryKey, DefaultEngineBinary)
	viper.SetDefault(EnginePathTokenKey, DefaultEnginePathToken)
	viper.SetDefault(EngineTimeoutKey, DefaultEngineTimeout)

	viper.SetDefault(GitTimeoutKey, DefaultGitTimeout)
	viper.SetDefault(GitRetryWindowKey, DefaultGitRetryWindow)
}

// SetupEnv wires the AUFBAU_ env prefix plus the legacy environment names the
// reference deployment exported from its settings file.
func SetupEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // support nested config
	viper.AutomaticEnv()

	_ = viper.BindEnv(EngineUsernameKey, "AUFBAU_ENGINE_USERNAME", "local_username", "LOCAL_USERNAME")
	_ = viper.BindEnv(EnginePasswordKey, "AUFBAU_ENGINE_PASSWORD", "local_password", "LOCAL_PASSWORD")
	_ = viper.BindEnv(OnlyTagsKey, "AUFBAU_ONLY_TAGS", "onlytags", "ONLYTAGS")
	_ = viper.BindEnv(BuildDirKey, "AUFBAU_BUILD_DIR", "BUILD_DIR")
}

// NewConfig deserializes the settings viper currently holds, applies
// defaults, resolves paths and sets up the logger.
func NewConfig() (*Config, error) {
	c := &Config{}

	// Inform viper of all expected fields.  Otherwise, it fails to deserialize from the
	// environment.
	keys := GetStructKeys(reflect.TypeOf(*c), "mapstructure", "squash")
	for _, key := range keys {
		viper.SetDefault(key, nil)
	}

	setDefaults()
	setupLogger()

	err := viper.Unmarshal(c, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			DecodeStrings, mapstructure.StringToTimeDurationHookFunc())))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfiguration, err)
	}

	if err := c.resolvePaths(); err != nil {
		return nil, err
	}
	return c, nil
}

// resolvePaths expands the workdir and anchors every relative path on it.
// The build dir defaults to the stamped UI repository's checkout.
func (c *Config) resolvePaths() error {
	workdir, err := homedir.Expand(c.Workdir)
	if err != nil {
		return fmt.Errorf("%w: expand workdir %s: %s", ErrBadConfiguration, c.Workdir, err)
	}
	if workdir == "" {
		workdir = "."
	}
	workdir, err = filepath.Abs(workdir)
	if err != nil {
		return fmt.Errorf("%w: resolve workdir: %s", ErrBadConfiguration, err)
	}
	c.Workdir = workdir

	for i := range c.Repositories {
		if c.Repositories[i].Path == "" {
			c.Repositories[i].Path = c.Repositories[i].Name
		}
		c.Repositories[i].Path = c.anchor(c.Repositories[i].Path)
	}
	if c.BuildDir == "" {
		if ui, ok := c.RepositoryByName(c.Stamp.UIRepository); ok {
			c.BuildDir = ui.Path
		}
	} else {
		c.BuildDir = c.anchor(c.BuildDir)
	}
	if c.LockFile == "" {
		c.LockFile = filepath.Join(workdir, DefaultLockFileName)
	} else {
		c.LockFile = c.anchor(c.LockFile)
	}
	c.Assets.Destination = c.anchor(c.Assets.Destination)
	for i := range c.Assets.Sources {
		c.Assets.Sources[i] = c.anchor(c.Assets.Sources[i])
	}
	c.Engine.ContentScript = c.anchor(c.Engine.ContentScript)
	c.Engine.ConfigScript = c.anchor(c.Engine.ConfigScript)
	return nil
}

func (c *Config) anchor(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workdir, p)
}

// Validate promotes every configuration problem to a hard failure before any
// stage runs.
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return ErrNoRepositories
	}
	seen := make(map[string]bool, len(c.Repositories))
	for _, r := range c.Repositories {
		if r.Name == "" {
			return fmt.Errorf("%w: repository with empty name", ErrBadConfiguration)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateRepository, r.Name)
		}
		seen[r.Name] = true
		if _, err := git.ParseMode(r.Mode); err != nil {
			return fmt.Errorf("%w: repository %s: %s", ErrBadConfiguration, r.Name, err)
		}
	}

	for _, ref := range []struct{ key, name string }{
		{"stamp.ui_repository", c.Stamp.UIRepository},
		{"stamp.data_repository", c.Stamp.DataRepository},
		{"feature_map.repository", c.FeatureMap.Repository},
	} {
		if ref.name == "" {
			continue
		}
		if !seen[ref.name] {
			return fmt.Errorf("%w: %s: %s", ErrUnknownRepository, ref.key, ref.name)
		}
	}

	if len(c.Assets.Sources) > 0 && c.Assets.Destination == "" {
		return ErrMissingAssetsTargets
	}
	return nil
}

// RepositoryByName returns the repository spec with the given name.
func (c *Config) RepositoryByName(name string) (RepositorySpec, bool) {
	for _, r := range c.Repositories {
		if r.Name == name {
			return r, true
		}
	}
	return RepositorySpec{}, false
}

// GitSpec translates a repository entry for the synchronizer. OnlyTags
// forces tag mode on every repository.
func (c *Config) GitSpec(r RepositorySpec) git.Spec {
	mode, _ := git.ParseMode(r.Mode)
	if c.OnlyTags {
		mode = git.ModeLatestTag
	}
	return git.Spec{
		Name: r.Name,
		Path: r.Path,
		URL:  r.URL,
		Mode: mode,
	}
}
