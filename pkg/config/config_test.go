package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/acdh-oeaw/aufbau/pkg/config"
	"github.com/acdh-oeaw/aufbau/pkg/git"
)

func newConfigFromFile(t *testing.T, fn string) (*config.Config, error) {
	t.Helper()
	viper.Reset()
	viper.SetConfigFile(fn)
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}
	return config.NewConfig()
}

func TestConfig_Defaults(t *testing.T) {
	viper.Reset()
	c, err := config.NewConfig()
	require.NoError(t, err)
	// don't Validate, the empty config has no repositories

	require.Equal(t, config.DefaultEngineBinary, c.Engine.Binary)
	require.Equal(t, config.DefaultEnginePathToken, c.Engine.PathToken)
	require.Equal(t, config.DefaultEngineTimeout, c.Engine.Timeout)
	require.Equal(t, config.DefaultAssetsDatasetPattern, c.Assets.DatasetPattern)
	require.Equal(t, config.DefaultAssetsExtensions, c.Assets.Extensions)
	require.Equal(t, config.DefaultStampExtensions, c.Stamp.Extensions)
	require.Equal(t, config.DefaultStampExcludeDirs, c.Stamp.ExcludeDirs)
	require.Equal(t, config.DefaultStampVersionToken, c.Stamp.VersionToken)
	require.Equal(t, config.DefaultGitTimeout, c.Git.Timeout)
	require.NotEmpty(t, c.LockFile)
}

func TestConfig_NewFromFile(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		c, err := newConfigFromFile(t, "testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, c.Validate())

		require.Equal(t, "/srv/deploy", c.Workdir)
		require.True(t, c.OnlyTags)
		require.Len(t, c.Repositories, 3)

		// relative repository paths anchor on the workdir
		ui, ok := c.RepositoryByName("vicav-ui")
		require.True(t, ok)
		require.Equal(t, "/srv/deploy/vicav-app", ui.Path)

		// a repository without a path lands under workdir by name
		content, ok := c.RepositoryByName("vicav-content")
		require.True(t, ok)
		require.Equal(t, "/srv/deploy/vicav-content", content.Path)
		require.True(t, content.Annotate)

		// absolute paths stay put
		features, ok := c.RepositoryByName("wibarab-features")
		require.True(t, ok)
		require.Equal(t, "/data/wibarab-features", features.Path)

		// build dir defaults to the stamped UI checkout
		require.Equal(t, "/srv/deploy/vicav-app", c.BuildDir)
		require.Equal(t, filepath.Join("/srv/deploy", config.DefaultLockFileName), c.LockFile)

		// comma-separated extensions decode into Strings
		require.Equal(t, config.Strings{"jpg", "JPG", "png", "PNG", "svg"}, c.Assets.Extensions)
		require.Equal(t, "/srv/deploy/vicav-app/images", c.Assets.Destination)
		require.Equal(t, []string{"/srv/deploy/vicav-content"}, []string(c.Assets.Sources))

		require.Equal(t, "admin", c.Engine.Username)
		require.Equal(t, "hunter2", c.Engine.Password.SecureValue())
		require.Equal(t, "[SECRET]", c.Engine.Password.String())
		require.Equal(t, 20*time.Minute, c.Engine.Timeout)
		require.Equal(t, "/srv/deploy/deploy/vicav-content.bxs", c.Engine.ContentScript)

		require.Equal(t, 90*time.Second, c.Git.Timeout)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := newConfigFromFile(t, "testdata/invalid_config.yaml")
		require.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	base := func() *config.Config {
		c, err := newConfigFromFile(t, "testdata/valid_config.yaml")
		require.NoError(t, err)
		return c
	}

	t.Run("no repositories", func(t *testing.T) {
		c := base()
		c.Repositories = nil
		require.ErrorIs(t, c.Validate(), config.ErrNoRepositories)
	})

	t.Run("duplicate name", func(t *testing.T) {
		c := base()
		c.Repositories = append(c.Repositories, c.Repositories[0])
		require.ErrorIs(t, c.Validate(), config.ErrDuplicateRepository)
	})

	t.Run("unknown mode", func(t *testing.T) {
		c := base()
		c.Repositories[0].Mode = "hourly"
		err := c.Validate()
		require.ErrorIs(t, err, config.ErrBadConfiguration)
	})

	t.Run("unknown stamp reference", func(t *testing.T) {
		c := base()
		c.Stamp.UIRepository = "nope"
		require.ErrorIs(t, c.Validate(), config.ErrUnknownRepository)
	})

	t.Run("assets without destination", func(t *testing.T) {
		c := base()
		c.Assets.Destination = ""
		require.ErrorIs(t, c.Validate(), config.ErrMissingAssetsTargets)
	})
}

func TestConfig_GitSpec(t *testing.T) {
	c, err := newConfigFromFile(t, "testdata/valid_config.yaml")
	require.NoError(t, err)

	ui, ok := c.RepositoryByName("vicav-ui")
	require.True(t, ok)

	// only_tags=true forces tag mode even on latest-commit repositories
	spec := c.GitSpec(ui)
	require.Equal(t, git.ModeLatestTag, spec.Mode)

	c.OnlyTags = false
	spec = c.GitSpec(ui)
	require.Equal(t, git.ModeLatestCommit, spec.Mode)
	require.Equal(t, "vicav-ui", spec.Name)
	require.Equal(t, "/srv/deploy/vicav-app", spec.Path)
	require.Equal(t, "https://example.org/git/vicav-app.git", spec.URL)
}

func TestConfig_EnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("AUFBAU_ENGINE_USERNAME", "envuser")
	t.Setenv("local_password", "envpass")
	t.Setenv("BUILD_DIR", "/opt/build")
	config.SetupEnv()

	c, err := config.NewConfig()
	require.NoError(t, err)
	require.Equal(t, "envuser", c.Engine.Username)
	require.Equal(t, "envpass", c.Engine.Password.SecureValue())
	require.Equal(t, "/opt/build", c.BuildDir)
}
