package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/wait"
)

// newTestViper returns a viper instance with defaults and the given YAML.
func newTestViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	return v
}

// validConfig returns a fully defaulted configuration with a target owner.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewFromViper(newTestViper(t, "target:\n  owner: someone\n"))
	require.NoError(t, err)
	return cfg
}

// TestGetUninitialized verifies that calling Get() before Set() causes a panic.
func TestGetUninitialized(t *testing.T) {
	Set(nil)
	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

func TestSetAndGet(t *testing.T) {
	cfg := validConfig(t)
	Set(cfg)
	t.Cleanup(func() { Set(nil) })
	assert.Same(t, cfg, Get())
}

func TestDefaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "followers", cfg.Target.Directory)
	assert.Equal(t, 100, cfg.Target.Count)
	assert.Equal(t, 3, cfg.Pool.Workers)
	assert.Equal(t, 10, cfg.Extraction.MaxNoProgress)
	assert.Equal(t, 200, cfg.Extraction.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Pool.NavigateTimeout)
	assert.Equal(t, 5*time.Second, cfg.Pool.PrimaryTimeout)
	assert.Equal(t, wait.Range{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond}, cfg.Pool.Pacing)
	assert.Equal(t, wait.Range{Min: 1500 * time.Millisecond, Max: 2500 * time.Millisecond}, cfg.Extraction.PageSettle)
	assert.Equal(t, schemas.CSS("input[name='username']"), cfg.Auth.UsernameField)
	assert.Equal(t, schemas.XPath("//button[@type='submit']"), cfg.Auth.SubmitButton)
	require.Len(t, cfg.Extraction.PanelLocators, 2)
	assert.Equal(t, schemas.LocatorCSS, cfg.Extraction.PanelLocators[0].Strategy)
	assert.Equal(t, schemas.LocatorXPath, cfg.Extraction.PanelLocators[1].Strategy)
	assert.Contains(t, cfg.Extraction.ReservedPrefixes, "explore")
	assert.Equal(t, 2, cfg.Auth.DismissRounds)
	assert.True(t, cfg.Browser.Pointer.Enabled)
	assert.Equal(t, 12, cfg.Browser.Pointer.MinSteps)
	assert.Equal(t, wait.Range{Min: 8 * time.Millisecond, Max: 20 * time.Millisecond}, cfg.Browser.Pointer.StepDelay)

	assert.NoError(t, cfg.Validate())
}

func TestYAMLOverrides(t *testing.T) {
	v := newTestViper(t, `
target:
  owner: "  Someone  "
  directory: Following
  count: 25
pool:
  workers: 8
  pacing:
    min: 1s
    max: 2s
extraction:
  panel_locators:
    - strategy: css
      expr: "section[role='list']"
`)
	cfg, err := NewFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "Someone", cfg.Target.Owner)
	assert.Equal(t, DirectoryFollowing, cfg.Target.Directory)
	assert.Equal(t, 25, cfg.Target.Count)
	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, wait.Range{Min: time.Second, Max: 2 * time.Second}, cfg.Pool.Pacing)
	assert.Equal(t, []schemas.Locator{schemas.CSS("section[role='list']")}, cfg.Extraction.PanelLocators)
	assert.NoError(t, cfg.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CENSUS_USERNAME", "alice")
	t.Setenv("CENSUS_PASSWORD", "s3cret")
	t.Setenv("CENSUS_POOL_WORKERS", "5")

	v := newTestViper(t, "target:\n  owner: someone\n")
	BindEnvironment(v)
	cfg, err := NewFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pool.Workers)
	creds, err := cfg.Credentials()
	require.NoError(t, err)
	assert.Equal(t, schemas.Credentials{Username: "alice", Password: "s3cret"}, creds)
}

func TestCredentialsMissing(t *testing.T) {
	cfg := validConfig(t)
	_, err := cfg.Credentials()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing optional file is ignored", func(t *testing.T) {
		assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env"), false))
		assert.NoError(t, LoadEnvFile("", true))
	})

	t.Run("missing required file fails", func(t *testing.T) {
		assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env"), true))
	})

	t.Run("values are loaded into the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("CENSUS_TEST_ENV_FILE_KEY=loaded\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("CENSUS_TEST_ENV_FILE_KEY") })

		require.NoError(t, LoadEnvFile(path, true))
		assert.Equal(t, "loaded", os.Getenv("CENSUS_TEST_ENV_FILE_KEY"))
	})
}

// TestConfigValidation verifies the Validate() method.
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:     "missing owner",
			mutate:   func(c *Config) { c.Target.Owner = "" },
			errorMsg: "target.owner is a required configuration field",
		},
		{
			name:     "unknown directory",
			mutate:   func(c *Config) { c.Target.Directory = "likes" },
			errorMsg: "target.directory must be",
		},
		{
			name:     "zero count",
			mutate:   func(c *Config) { c.Target.Count = 0 },
			errorMsg: "target.count must be a positive integer",
		},
		{
			name:     "zero workers",
			mutate:   func(c *Config) { c.Pool.Workers = 0 },
			errorMsg: "pool.workers must be a positive integer",
		},
		{
			name:     "negative rate",
			mutate:   func(c *Config) { c.Pool.RequestsPerSecond = -1 },
			errorMsg: "pool.requests_per_second must not be negative",
		},
		{
			name:     "zero stagnation ceiling",
			mutate:   func(c *Config) { c.Extraction.MaxNoProgress = 0 },
			errorMsg: "extraction.max_no_progress must be a positive integer",
		},
		{
			name:     "zero attempt ceiling",
			mutate:   func(c *Config) { c.Extraction.MaxAttempts = 0 },
			errorMsg: "extraction.max_attempts must be a positive integer",
		},
		{
			name:     "inverted range",
			mutate:   func(c *Config) { c.Pool.Pacing = wait.Range{Min: 2 * time.Second, Max: time.Second} },
			errorMsg: "pool.pacing must satisfy",
		},
		{
			name:     "bad locator strategy",
			mutate:   func(c *Config) { c.Auth.SubmitButton = schemas.Locator{Strategy: "regex", Expr: "x"} },
			errorMsg: "unknown strategy",
		},
		{
			name:     "empty locator expression",
			mutate:   func(c *Config) { c.Auth.UsernameField = schemas.CSS(" ") },
			errorMsg: "empty expression",
		},
		{
			name:     "no panel locators",
			mutate:   func(c *Config) { c.Extraction.PanelLocators = nil },
			errorMsg: "extraction.panel_locators must not be empty",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errorMsg)
		})
	}
}
