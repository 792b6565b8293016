package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avitolab/listings-crawler/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Runner.WorkerCount)
	require.Equal(t, 5, cfg.Runner.MaxAttempts)
	require.Equal(t, "data/items.txt", cfg.Files.Items)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "noop", cfg.Storage.Provider)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runner:
  worker_count: 12
  max_attempts: 3
  acquire_backoff_ms: 250
files:
  items: /data/items.txt
  proxies: /data/proxies.txt
  blocked_proxies: /data/blocked.txt
target:
  item_url_template: "https://catalog.example.com/items/%d"
browser:
  headless: false
  nav_timeout_seconds: 30
storage:
  provider: local
  dir: /tmp/archives
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, 12, cfg.Runner.WorkerCount)
	require.Equal(t, 3, cfg.Runner.MaxAttempts)
	require.Equal(t, "/data/items.txt", cfg.Files.Items)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, "local", cfg.Storage.Provider)

	require.Equal(t, "https://catalog.example.com/items/42", cfg.ItemURL(42))
	require.Equal(t, 30*time.Second, cfg.NavTimeout())
	require.Equal(t, 250*time.Millisecond, cfg.AcquireBackoff())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLER_RUNNER_MAX_ATTEMPTS", "9")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Runner.MaxAttempts)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Runner.WorkerCount = 0 }},
		{"zero attempts", func(c *config.Config) { c.Runner.MaxAttempts = 0 }},
		{"missing items file", func(c *config.Config) { c.Files.Items = "" }},
		{"template without placeholder", func(c *config.Config) { c.Target.ItemURLTemplate = "https://example.com/items" }},
		{"unknown storage provider", func(c *config.Config) { c.Storage.Provider = "s3" }},
		{"gcs without bucket", func(c *config.Config) { c.Storage.Provider = "gcs"; c.Storage.GCSBucket = "" }},
		{"local without dir", func(c *config.Config) { c.Storage.Provider = "local"; c.Storage.Dir = "" }},
		{"zero nav timeout", func(c *config.Config) { c.Browser.NavTimeoutSec = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
