package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://stackoverflow.com/questions", cfg.Listing.BaseURL)
	require.Equal(t, 50, cfg.Listing.PageSize)
	require.Equal(t, 10, cfg.Run.PagesPerRun)
	require.Equal(t, "commit", cfg.Run.EmptyPagePolicy)
	require.Equal(t, 100*time.Millisecond, cfg.Pacing.MinDelay)
	require.Equal(t, 1900*time.Millisecond, cfg.Pacing.MaxDelay)
	require.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, 1, cfg.HTTP.MaxRetries)
	require.Contains(t, cfg.HTTP.UserAgent, "Mozilla/5.0")
	require.Equal(t, "div#questions", cfg.Extract.Container)
	require.Equal(t, 2, cfg.Extract.LinkIDSegment)
	require.Equal(t, TypeFile, cfg.Sink.Type)
	require.Equal(t, "output/questions.csv", cfg.Sink.File.Path)
	require.Equal(t, "output/LastPage.txt", cfg.Checkpoint.Path)
	require.Equal(t, "output/FailedPages.txt", cfg.Failures.Path)
	require.Equal(t, TypeNone, cfg.Archive.Type)
	require.Equal(t, 0, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
	require.False(t, cfg.Tracing.Enabled)
	require.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 0.001)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
listing:
  base_url: https://example.com/questions
  page_size: 15
  sort: newest
run:
  pages_per_run: 3
  empty_page_policy: fail
pacing:
  min_delay: 0s
  max_delay: 250ms
  max_rps: 2.5
sink:
  type: sqlite
  table: harvested
  sqlite:
    path: /tmp/harvest.db
checkpoint:
  type: sqlite
  key: nightly
archive:
  type: local
  dir: /tmp/archive
  all_pages: true
server:
  port: 9090
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 15, cfg.Listing.PageSize)
	require.Equal(t, "newest", cfg.Listing.Sort)
	require.Equal(t, 250*time.Millisecond, cfg.Pacing.MaxDelay)
	require.InDelta(t, 2.5, cfg.Pacing.MaxRPS, 0.001)
	require.Equal(t, "harvested", cfg.Sink.Table)
	require.Equal(t, "/tmp/harvest.db", cfg.Sink.SQLite.Path)
	require.Equal(t, "nightly", cfg.Checkpoint.Key)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Logging.Level)

	eng := cfg.EngineConfig()
	require.Equal(t, 3, eng.PagesPerRun)
	require.Equal(t, crawler.EmptyPageFail, eng.EmptyPagePolicy)
	require.True(t, eng.ArchiveAll)
	require.Equal(t, "pages", eng.ArchivePrefix)

	pacing := cfg.PacingConfig()
	require.Equal(t, time.Duration(0), pacing.MinDelay)
	require.Equal(t, 250*time.Millisecond, pacing.MaxDelay)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_RUN_PAGES_PER_RUN", "25")
	t.Setenv("HARVESTER_SINK_TYPE", "postgres")
	t.Setenv("HARVESTER_SINK_POSTGRES_DSN", "postgres://harvester@localhost/harvest")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Run.PagesPerRun)
	require.Equal(t, TypePostgres, cfg.Sink.Type)
	require.Equal(t, "postgres://harvester@localhost/harvest", cfg.Sink.Postgres.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.Listing.BaseURL = "/questions" }, "listing.base_url"},
		{"zero page size", func(c *Config) { c.Listing.PageSize = 0 }, "listing.page_size"},
		{"zero pages per run", func(c *Config) { c.Run.PagesPerRun = 0 }, "run.pages_per_run"},
		{"bad policy", func(c *Config) { c.Run.EmptyPagePolicy = "skip" }, "run.empty_page_policy"},
		{"inverted delays", func(c *Config) { c.Pacing.MaxDelay = c.Pacing.MinDelay - 1 }, "pacing.max_delay"},
		{"negative rps", func(c *Config) { c.Pacing.MaxRPS = -1 }, "pacing.max_rps"},
		{"zero timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout"},
		{"negative retries", func(c *Config) { c.HTTP.MaxRetries = -1 }, "http.max_retries"},
		{"unknown sink", func(c *Config) { c.Sink.Type = "mongo" }, "sink.type"},
		{"postgres without dsn", func(c *Config) { c.Sink.Type = TypePostgres }, "sink.postgres.dsn"},
		{"file sink without path", func(c *Config) { c.Sink.File.Path = "" }, "sink.file.path"},
		{"sqlite checkpoint on file sink", func(c *Config) { c.Checkpoint.Type = TypeSQLite }, "requires sink.type"},
		{"unknown checkpoint", func(c *Config) { c.Checkpoint.Type = "redis" }, "checkpoint.type"},
		{"no failure log", func(c *Config) { c.Failures.Path = "" }, "failures.path"},
		{"gcs without bucket", func(c *Config) { c.Archive.Type = TypeGCS }, "archive.bucket"},
		{"unknown archive", func(c *Config) { c.Archive.Type = "s3" }, "archive.type"},
		{"pubsub without topic", func(c *Config) { c.Notify.Type = TypePubSub }, "notify.project_id"},
		{"unknown notify", func(c *Config) { c.Notify.Type = "smtp" }, "notify.type"},
		{"bad sample ratio", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}

	require.NoError(t, base.Validate())

	dry := base
	dry.Sink.Type = TypeMemory
	dry.Checkpoint.Type = TypeMemory
	dry.Failures.Path = ""
	require.NoError(t, dry.Validate())
}
