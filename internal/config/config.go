// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/question-harvester/internal/crawler"
	"github.com/JakeFAU/question-harvester/internal/extract"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_SINK_TYPE.
const EnvPrefix = "HARVESTER"

// Config captures all knobs loaded via Viper.
type Config struct {
	Listing    ListingConfig    `mapstructure:"listing"`
	Run        RunConfig        `mapstructure:"run"`
	Pacing     PacingConfig     `mapstructure:"pacing"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Extract    extract.Policy   `mapstructure:"extract"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Failures   FailuresConfig   `mapstructure:"failures"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ListingConfig addresses the remote collection.
type ListingConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	PageSize int    `mapstructure:"page_size"`
	Sort     string `mapstructure:"sort"`
}

// RunConfig controls the size and policies of one invocation.
type RunConfig struct {
	PagesPerRun     int    `mapstructure:"pages_per_run"`
	EmptyPagePolicy string `mapstructure:"empty_page_policy"`
}

// PacingConfig bounds the jittered delay before each page request.
type PacingConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
	MaxRPS   float64       `mapstructure:"max_rps"`
}

// HTTPConfig configures the outbound client.
type HTTPConfig struct {
	UserAgent  string        `mapstructure:"user_agent"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// SinkConfig selects and configures the record sink.
type SinkConfig struct {
	Type     string         `mapstructure:"type"`
	Table    string         `mapstructure:"table"`
	File     FileConfig     `mapstructure:"file"`
	SQLite   FileConfig     `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// FileConfig names a file on disk.
type FileConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// CheckpointConfig selects where the last committed page is kept.
type CheckpointConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
	Key  string `mapstructure:"key"`
}

// FailuresConfig locates the failure log.
type FailuresConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig controls archiving of raw page bodies.
type ArchiveConfig struct {
	Type     string `mapstructure:"type"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	AllPages bool   `mapstructure:"all_pages"`
}

// NotifyConfig controls the run summary notification.
type NotifyConfig struct {
	Type      string `mapstructure:"type"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig holds the optional pushgateway target.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	Job     string `mapstructure:"job"`
}

// TracingConfig controls OpenTelemetry tracing. Spans are exported to Cloud
// Trace when ProjectID is set.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Supported backend names.
const (
	TypeNone     = "none"
	TypeFile     = "file"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMemory   = "memory"
	TypeLocal    = "local"
	TypeGCS      = "gcs"
	TypePubSub   = "pubsub"
)

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listing.base_url", "https://stackoverflow.com/questions")
	v.SetDefault("listing.page_size", 50)
	v.SetDefault("listing.sort", "")
	v.SetDefault("run.pages_per_run", 10)
	v.SetDefault("run.empty_page_policy", string(crawler.EmptyPageCommit))
	v.SetDefault("pacing.min_delay", "100ms")
	v.SetDefault("pacing.max_delay", "1900ms")
	v.SetDefault("pacing.max_rps", 0)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) "+
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 1)

	def := extract.DefaultPolicy()
	v.SetDefault("extract.container", def.Container)
	v.SetDefault("extract.question", def.Question)
	v.SetDefault("extract.title", def.Title)
	v.SetDefault("extract.link", def.Link)
	v.SetDefault("extract.link_id_segment", def.LinkIDSegment)
	v.SetDefault("extract.view_count", def.ViewCount)
	v.SetDefault("extract.view_count_attr", def.ViewCountAttr)
	v.SetDefault("extract.published_at", def.PublishedAt)
	v.SetDefault("extract.published_at_attr", def.PublishedAtAttr)
	v.SetDefault("extract.published_at_layout", def.PublishedAtLayout)
	v.SetDefault("extract.total_count", def.TotalCount)
	v.SetDefault("extract.total_count_attr", def.TotalCountAttr)

	v.SetDefault("sink.type", TypeFile)
	v.SetDefault("sink.table", "questions")
	v.SetDefault("sink.file.path", "output/questions.csv")
	v.SetDefault("sink.sqlite.path", "output/questions.db")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.postgres.min_conns", 0)
	v.SetDefault("sink.postgres.max_conn_lifetime", "30m")

	v.SetDefault("checkpoint.type", TypeFile)
	v.SetDefault("checkpoint.path", "output/LastPage.txt")
	v.SetDefault("checkpoint.key", "questions")
	v.SetDefault("failures.path", "output/FailedPages.txt")

	v.SetDefault("archive.type", TypeNone)
	v.SetDefault("archive.dir", "output/archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.all_pages", false)

	v.SetDefault("notify.type", TypeNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")

	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job", "question_harvester")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if u, err := url.Parse(c.Listing.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("listing.base_url must be an absolute URL")
	}
	if c.Listing.PageSize <= 0 {
		return fmt.Errorf("listing.page_size must be > 0")
	}
	if c.Run.PagesPerRun <= 0 {
		return fmt.Errorf("run.pages_per_run must be > 0")
	}
	switch crawler.EmptyPagePolicy(c.Run.EmptyPagePolicy) {
	case crawler.EmptyPageCommit, crawler.EmptyPageFail:
	default:
		return fmt.Errorf("run.empty_page_policy must be commit or fail, got %q", c.Run.EmptyPagePolicy)
	}
	if c.Pacing.MinDelay < 0 || c.Pacing.MaxDelay < c.Pacing.MinDelay {
		return fmt.Errorf("pacing.max_delay must be >= pacing.min_delay >= 0")
	}
	if c.Pacing.MaxRPS < 0 {
		return fmt.Errorf("pacing.max_rps must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if err := c.validateSink(); err != nil {
		return err
	}
	if err := c.validateCheckpoint(); err != nil {
		return err
	}
	if c.Failures.Path == "" && c.Checkpoint.Type != TypeMemory {
		return fmt.Errorf("failures.path is required")
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	switch c.Notify.Type {
	case TypeNone, "":
	case TypePubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unsupported notify.type %q", c.Notify.Type)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

func (c Config) validateSink() error {
	switch c.Sink.Type {
	case TypeFile:
		if c.Sink.File.Path == "" {
			return fmt.Errorf("sink.file.path is required")
		}
	case TypeSQLite:
		if c.Sink.SQLite.Path == "" {
			return fmt.Errorf("sink.sqlite.path is required")
		}
	case TypePostgres:
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required")
		}
	case TypeMemory:
	default:
		return fmt.Errorf("unsupported sink.type %q", c.Sink.Type)
	}
	if c.Sink.Type == TypeSQLite || c.Sink.Type == TypePostgres {
		if c.Sink.Table == "" {
			return fmt.Errorf("sink.table is required")
		}
	}
	return nil
}

func (c Config) validateCheckpoint() error {
	switch c.Checkpoint.Type {
	case TypeFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required")
		}
	case TypeSQLite, TypePostgres:
		if c.Sink.Type != c.Checkpoint.Type {
			return fmt.Errorf("checkpoint.type %s requires sink.type %s", c.Checkpoint.Type, c.Checkpoint.Type)
		}
		if c.Checkpoint.Key == "" {
			return fmt.Errorf("checkpoint.key is required")
		}
	case TypeMemory:
	default:
		return fmt.Errorf("unsupported checkpoint.type %q", c.Checkpoint.Type)
	}
	return nil
}

func (c Config) validateArchive() error {
	switch c.Archive.Type {
	case TypeNone, "":
	case TypeLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for local archive")
		}
	case TypeGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for gcs archive")
		}
	default:
		return fmt.Errorf("unsupported archive.type %q", c.Archive.Type)
	}
	return nil
}

// EngineConfig maps the run knobs onto the crawler engine.
func (c Config) EngineConfig() crawler.EngineConfig {
	return crawler.EngineConfig{
		PagesPerRun:     c.Run.PagesPerRun,
		EmptyPagePolicy: crawler.EmptyPagePolicy(c.Run.EmptyPagePolicy),
		ArchiveAll:      c.Archive.AllPages,
		ArchivePrefix:   c.Archive.Prefix,
		NotifyTopic:     c.Notify.Topic,
	}
}

// PacingConfig maps the pacing keys onto the crawler pacer.
func (c Config) PacingConfig() crawler.PacingConfig {
	return crawler.PacingConfig{
		MinDelay: c.Pacing.MinDelay,
		MaxDelay: c.Pacing.MaxDelay,
		MaxRPS:   c.Pacing.MaxRPS,
	}
}
