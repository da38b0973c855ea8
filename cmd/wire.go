package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/api"
	"github.com/JakeFAU/question-harvester/internal/checkpoint"
	"github.com/JakeFAU/question-harvester/internal/clock/system"
	"github.com/JakeFAU/question-harvester/internal/config"
	"github.com/JakeFAU/question-harvester/internal/crawler"
	"github.com/JakeFAU/question-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/question-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/question-harvester/internal/hash/sha256"
	"github.com/JakeFAU/question-harvester/internal/id/uuid"
	"github.com/JakeFAU/question-harvester/internal/listing"
	"github.com/JakeFAU/question-harvester/internal/metrics"
	"github.com/JakeFAU/question-harvester/internal/progress"
	"github.com/JakeFAU/question-harvester/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/question-harvester/internal/publisher/pubsub"
	filestore "github.com/JakeFAU/question-harvester/internal/storage/file"
	"github.com/JakeFAU/question-harvester/internal/storage/gcs"
	"github.com/JakeFAU/question-harvester/internal/storage/local"
	"github.com/JakeFAU/question-harvester/internal/storage/memory"
	"github.com/JakeFAU/question-harvester/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/question-harvester/internal/storage/sqlite"
	"github.com/JakeFAU/question-harvester/internal/telemetry"
)

const serviceName = "question-harvester"

// harvester holds the wired collaborators of one command invocation.
type harvester struct {
	cfg     config.Config
	logger  *zap.Logger
	engine  *crawler.Engine
	metrics *metrics.Metrics
	tracker *progress.Tracker
	hub     *progress.Hub

	sink       crawler.Sink
	checkpoint crawler.CheckpointStore
	failures   crawler.FailureLog
	ready      api.ReadinessCheck

	closers []func() error
}

// stores is the persistence subset shared by every command.
type stores struct {
	sink       crawler.Sink
	checkpoint crawler.CheckpointStore
	failures   crawler.FailureLog
	ready      api.ReadinessCheck
	closers    []func() error
}

// newFs is the filesystem used for file-backed stores.
var newFs = afero.NewOsFs

// openStores opens the configured persistence. With readOnly set the file
// sink is neither created nor repaired.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger, readOnly bool) (*stores, error) {
	fs := newFs()
	st := &stores{}

	var (
		db   *sqlx.DB
		pool postgres.Pool
	)
	switch cfg.Sink.Type {
	case config.TypeFile:
		open := func() (*filestore.RecordStore, error) {
			return filestore.Open(fs, cfg.Sink.File.Path, logger.Named("sink"))
		}
		if readOnly {
			open = func() (*filestore.RecordStore, error) {
				return filestore.OpenReadOnly(fs, cfg.Sink.File.Path)
			}
		}
		sink, err := open()
		if err != nil {
			return nil, fmt.Errorf("open file sink: %w", err)
		}
		st.sink = sink
	case config.TypeSQLite:
		conn, err := sqlitestore.Open(ctx, cfg.Sink.SQLite.Path)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, conn.Close)
		if err := sqlitestore.EnsureSchema(ctx, conn, cfg.Sink.Table); err != nil {
			st.close(logger)
			return nil, err
		}
		sink, err := sqlitestore.NewRecordStore(conn, cfg.Sink.Table)
		if err != nil {
			st.close(logger)
			return nil, err
		}
		db = conn
		st.sink = sink
		st.ready = func(ctx context.Context) error { return conn.PingContext(ctx) }
	case config.TypePostgres:
		p, err := postgres.Connect(ctx, postgres.Config{
			DSN:             cfg.Sink.Postgres.DSN,
			MaxConns:        cfg.Sink.Postgres.MaxConns,
			MinConns:        cfg.Sink.Postgres.MinConns,
			MaxConnLifetime: cfg.Sink.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() error { p.Close(); return nil })
		if err := postgres.EnsureSchema(ctx, p, cfg.Sink.Table); err != nil {
			st.close(logger)
			return nil, err
		}
		sink, err := postgres.NewRecordStore(p, cfg.Sink.Table)
		if err != nil {
			st.close(logger)
			return nil, err
		}
		pool = p
		st.sink = sink
		st.ready = p.Ping
	case config.TypeMemory:
		st.sink = memory.NewRecordStore()
	default:
		return nil, fmt.Errorf("unsupported sink.type %q", cfg.Sink.Type)
	}

	var err error
	switch cfg.Checkpoint.Type {
	case config.TypeFile:
		st.checkpoint, err = checkpoint.NewFileStore(fs, cfg.Checkpoint.Path)
	case config.TypeSQLite:
		st.checkpoint, err = sqlitestore.NewCheckpointStore(db, cfg.Checkpoint.Key)
	case config.TypePostgres:
		st.checkpoint, err = postgres.NewCheckpointStore(pool, cfg.Checkpoint.Key)
	case config.TypeMemory:
		st.checkpoint = memory.NewCheckpointStore(0)
	default:
		err = fmt.Errorf("unsupported checkpoint.type %q", cfg.Checkpoint.Type)
	}
	if err != nil {
		st.close(logger)
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	if cfg.Checkpoint.Type == config.TypeMemory {
		st.failures = memory.NewFailureLog()
		return st, nil
	}
	st.failures, err = checkpoint.NewFailureLog(fs, cfg.Failures.Path)
	if err != nil {
		st.close(logger)
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return st, nil
}

func (s *stores) close(logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	s.closers = nil
}

// buildHarvester wires every collaborator the engine needs from cfg.
func buildHarvester(ctx context.Context, cfg config.Config, logger *zap.Logger) (*harvester, error) {
	st, err := openStores(ctx, cfg, logger, false)
	if err != nil {
		return nil, fmt.Errorf("startup: %w", err)
	}
	h := &harvester{
		cfg:        cfg,
		logger:     logger,
		sink:       st.sink,
		checkpoint: st.checkpoint,
		failures:   st.failures,
		ready:      st.ready,
		closers:    st.closers,
	}
	if err := h.wire(ctx); err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("startup: %w", err)
	}
	return h, nil
}

func (h *harvester) wire(ctx context.Context) error {
	cfg := h.cfg
	clock := system.New()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: serviceName,
			ProjectID:   cfg.Tracing.ProjectID,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		h.closers = append(h.closers, func() error {
			return tp.Shutdown(context.Background())
		})
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    cfg.HTTP.Timeout,
		MaxRetries: cfg.HTTP.MaxRetries,
	}, h.logger.Named("fetcher"))
	source, err := listing.New(listing.Config{
		BaseURL:   cfg.Listing.BaseURL,
		PageSize:  cfg.Listing.PageSize,
		UserAgent: cfg.HTTP.UserAgent,
		Sort:      cfg.Listing.Sort,
	}, fetcher)
	if err != nil {
		return fmt.Errorf("build listing client: %w", err)
	}
	extractor, err := extract.New(cfg.Extract, clock)
	if err != nil {
		return fmt.Errorf("build extractor: %w", err)
	}
	pacer, err := crawler.NewJitterPacer(cfg.PacingConfig())
	if err != nil {
		return fmt.Errorf("build pacer: %w", err)
	}

	h.metrics = metrics.New()
	promSink, err := sinks.NewPrometheusSink(h.metrics)
	if err != nil {
		return fmt.Errorf("build metrics sink: %w", err)
	}
	h.tracker = progress.NewTracker()
	h.hub = progress.NewHub(
		progress.Config{Logger: h.logger.Named("progress")},
		sinks.NewLogSink(h.logger.Named("progress")),
		promSink,
		h.tracker,
	)

	deps := crawler.Deps{
		Source:     source,
		Extractor:  extractor,
		Sink:       h.sink,
		Checkpoint: h.checkpoint,
		Failures:   h.failures,
		Pacer:      pacer,
		Clock:      clock,
		IDs:        uuid.New(),
		Hasher:     sha256.New(),
		Progress:   h.hub,
	}

	switch cfg.Archive.Type {
	case config.TypeLocal:
		blobs, err := local.New(newFs(), local.Config{BaseDir: cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("open local archive: %w", err)
		}
		deps.Archive = blobs
	case config.TypeGCS:
		blobs, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Archive.Bucket}, h.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("open gcs archive: %w", err)
		}
		h.closers = append(h.closers, blobs.Close)
		deps.Archive = blobs
	}

	if cfg.Notify.Type == config.TypePubSub {
		pub, err := pubsubpublisher.Dial(ctx, cfg.Notify.ProjectID)
		if err != nil {
			return fmt.Errorf("open pubsub publisher: %w", err)
		}
		h.closers = append(h.closers, pub.Close)
		deps.Publisher = pub
	}

	h.engine, err = crawler.NewEngine(cfg.EngineConfig(), deps, h.logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	return nil
}

// serveStatus runs the status server until ctx ends when server.port is set.
func (h *harvester) serveStatus(ctx context.Context) {
	if h.cfg.Server.Port <= 0 {
		return
	}
	server := api.NewServer(
		api.NewProgressHandler(h.tracker, h.failures, h.logger.Named("api")),
		h.metrics,
		h.ready,
		h.logger.Named("api"),
	)
	go func() {
		if err := server.ListenAndServe(ctx, h.cfg.Server.Port); err != nil {
			h.logger.Error("Status server stopped", zap.Error(err))
		}
	}()
}

// pushMetrics sends the registry to the pushgateway when one is configured.
func (h *harvester) pushMetrics(ctx context.Context) {
	if h.cfg.Metrics.PushURL == "" || h.metrics == nil {
		return
	}
	if err := h.metrics.Push(context.WithoutCancel(ctx), h.cfg.Metrics.PushURL, h.cfg.Metrics.Job); err != nil {
		h.logger.Warn("Failed to push metrics", zap.Error(err))
	}
}

// Close flushes progress sinks and releases every opened resource.
func (h *harvester) Close(ctx context.Context) {
	if h.hub != nil {
		if err := h.hub.Close(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("Failed to close progress hub", zap.Error(err))
		}
	}
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	if err := errors.Join(errs...); err != nil {
		h.logger.Warn("Failed to release resources", zap.Error(err))
	}
}
