package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config controls how the Hub calls its sinks.
//   - SinkTimeout: per-sink timeout for each Consume call (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const defaultSinkTimeout = 5 * time.Second

// Hub fans every Event out to the registered sinks in the caller's goroutine.
// The engine emits at most a handful of events per page, so delivery is
// synchronous and ordered; a failing sink is logged and never blocks the run.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	sinks  []Sink
	closed bool
}

// NewHub initializes a Hub with the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Hub{cfg: cfg, logger: logger, sinks: filtered}
}

// Emit validates evt and delivers it to every sink.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	batch := []Event{evt}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err), zap.String("stage", string(evt.Stage)))
		}
		cancel()
	}
}

// Close closes every sink once. Subsequent Emit calls are ignored.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	var firstErr error
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("close progress sink: %w", err)
			}
		}
	}
	return firstErr
}
