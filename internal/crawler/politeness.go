package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/time/rate"
)

// PacingConfig bounds the randomized delay applied before every page request.
type PacingConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxRPS caps the request rate on top of the jitter. Zero disables the cap.
	MaxRPS float64
}

// JitterPacer sleeps a uniformly random duration in [MinDelay, MaxDelay]
// before each request so the request pattern has no fixed interval.
type JitterPacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
	pause    pauseController
	draw     func(limit time.Duration) time.Duration
}

// NewJitterPacer validates cfg and builds a pacer.
func NewJitterPacer(cfg PacingConfig) (*JitterPacer, error) {
	if cfg.MinDelay < 0 || cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("pacing delays must be >= 0")
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("pacing max delay %s is below min delay %s", cfg.MaxDelay, cfg.MinDelay)
	}
	if cfg.MaxRPS < 0 {
		return nil, fmt.Errorf("pacing max rps must be >= 0")
	}
	p := &JitterPacer{
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		pause:    &timerPauseController{},
		draw:     randomJitter,
	}
	if cfg.MaxRPS > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), 1)
	}
	return p, nil
}

// Wait blocks for the next jittered delay and returns how long it slept.
// It returns the context error if ctx is done before the delay elapses.
func (p *JitterPacer) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
		}
	}
	delay := p.minDelay + p.draw(p.maxDelay-p.minDelay)
	p.pause.Pause(ctx, delay)
	if err := ctx.Err(); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

// NoopPacer never waits. It is meant for tests and local fixtures.
type NoopPacer struct{}

// Wait returns immediately unless ctx is already done.
func (NoopPacer) Wait(ctx context.Context) (time.Duration, error) {
	return 0, ctx.Err()
}

// pauseController abstracts how the pacer sleeps.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// randomJitter returns a uniformly distributed duration in [0, limit].
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
