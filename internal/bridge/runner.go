package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig configures the reconciliation loop.
type RunnerConfig struct {
	// Engine performs the passes.
	Engine *Engine

	// Interval between passes. The fixed cadence is also the implicit
	// retry backoff for failed writes; no exponential backoff exists on
	// purpose.
	Interval time.Duration

	// StartupDelay is the grace period before the first pass.
	StartupDelay time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// Runner drives the engine on a fixed interval, independently of the
// control API. It never stops on its own; only context cancellation
// ends the loop.
type Runner struct {
	cfg RunnerConfig

	mu   sync.RWMutex
	last *PassSummary
}

// NewRunner creates a reconciliation loop runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg}
}

// LastPass returns the most recent pass summary, or false before the
// first pass completes.
func (r *Runner) LastPass() (PassSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return PassSummary{}, false
	}
	return *r.last, true
}

// Start runs the loop until ctx is cancelled. It blocks. A failure
// inside one pass, even a panic, is logged and the loop continues on
// the next tick; a bad cycle never stops future cycles.
func (r *Runner) Start(ctx context.Context) {
	r.cfg.Logger.Info("sync loop starting",
		"startup_delay", r.cfg.StartupDelay,
		"interval", r.cfg.Interval,
	)

	select {
	case <-ctx.Done():
		return
	case <-time.After(r.cfg.StartupDelay):
	}

	r.runPass(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.cfg.Logger.Info("sync loop stopped")
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

// runPass executes one pass behind a recover barrier. The engine
// already isolates per-room failures; this is the outer guard the
// error taxonomy calls a pass failure.
func (r *Runner) runPass(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.cfg.Engine.cfg.Metrics.PassFailures.Inc()
			r.cfg.Logger.Error("reconciliation pass panicked", "panic", p)
		}
	}()

	summary := r.cfg.Engine.Reconcile(ctx)

	r.mu.Lock()
	r.last = &summary
	r.mu.Unlock()
}
