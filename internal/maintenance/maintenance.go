// Package maintenance runs periodic background tasks as Go tickers.
// All scheduled work is driven from the API process: the nightly score
// batch, the evaluation sweep, the frequency optimizer and retention cleanup.
package maintenance

import (
	"context"
	"time"

	"github.com/albapepper/momentum/internal/app"
	"github.com/albapepper/momentum/internal/config"
)

// Retention windows for cleanup.
const (
	ActionRetention     = 90 * 24 * time.Hour
	SuppressedRetention = 30 * 24 * time.Hour
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	BatchInterval     time.Duration // Score the previous day, then sweep
	SweepInterval     time.Duration // Evaluate active users on stored scores
	OptimizerInterval time.Duration // Frequency optimizer + variant rebalance
	CleanupInterval   time.Duration // Retention purge
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		BatchInterval:     24 * time.Hour,
		SweepInterval:     1 * time.Hour,
		OptimizerInterval: 24 * time.Hour,
		CleanupInterval:   6 * time.Hour,
	}
}

// FromConfig reads the intervals from the service configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		BatchInterval:     cfg.ScoreBatchInterval,
		SweepInterval:     cfg.EvaluationSweepInterval,
		OptimizerInterval: cfg.OptimizerInterval,
		CleanupInterval:   cfg.CleanupInterval,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, a *app.App, cfg Config) {
	logger := a.Logger
	logger.Info("Maintenance tickers started",
		"batch", cfg.BatchInterval,
		"sweep", cfg.SweepInterval,
		"optimizer", cfg.OptimizerInterval,
		"cleanup", cfg.CleanupInterval)

	tickers := make([]*time.Ticker, 0, 4)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Nightly: close out yesterday's scores, then evaluate everyone
	if cfg.BatchInterval > 0 {
		t := time.NewTicker(cfg.BatchInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "batch", func() {
			RunNightly(ctx, a, time.Now().UTC().AddDate(0, 0, -1))
		})
	}

	// Sweep: catch rule firings that no event triggered
	if cfg.SweepInterval > 0 {
		t := time.NewTicker(cfg.SweepInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "sweep", func() { RunSweep(ctx, a) })
	}

	if cfg.OptimizerInterval > 0 {
		t := time.NewTicker(cfg.OptimizerInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "optimizer", func() { RunOptimizer(ctx, a) })
	}

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "cleanup", func() { Cleanup(ctx, a, time.Now().UTC()) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, name string, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// RunNightly scores date for every active user and then sweeps. A failed
// run is logged and picked up again at the next tick.
func RunNightly(ctx context.Context, a *app.App, date time.Time) {
	batch, sweep, err := a.Pipeline.Nightly(ctx, date)
	AfterBatch(a, batch.Scored)
	if err != nil {
		a.Logger.Warn("Nightly run incomplete", "batch", batch.Summary(), "sweep", sweep.Summary(), "error", err)
		return
	}
	a.Logger.Info("Nightly run complete", "batch", batch.Summary(), "sweep", sweep.Summary())
}

// RunSweep evaluates every active user without recomputing scores.
func RunSweep(ctx context.Context, a *app.App) {
	res, err := a.Pipeline.Sweep(ctx)
	if err != nil {
		a.Logger.Warn("Evaluation sweep failed", "summary", res.Summary(), "error", err)
		return
	}
	if res.Sent+res.Failed+res.Suppressed > 0 {
		a.Logger.Info("Evaluation sweep complete", "summary", res.Summary())
	}
}

// RunOptimizer adjusts auto-optimized preferences, then shifts variant
// weights toward the better performers.
func RunOptimizer(ctx context.Context, a *app.App) {
	opt, err := a.Optimizer.Run(ctx)
	if err != nil {
		a.Logger.Warn("Optimizer: failed", "error", err)
	} else {
		a.Logger.Info("Optimizer: done", "summary", opt.Summary())
	}

	rb, err := a.Tracker.RebalanceWeights(ctx, a.Variants)
	if err != nil {
		a.Logger.Warn("Rebalance: failed", "error", err)
		return
	}
	AfterRebalance(a, rb.Updated)
	a.Logger.Info("Rebalance: done", "summary", rb.Summary())
}

// Cleanup purges terminal deep-link actions and suppressed intervention
// records past their retention.
func Cleanup(ctx context.Context, a *app.App, now time.Time) {
	n, err := a.Store.PurgeActions(ctx, now.Add(-ActionRetention))
	if err != nil {
		a.Logger.Warn("Cleanup: failed to purge old actions", "error", err)
	} else if n > 0 {
		a.Logger.Info("Cleanup: purged old actions", "count", n)
	}

	n, err = a.Store.PurgeSuppressed(ctx, now.Add(-SuppressedRetention))
	if err != nil {
		a.Logger.Warn("Cleanup: failed to purge suppressed records", "error", err)
	} else if n > 0 {
		a.Logger.Info("Cleanup: purged suppressed records", "count", n)
	}
}
