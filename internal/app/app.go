// Package app wires the momentum components from configuration. Both
// commands build their dependencies here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/momentum/internal/abtest"
	"github.com/albapepper/momentum/internal/cache"
	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/db"
	"github.com/albapepper/momentum/internal/deeplink"
	"github.com/albapepper/momentum/internal/effectiveness"
	"github.com/albapepper/momentum/internal/intervention"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/momentum"
	"github.com/albapepper/momentum/internal/notifications"
	"github.com/albapepper/momentum/internal/pipeline"
	"github.com/albapepper/momentum/internal/store"
)

// App holds every constructed component.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  store.Store
	Pool   *db.Pool // nil on SQLite
	Cache  *cache.Cache

	Scores        *momentum.Engine
	Interventions *intervention.Engine
	Optimizer     *intervention.Optimizer
	Variants      *abtest.Registry
	Tracker       *effectiveness.Tracker
	Dispatcher    *notifications.Dispatcher
	Router        *deeplink.Router
	Pipeline      *pipeline.Pipeline
}

// New opens the configured store and wires the components around it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, pool, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	transport := notifications.NewTransport(notifications.TransportConfig{
		CredentialsFile: cfg.FirebaseCredentialsFile,
		GatewayURL:      cfg.PushGatewayURL,
		GatewayToken:    cfg.PushGatewayToken,
		GatewayRPM:      cfg.PushGatewayRPM,
	}, logger)
	a, err := Wire(ctx, cfg, st, transport, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.Pool = pool
	return a, nil
}

// Wire builds the components on an open store.
func Wire(ctx context.Context, cfg *config.Config, st store.Store, transport notifications.Transport, logger *slog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Store:  st,
		Cache:  cache.New(cfg.CacheEnabled),
	}

	rules := intervention.DefaultRules()
	testNames := make([]string, 0, len(rules))
	for _, r := range rules {
		testNames = append(testNames, r.TestName)
	}

	a.Variants = abtest.NewRegistry(notifications.DefaultTests(testNames...))
	if err := a.Variants.Load(ctx, st); err != nil {
		return nil, fmt.Errorf("load variant weights: %w", err)
	}

	templates, err := notifications.NewTemplates(notifications.DefaultTemplates())
	if err != nil {
		return nil, err
	}

	a.Scores = momentum.NewEngine(st, cfg.Scoring, logger)
	a.Interventions = intervention.NewEngine(st, rules, cfg.Interventions, logger)
	a.Tracker = effectiveness.NewTracker(st, cfg.EffectivenessWindowDays, cfg.Interventions.DefaultMaxPerDay, logger)
	a.Optimizer = intervention.NewOptimizer(st, a.Tracker, logger)
	a.Dispatcher = notifications.NewDispatcher(st, a.Variants, templates, transport, a.Tracker, cfg.DispatchRetryDelays, logger)
	a.Router = deeplink.NewRouter(st, a.executors(), a.Tracker, logger)
	a.Pipeline = pipeline.New(st, a.Scores, a.Interventions, a.Dispatcher, cfg.BatchWorkers, logger)
	return a, nil
}

// executors are the deep-link side effects. UI actions are rendered by the
// client from the route result, so executing them here only logs.
func (a *App) executors() deeplink.Handlers {
	ui := func(ctx context.Context, act model.DeepLinkAction) error {
		a.Logger.Info("Deep link handed to UI", "user_id", act.UserID, "action_type", act.Type())
		return nil
	}
	return deeplink.Handlers{
		model.ActionRefreshMomentum: func(ctx context.Context, act model.DeepLinkAction) error {
			if _, err := a.Scores.ComputeDailyScore(ctx, act.UserID, time.Now()); err != nil {
				return err
			}
			a.Cache.Delete(cache.MomentumKey(act.UserID))
			return nil
		},
		model.ActionViewMomentum:   ui,
		model.ActionCompleteLesson: ui,
		model.ActionJournalEntry:   ui,
		model.ActionScheduleCall:   ui,
		model.ActionShowCompletion: ui,
	}
}

// Close releases the cache loop and the store.
func (a *App) Close() error {
	a.Cache.Close()
	return a.Store.Close()
}
