// Command momentum is the Momentum operations CLI.
//
// Usage:
//
//	momentum scores run --date 2026-03-01
//	momentum scores user --id u1
//	momentum interventions sweep
//	momentum interventions evaluate --user u1
//	momentum optimize
//	momentum backfill --days 30 --dry-run
//	momentum variants assign --test drop_alert_copy --user u1
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/momentum/internal/app"
	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/model"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "momentum",
		Short: "Momentum scoring and intervention CLI",
	}

	root.AddCommand(scoresCmd())
	root.AddCommand(interventionsCmd())
	root.AddCommand(optimizeCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(variantsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// scores command
// --------------------------------------------------------------------------

func scoresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Compute daily momentum scores",
	}
	cmd.AddCommand(scoresRunCmd())
	cmd.AddCommand(scoresUserCmd())
	return cmd
}

func scoresRunCmd() *cobra.Command {
	var (
		date     string
		evaluate bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score every active user for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(date)
			if err != nil {
				return err
			}
			return run(func(ctx context.Context, a *app.App) error {
				if evaluate {
					batch, sweep, err := a.Pipeline.Nightly(ctx, day)
					logger.Info("Nightly run finished", "batch", batch.Summary(), "sweep", sweep.Summary())
					logErrors("batch error", batch.Errors)
					logErrors("sweep error", sweep.Errors)
					return err
				}
				result, err := a.Scores.RunBatch(ctx, day, a.Config.BatchWorkers)
				logger.Info("Score batch finished", "summary", result.Summary())
				logErrors("batch error", result.Errors)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to score (YYYY-MM-DD); empty = today")
	cmd.Flags().BoolVar(&evaluate, "evaluate", false, "Run the evaluation sweep after scoring")
	return cmd
}

func scoresUserCmd() *cobra.Command {
	var userID, date string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Recompute one user's score",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--id is required")
			}
			day, err := parseDay(date)
			if err != nil {
				return err
			}
			return run(func(ctx context.Context, a *app.App) error {
				asOf := time.Now().UTC()
				if end := model.EndOfDay(day); end.Before(asOf) {
					asOf = end
				}
				sc, err := a.Scores.ComputeDailyScore(ctx, userID, asOf)
				if err != nil {
					return err
				}
				logger.Info("Score computed",
					"user_id", sc.UserID,
					"date", model.DateString(sc.Date),
					"score", sc.RawScore,
					"zone", sc.Zone,
					"events", sc.EventsCount,
					"insufficient_history", sc.InsufficientHistory)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "id", "", "User ID")
	cmd.Flags().StringVar(&date, "date", "", "Day to score (YYYY-MM-DD); empty = today")
	return cmd
}

// --------------------------------------------------------------------------
// interventions command
// --------------------------------------------------------------------------

func interventionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interventions",
		Short: "Evaluate intervention rules",
	}
	cmd.AddCommand(interventionsSweepCmd())
	cmd.AddCommand(interventionsEvaluateCmd())
	return cmd
}

func interventionsSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every active user on stored scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				result, err := a.Pipeline.Sweep(ctx)
				logger.Info("Sweep finished", "summary", result.Summary())
				logErrors("sweep error", result.Errors)
				return err
			})
		},
	}
}

func interventionsEvaluateCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one user's rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return run(func(ctx context.Context, a *app.App) error {
				res, err := a.Pipeline.EvaluateUser(ctx, userID)
				for rule, state := range res.Evaluation.States {
					logger.Info("Rule state", "rule", rule, "state", state)
				}
				for _, d := range res.Dispatched {
					logger.Info("Dispatched",
						"notification_id", d.NotificationID,
						"outcome", d.Outcome,
						"variant", d.VariantID,
						"title", d.Content.Title)
				}
				if n := len(res.Evaluation.Suppressed); n > 0 {
					logger.Info("Suppressed", "count", n)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	return cmd
}

// --------------------------------------------------------------------------
// optimize command
// --------------------------------------------------------------------------

func optimizeCmd() *cobra.Command {
	var rebalance bool
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Adjust auto-optimized frequencies and rebalance variant weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				opt, err := a.Optimizer.Run(ctx)
				if err != nil {
					return err
				}
				logger.Info("Optimizer finished", "summary", opt.Summary())
				if !rebalance {
					return nil
				}
				rb, err := a.Tracker.RebalanceWeights(ctx, a.Variants)
				if err != nil {
					return err
				}
				logger.Info("Rebalance finished", "summary", rb.Summary())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&rebalance, "rebalance", true, "Also rebalance A/B variant weights")
	return cmd
}

// --------------------------------------------------------------------------
// backfill command
// --------------------------------------------------------------------------

func backfillCmd() *cobra.Command {
	var (
		days   int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Insert placeholder scores for days with no row",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return run(func(ctx context.Context, a *app.App) error {
				yesterday := model.Day(time.Now().UTC()).AddDate(0, 0, -1)
				result, err := a.Scores.Backfill(ctx, yesterday.AddDate(0, 0, -(days-1)), yesterday, dryRun)
				logErrors("backfill error", result.Errors)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Number of closed days to check")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only count missing rows")
	return cmd
}

// --------------------------------------------------------------------------
// variants command
// --------------------------------------------------------------------------

func variantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variants",
		Short: "Inspect A/B content variants",
	}
	cmd.AddCommand(variantsAssignCmd())
	cmd.AddCommand(variantsListCmd())
	return cmd
}

func variantsAssignCmd() *cobra.Command {
	var testName, userID string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Show the variant a user is assigned",
		RunE: func(cmd *cobra.Command, args []string) error {
			if testName == "" || userID == "" {
				return fmt.Errorf("--test and --user are required")
			}
			return run(func(ctx context.Context, a *app.App) error {
				variant, ok := a.Variants.Assign(userID, testName)
				if !ok {
					return fmt.Errorf("unknown test %q", testName)
				}
				fmt.Fprintln(cmd.OutOrStdout(), variant)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&testName, "test", "", "Test name")
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	return cmd
}

func variantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tests with their current weights and effectiveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				for _, test := range a.Variants.Tests() {
					for _, v := range a.Variants.Variants(test) {
						score, c, err := a.Tracker.GetEffectivenessScore(ctx, test, v.VariantID)
						if err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tweight=%.3f\tscore=%.3f\tsent=%d\n",
							test, v.VariantID, v.Weight, score, c.Sent)
					}
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// run handles config loading, store setup, and context cancellation.
func run(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return model.Day(time.Now().UTC()), nil
	}
	return model.ParseDate(s)
}

func logErrors(msg string, errs []string) {
	for _, e := range errs {
		logger.Error(msg, "error", e)
	}
}
