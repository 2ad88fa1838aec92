// Package listener provides a Postgres LISTEN/NOTIFY consumer for real-time
// event processing. It holds a dedicated pgx connection (not from the pool)
// listening on the engagement_event channel.
//
// Every insert into engagement_events fires pg_notify from a trigger; the
// consumer runs the user's score/evaluate/dispatch pass. Events this process
// already ingested over HTTP have had their pass and are skipped.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/momentum/internal/cache"
	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/pipeline"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// EngagementNotice is the JSON payload from pg_notify('engagement_event', ...).
type EngagementNotice struct {
	EventID   string `json:"event_id"`
	UserID    string `json:"user_id"`
	EventType string `json:"event_type"`
	Timestamp int64  `json:"ts"` // unix ms
}

// Processor runs one user's pass.
type Processor interface {
	ProcessUser(ctx context.Context, userID string) (pipeline.Result, error)
	Ingested(eventID string) bool
}

// Evictor drops cached reads invalidated by a pass.
type Evictor interface {
	Delete(key string)
}

// ParseNotice decodes and validates a notification payload.
func ParseNotice(payload string) (EngagementNotice, error) {
	var n EngagementNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, fmt.Errorf("%w: notice: %v", model.ErrInvalidInput, err)
	}
	if n.UserID == "" {
		return n, fmt.Errorf("%w: notice without user_id", model.ErrInvalidInput)
	}
	return n, nil
}

// Start opens a dedicated connection and listens on the engagement_event
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, proc Processor, c Evictor, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, proc, c, logger)
		if ctx.Err() != nil {
			logger.Info("Event listener stopped (context cancelled)")
			return
		}

		logger.Error("Event listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, proc Processor, c Evictor, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+config.EventChannel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", config.EventChannel, err)
	}
	logger.Info("Event listener connected", "channel", config.EventChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		notice, err := ParseNotice(notification.Payload)
		if err != nil {
			logger.Warn("Failed to parse engagement notice",
				"payload", notification.Payload, "error", err)
			continue
		}

		logger.Debug("Engagement event received",
			"user_id", notice.UserID,
			"event_type", notice.EventType)

		// Process asynchronously to avoid blocking the listener
		go Handle(ctx, proc, c, notice, logger)
	}
}

// Handle runs the pass for the notice's user and logs the outcome.
func Handle(ctx context.Context, proc Processor, c Evictor, n EngagementNotice, logger *slog.Logger) {
	if proc.Ingested(n.EventID) {
		logger.Debug("Engagement event already processed", "user_id", n.UserID, "event_id", n.EventID)
		return
	}
	res, err := proc.ProcessUser(ctx, n.UserID)
	if res.Score != nil {
		c.Delete(cache.MomentumKey(n.UserID))
	}
	switch {
	case errors.Is(err, model.ErrTransportFailure):
		logger.Warn("Notification delivery failed", "user_id", n.UserID, "error", err)
	case err != nil:
		logger.Warn("User pass failed", "user_id", n.UserID, "error", err)
		return
	}
	for _, d := range res.Dispatched {
		logger.Info("Notification dispatched",
			"user_id", n.UserID,
			"notification_id", d.NotificationID,
			"outcome", d.Outcome,
			"variant", d.VariantID)
	}
}
