package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Transport is the push collaborator. Send returns once the provider has
// acknowledged or rejected the message. Device tokens are the transport's
// concern.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportConfig selects the push transport.
type TransportConfig struct {
	CredentialsFile string // FCM service account
	GatewayURL      string
	GatewayToken    string
	GatewayRPM      int
}

// NewTransport returns the HTTP gateway when a URL is set, an FCM sender
// when only credentials are configured, and a logging transport otherwise.
func NewTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if g := NewGatewayTransport(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayRPM, logger); g != nil {
		return g
	}
	if s := NewFCMSender(cfg.CredentialsFile, logger); s != nil {
		logger.Warn("FCM transport is not integrated; every send will fail",
			"credentials_file", cfg.CredentialsFile)
		return s
	}
	return &LogTransport{logger: logger}
}

// ErrFCMNotIntegrated is returned by FCMSender.Send until the Firebase
// messaging client is wired in.
var ErrFCMNotIntegrated = errors.New("fcm: messaging client not integrated")

// FCMSender sends push notifications via Firebase Cloud Messaging.
type FCMSender struct {
	credentialsFile string
	logger          *slog.Logger
	// TODO: hold a firebase.google.com/go/v4/messaging.Client once the FCM
	// module is added; until then Send rejects every message.
}

// NewFCMSender creates an FCM sender from a service account credentials file.
// Returns nil if credentialsFile is empty (push disabled).
func NewFCMSender(credentialsFile string, logger *slog.Logger) *FCMSender {
	if credentialsFile == "" {
		return nil
	}
	return &FCMSender{
		credentialsFile: credentialsFile,
		logger:          logger,
	}
}

func (s *FCMSender) Send(ctx context.Context, msg Message) error {
	if msg.UserID == "" {
		return fmt.Errorf("fcm: message has no user")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Debug("FCM send rejected",
		"user_id", msg.UserID, "notification_id", msg.Data[DataNotificationID])
	return ErrFCMNotIntegrated
}

// LogTransport logs messages instead of sending them. Used for local runs.
type LogTransport struct {
	logger *slog.Logger
}

func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.logger.Info("Push (log transport)",
		"user_id", msg.UserID, "title", msg.Title, "body", msg.Body,
		"action_type", msg.Data[DataActionType])
	return nil
}

// RecordingTransport keeps every delivered message and can be told to
// fail. Useful for tests and dry runs.
type RecordingTransport struct {
	mu       sync.Mutex
	Messages []Message
	// FailFirst makes the first n calls fail.
	FailFirst int
	calls     int
}

func (t *RecordingTransport) Send(_ context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls <= t.FailFirst {
		return fmt.Errorf("push rejected (attempt %d)", t.calls)
	}
	t.Messages = append(t.Messages, msg)
	return nil
}

// Calls returns the number of Send calls so far.
func (t *RecordingTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
