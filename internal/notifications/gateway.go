package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// GatewayTransport posts messages to an HTTP push gateway that owns device
// tokens and platform delivery. Requests are rate limited with a token
// bucket; any non-2xx response is a rejection.
type GatewayTransport struct {
	httpClient *http.Client
	url        string
	token      string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewGatewayTransport creates a gateway client allowing requestsPerMinute
// sends. Returns nil if url is empty.
func NewGatewayTransport(url, token string, requestsPerMinute int, logger *slog.Logger) *GatewayTransport {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &GatewayTransport{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		token:      token,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

type gatewayRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data"`
}

func (g *GatewayTransport) Send(ctx context.Context, msg Message) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	raw, err := json.Marshal(gatewayRequest{UserID: msg.UserID, Title: msg.Title, Body: msg.Body, Data: msg.Data})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	g.logger.Debug("Push accepted by gateway",
		"user_id", msg.UserID, "notification_id", msg.Data[DataNotificationID])
	return nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
