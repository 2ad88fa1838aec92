package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGatewayTransportPosts(t *testing.T) {
	var got gatewayRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewGatewayTransport(srv.URL, "secret", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	msg := Message{UserID: "u1", Title: "You've got this!", Body: "b", Data: map[string]string{DataRuleID: "drop_alert"}}
	if err := g.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.UserID != "u1" || got.Title != msg.Title || got.Data[DataRuleID] != "drop_alert" {
		t.Errorf("posted = %+v", got)
	}
}

func TestGatewayTransportRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unregistered device", http.StatusGone)
	}))
	defer srv.Close()

	g := NewGatewayTransport(srv.URL, "", 0, nil)
	err := g.Send(context.Background(), Message{UserID: "u1"})
	if err == nil || !strings.Contains(err.Error(), "410") {
		t.Errorf("err = %v, want 410 rejection", err)
	}
}

func TestNewTransportSelection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, ok := NewTransport(TransportConfig{}, logger).(*LogTransport); !ok {
		t.Error("empty config should log")
	}
	if _, ok := NewTransport(TransportConfig{GatewayURL: "http://push.local"}, logger).(*GatewayTransport); !ok {
		t.Error("gateway url should select the gateway")
	}
	if _, ok := NewTransport(TransportConfig{CredentialsFile: "sa.json", GatewayURL: "http://push.local"}, logger).(*GatewayTransport); !ok {
		t.Error("gateway should win over FCM credentials")
	}
	fcm, ok := NewTransport(TransportConfig{CredentialsFile: "sa.json"}, logger).(*FCMSender)
	if !ok {
		t.Fatal("credentials alone should select FCM")
	}
	if err := fcm.Send(context.Background(), Message{UserID: "u1"}); !errors.Is(err, ErrFCMNotIntegrated) {
		t.Errorf("FCM Send err = %v, want ErrFCMNotIntegrated", err)
	}
}
