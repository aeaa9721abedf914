package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Header names set on webhook deliveries.
const (
	HeaderEventID   = "X-Wardgate-Event-ID"
	HeaderSignature = "X-Wardgate-Signature"
)

// WebhookSink posts events as JSON, signed with HMAC-SHA256 over the body.
type WebhookSink struct {
	URL        string
	Secret     string
	HTTPClient *http.Client
}

// NewWebhookSink creates a webhook sink with a bounded client timeout.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{URL: url, Secret: secret, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderSignature, "sha256="+Sign(w.Secret, payload))

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// LogSink writes events to a zap logger, for cross-system timelines shipped from logs.
type LogSink struct {
	Logger *zap.Logger
}

func (l LogSink) Name() string { return "log" }

func (l LogSink) Deliver(_ context.Context, event Event) error {
	l.Logger.Info("Activity event",
		zap.String("id", event.ID),
		zap.String("type", event.Type),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload))
	return nil
}
