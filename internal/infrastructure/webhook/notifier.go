// Package webhook forwards sync events to outgoing HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/offsync/pkg/domain/events"
)

const (
	signatureHeader = "X-Offsync-Signature"
	userAgent       = "offsync-webhook/1.0"
)

// Notifier posts events to every matching endpoint in the background.
type Notifier struct {
	endpoints  []events.WebhookEndpoint
	client     *http.Client
	deadLetter *DeadLetterStore
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier. deadLetter may be nil.
func NewNotifier(endpoints []events.WebhookEndpoint, deadLetter *DeadLetterStore, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Payload is the JSON body sent to webhook endpoints.
type Payload struct {
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      *events.BaseEvent `json:"data"`
}

// Notify implements events.Notifier. Delivery outlives the caller's context.
func (n *Notifier) Notify(ctx context.Context, event *events.BaseEvent) {
	body, err := json.Marshal(Payload{
		EventType: event.Type,
		Timestamp: event.Timestamp,
		Data:      event,
	})
	if err != nil {
		n.logger.Warn("failed to encode webhook payload", "type", event.Type, "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, ep := range n.endpoints {
		if !ep.Matches(event.Type) {
			continue
		}
		n.wg.Add(1)
		go func(ep events.WebhookEndpoint) {
			defer n.wg.Done()
			n.deliver(ctx, ep, event.Type, body)
		}(ep)
	}
}

// Wait blocks until all in-flight deliveries finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, ep events.WebhookEndpoint, eventType string, body []byte) {
	attempts := ep.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	delay := ep.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	r := retry.New[struct{}](retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  delay,
		BackoffPolicy: retry.BackoffExponential,
	})
	_, err := r.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, n.send(ctx, ep, body)
	})
	if err == nil {
		return
	}

	n.logger.Warn("webhook delivery failed", "webhook", ep.Name, "type", eventType, "error", err)
	if n.deadLetter == nil {
		return
	}
	dl := events.DeadLetter{
		Timestamp:   time.Now(),
		WebhookName: ep.Name,
		URL:         ep.URL,
		EventType:   eventType,
		Payload:     string(body),
		Error:       err.Error(),
		Attempts:    attempts,
	}
	if err := n.deadLetter.Append(dl); err != nil {
		n.logger.Error("failed to record dead letter", "webhook", ep.Name, "error", err)
	}
}

func (n *Notifier) send(ctx context.Context, ep events.WebhookEndpoint, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if ep.Secret != "" {
		req.Header.Set(signatureHeader, sign(body, ep.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// sign computes HMAC-SHA256 of the payload using the secret.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
