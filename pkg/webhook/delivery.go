// Package webhook delivers emitted events to per-task HTTP endpoints with
// filtering, retry/backoff, and optional HMAC signing.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/taskcast/taskcast/pkg/engine"
	"github.com/taskcast/taskcast/pkg/models"
)

// DeliveryError reports a webhook that exhausted its retry budget.
type DeliveryError struct {
	Attempts int
	Message  string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("Webhook delivery failed after %d attempts: %s", e.Attempts, e.Message)
}

// DefaultRetry applies when a webhook config carries no retry settings.
func DefaultRetry() models.RetryConfig {
	return models.RetryConfig{
		Retries:        3,
		Backoff:        models.BackoffExponential,
		InitialDelayMs: 1000,
		MaxDelayMs:     30000,
		TimeoutMs:      5000,
	}
}

// Delivery posts events to configured webhook endpoints. It satisfies the
// engine's WebhookSender contract.
type Delivery struct {
	client       *http.Client
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
	defaultRetry models.RetryConfig
}

// DeliveryOption customizes a Delivery.
type DeliveryOption func(*Delivery)

// WithDefaultRetry overrides the builtin retry defaults for webhooks that
// carry no retry config of their own.
func WithDefaultRetry(retry models.RetryConfig) DeliveryOption {
	return func(d *Delivery) { d.defaultRetry = retry }
}

// NewDelivery creates a sender with a default HTTP client. Per-attempt
// timeouts come from each webhook's retry config, not from the client.
func NewDelivery(opts ...DeliveryOption) *Delivery {
	d := &Delivery{
		client:       &http.Client{},
		now:          time.Now,
		sleep:        sleepCtx,
		defaultRetry: DefaultRetry(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends the event to the webhook endpoint, retrying on failure.
// Events rejected by the webhook's filter are skipped without error. Success
// is any 2xx response.
func (d *Delivery) Deliver(ctx context.Context, config models.WebhookConfig, event models.TaskEvent) error {
	if config.Filter != nil && !engine.MatchesFilter(event, config.Filter) {
		return nil
	}

	retry := d.defaultRetry
	if config.Retry != nil {
		retry = *config.Retry
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	signature := ""
	if config.Secret != "" {
		signature = sign(body, config.Secret)
	}

	lastError := "Unknown error"
	for attempt := 0; attempt <= retry.Retries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, time.Duration(backoffMs(retry, attempt))*time.Millisecond); err != nil {
				return err
			}
		}

		if err := d.attempt(ctx, config.URL, event.Type, timestamp, signature, body, retry.TimeoutMs); err != nil {
			lastError = err.Error()
			continue
		}
		return nil
	}

	return &DeliveryError{Attempts: retry.Retries + 1, Message: lastError}
}

func (d *Delivery) attempt(ctx context.Context, url, eventType, timestamp, signature string, body []byte, timeoutMs int64) error {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskcast-Event", eventType)
	req.Header.Set("X-Taskcast-Timestamp", timestamp)
	if signature != "" {
		req.Header.Set("X-Taskcast-Signature", signature)
	}

	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return nil
}

// sign computes the signature header value: sha256=<hex HMAC-SHA256(body)>.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// backoffMs computes the delay before the given attempt (attempt ≥ 1).
func backoffMs(retry models.RetryConfig, attempt int) int64 {
	switch retry.Backoff {
	case models.BackoffFixed:
		return retry.InitialDelayMs
	case models.BackoffLinear:
		return retry.InitialDelayMs * int64(attempt)
	default: // exponential
		delay := retry.InitialDelayMs << (attempt - 1)
		if delay > retry.MaxDelayMs {
			return retry.MaxDelayMs
		}
		return delay
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
