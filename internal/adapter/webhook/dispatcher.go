// Package webhook delivers signed event payloads to callback URLs with
// at-least-once semantics: canonical JSON body, HMAC-SHA256 signature,
// bounded exponential retry. Receivers deduplicate on (job_id, event).
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/pkg/jsonx"
)

const (
	userAgent      = "OCR-Service/1.0"
	attemptTimeout = 30 * time.Second
	maxRetries     = 3 // 4 attempts total
)

// Dispatcher posts payloads with retry. Safe for concurrent use.
type Dispatcher struct {
	client *http.Client
	secret string
	// newBackOff is swappable in tests to drop the real delays.
	newBackOff func() backoff.BackOff
}

var _ domain.WebhookSender = (*Dispatcher)(nil)

// New builds a Dispatcher signing with secret.
func New(secret string) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout:   attemptTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		secret:     secret,
		newBackOff: defaultBackOff,
	}
}

// defaultBackOff yields waits of 1s, 2s, 4s between the four attempts
// (the first attempt fires immediately).
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 4 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// permanentStatus reports a response code that retrying cannot fix.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500
}

// Deliver serializes payload canonically, signs it, and posts it up to
// four times. The same bytes and signature are re-transmitted on every
// attempt. 4xx responses abort immediately; transport errors and 5xx
// retry on the backoff schedule.
func (d *Dispatcher) Deliver(ctx domain.Context, url string, payload map[string]any) error {
	body, err := jsonx.Canonical(payload)
	if err != nil {
		return fmt.Errorf("webhook serialize: %w", err)
	}
	sig := Signature(d.secret, body)
	event, _ := payload["event"].(string)
	deliveryID := ulid.Make().String()
	log := observability.Logger(ctx).With(
		slog.String("delivery_id", deliveryID),
		slog.String("event", event),
		slog.String("url", url),
	)

	attempt := 0
	op := func() error {
		attempt++
		err := d.post(ctx, url, body, sig)
		if err == nil {
			log.Info("webhook delivered", slog.Int("attempt", attempt))
			observability.WebhookDeliveriesTotal.WithLabelValues(event, "success").Inc()
			return nil
		}
		log.Warn("webhook attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		observability.WebhookDeliveriesTotal.WithLabelValues(event, "failure").Inc()
		return fmt.Errorf("webhook deliver after %d attempts: %w", attempt, err)
	}
	return nil
}

func (d *Dispatcher) post(ctx domain.Context, url string, body []byte, sig string) error {
	reqCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Signature", sig)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case permanentStatus(resp.StatusCode):
		return backoff.Permanent(fmt.Errorf("webhook rejected: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook upstream error: status %d", resp.StatusCode)
	}
}
