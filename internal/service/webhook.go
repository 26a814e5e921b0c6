package service

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

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"gowa-gateway/internal/ws"
)

const SignatureHeader = "X-Gowa-Signature"

const webhookQueueSize = 256

// WebhookPublisher POSTs every realtime event to a fixed URL, one at a time
// and in publish order.
type WebhookPublisher struct {
	url     string
	secret  string
	events  map[string]bool
	client  *http.Client
	retries uint64
	queue   chan ws.WsEvent
	done    chan struct{}
	log     zerolog.Logger
}

// NewWebhookPublisher delivers only the named events, or all of them when
// events is empty.
func NewWebhookPublisher(url, secret string, events []string, log zerolog.Logger) *WebhookPublisher {
	filter := make(map[string]bool, len(events))
	for _, e := range events {
		filter[e] = true
	}
	return &WebhookPublisher{
		url:     url,
		secret:  secret,
		events:  filter,
		client:  &http.Client{Timeout: 5 * time.Second},
		retries: 3,
		queue:   make(chan ws.WsEvent, webhookQueueSize),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "webhook").Logger(),
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookPublisher) wants(event string) bool {
	return len(w.events) == 0 || w.events[event]
}

// Publish queues evt for Run. Events are dropped while the queue is full.
func (w *WebhookPublisher) Publish(evt ws.WsEvent) {
	if !w.wants(evt.Event) {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	select {
	case w.queue <- evt:
	default:
		w.log.Warn().Str("event", evt.Event).Str("instance", evt.Instance).Msg("webhook queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled.
func (w *WebhookPublisher) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-w.queue:
			if err := w.Deliver(ctx, evt); err != nil {
				w.log.Warn().Err(err).Str("event", evt.Event).Str("instance", evt.Instance).Msg("webhook delivery failed")
			}
		}
	}
}

// Done is closed once Run returns.
func (w *WebhookPublisher) Done() <-chan struct{} {
	return w.done
}

// Deliver POSTs one event, retrying 5xx and transport errors.
func (w *WebhookPublisher) Deliver(ctx context.Context, evt ws.WsEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.retries), ctx)
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if w.secret != "" {
			req.Header.Set(SignatureHeader, Sign(w.secret, body))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		return nil
	}, policy)
}
