package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"revledger/core/events"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Notification is the webhook body describing one ledger event.
type Notification struct {
	Type       string            `json:"type"`
	DeliveryID string            `json:"deliveryId"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes"`
}

// Dispatcher posts signed notifications for selected ledger events. It is an
// events.Emitter; Emit never blocks and drops notifications when the queue is
// full.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	types       map[string]struct{}
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan Notification
	wg     sync.WaitGroup
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithEventTypes replaces the set of forwarded event types.
func WithEventTypes(eventTypes ...string) Option {
	return func(d *Dispatcher) {
		d.types = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			d.types[t] = struct{}{}
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine. By
// default only claim outcomes are forwarded.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan Notification, 64),
	}
	WithEventTypes(events.TypeClaimExecuted, events.TypeClaimFailed)(d)
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Close stops the dispatcher and waits for the in-flight delivery to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Emit implements events.Emitter.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil {
		return
	}
	if _, ok := d.types[evt.EventType()]; !ok {
		return
	}
	flat, ok := events.Flatten(evt)
	if !ok {
		return
	}
	note := Notification{
		Type:       flat.Type,
		DeliveryID: uuid.NewString(),
		OccurredAt: d.now().UTC(),
		Attributes: flat.Attributes,
	}
	select {
	case d.queue <- note:
	case <-d.ctx.Done():
	default:
		d.logger.Warn("webhook: queue full, notification dropped", "type", note.Type, "delivery", note.DeliveryID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case note := <-d.queue:
			if err := d.deliver(note); err != nil {
				d.logger.Error("webhook: delivery abandoned", "type", note.Type, "delivery", note.DeliveryID, "error", err)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return err
	}
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = d.minBackoff
	schedule.MaxInterval = d.maxBackoff
	schedule.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(d.maxAttempts-1)), d.ctx)
	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		defer cancel()
		return d.send(ctx, note.Type, body)
	}, policy)
}

func (d *Dispatcher) send(ctx context.Context, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Treasury-Event", eventType)
	req.Header.Set("X-Treasury-Signature", Sign(d.secret, body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook: delivery rejected with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
	}
}

// Sign computes the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
