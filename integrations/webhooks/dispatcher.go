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

	"github.com/google/uuid"

	"flashvault/pkg/retrier"
	"flashvault/storage/journal"
)

const (
	HeaderEvent     = "X-Vault-Event"
	HeaderSignature = "X-Vault-Signature"
	HeaderDelivery  = "X-Vault-Delivery"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
)

// ErrQueueFull is returned when a notification cannot be queued without
// blocking the caller.
var ErrQueueFull = errors.New("webhook: queue full")

// Notification is the body POSTed for every forwarded journal record.
type Notification struct {
	DeliveryID string            `json:"deliveryId"`
	Index      uint64            `json:"index"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	SentAt     time.Time         `json:"sentAt"`
}

// Dispatcher forwards committed vault events to an HTTP endpoint with
// retry and exponential backoff. Bodies are signed with HMAC-SHA256.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	types       map[string]bool
	logger      *slog.Logger
	retry       *retrier.Retrier

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	id        string
	eventType string
	body      []byte
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

// WithEventTypes restricts forwarding to the listed event types. Without it
// every record is forwarded.
func WithEventTypes(types ...string) Option {
	return func(d *Dispatcher) {
		for _, t := range types {
			if t = strings.TrimSpace(t); t != "" {
				if d.types == nil {
					d.types = make(map[string]bool)
				}
				d.types[t] = true
			}
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.logger = dispatcher.logger.With("component", "webhooks")
	dispatcher.retry = retrier.New(
		retrier.WithInitialInterval(dispatcher.minBackoff),
		retrier.WithMaxInterval(dispatcher.maxBackoff),
		retrier.WithMaxRetries(dispatcher.maxAttempts-1),
		retrier.WithOnRetry(func(attempt int, err error) {
			dispatcher.logger.Debug("retrying webhook delivery", "attempt", attempt, "error", err)
		}),
	)
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Notify queues rec for delivery. It never blocks: the journal calls it on
// the vault's commit path.
func (d *Dispatcher) Notify(rec journal.Record) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if d.types != nil && !d.types[rec.Type] {
		return nil
	}
	n := Notification{
		DeliveryID: uuid.NewString(),
		Index:      rec.Index,
		Type:       rec.Type,
		Attributes: rec.Attributes,
		Digest:     rec.Digest,
		SentAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	select {
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	default:
	}
	select {
	case d.queue <- delivery{id: n.DeliveryID, eventType: n.Type, body: data}:
		return nil
	default:
		d.logger.Warn("dropping notification", "index", rec.Index, "type", rec.Type, "error", ErrQueueFull)
		return ErrQueueFull
	}
}

// Listener adapts Notify to journal.OnAppend.
func (d *Dispatcher) Listener() func(journal.Record) {
	return func(rec journal.Record) { _ = d.Notify(rec) }
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempts := 0
	err := d.retry.Do(d.ctx, func(ctx context.Context) error {
		attempts++
		if d.client.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.client.Timeout)
			defer cancel()
		}
		return d.send(ctx, job)
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	d.logger.Error("webhook delivery abandoned", "delivery", job.id, "type", job.eventType, "attempts", attempts, "error", err)
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, job.eventType)
	req.Header.Set(HeaderDelivery, job.id)
	req.Header.Set(HeaderSignature, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
	if permanentStatus(resp.StatusCode) {
		return retrier.Permanent(err)
	}
	return err
}

// permanentStatus reports whether the receiver rejected the payload itself.
// Timeouts and throttling are retried like server errors.
func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}
