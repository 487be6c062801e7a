// Package emission couples receipt producers to the ledger. Foreground
// emission retries a few times with backoff; receipts that still cannot be
// delivered land in a bounded overflow queue owned by a background drain
// worker, and the caller is told so it can surface the audit gap upward.
package emission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/fabric/pkg/ids"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/retry"
)

var (
	// ErrEmissionFailed means foreground retries are exhausted and the
	// receipt now sits in the overflow queue. Callers typically answer 503.
	ErrEmissionFailed = errors.New("receipt emission failed, queued for retry")
	// ErrValidationRejected means the ledger rejected the receipt as
	// invalid. Final; the receipt is not enqueued.
	ErrValidationRejected = errors.New("receipt rejected by ledger validation")
)

// Emitter is what receipt producers depend on.
type Emitter interface {
	Emit(ctx context.Context, r *receipts.Receipt) (string, error)
}

// Config tunes the client. Zero values fall back to the defaults noted.
type Config struct {
	LedgerURL       string        // base URL of the ledger service
	APIKey          string        // credential forwarded on every call
	Timeout         time.Duration // per-request timeout, default 10s
	QueueCapacity   int           // overflow capacity, default 1000
	DrainInterval   time.Duration // drain cadence, default 60s
	DrainBatch      int           // items per drain pass, default 10
	MaxDrainRetries int           // background attempts before discard, default 10
	Backoff         retry.Policy  // foreground schedule, default retry.EmissionPolicy
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 1000
	}
	if c.DrainInterval == 0 {
		c.DrainInterval = 60 * time.Second
	}
	if c.DrainBatch == 0 {
		c.DrainBatch = 10
	}
	if c.MaxDrainRetries == 0 {
		c.MaxDrainRetries = 10
	}
	if c.Backoff == (retry.Policy{}) {
		c.Backoff = retry.EmissionPolicy
	}
}

// QueueStatus is the admin view of the overflow queue.
type QueueStatus struct {
	Depth        int   `json:"depth"`
	Capacity     int   `json:"capacity"`
	DroppedTotal int64 `json:"dropped_total"`
}

// Client emits receipts to the ledger over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	queue  *overflowQueue
	logger *slog.Logger
}

func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		queue:  newOverflowQueue(cfg.QueueCapacity),
		logger: slog.Default().With("component", "emission"),
	}
}

// Emit delivers one receipt. Returns the stored receipt id on success; a 409
// from the ledger counts as success (idempotent re-emit). On validation
// rejection it fails fast. On transport or 5xx faults it retries with
// backoff, then enqueues for background drain and returns ErrEmissionFailed.
func (c *Client) Emit(ctx context.Context, r *receipts.Receipt) (string, error) {
	// A stable id across attempts is what makes retries idempotent.
	if !receipts.IsSet(r.ReceiptID) {
		r.ReceiptID = ids.NewReceiptID()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.Backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retry.Backoff(r.ReceiptID, attempt-1, c.cfg.Backoff)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		id, final, err := c.post(ctx, r)
		if err == nil {
			return id, nil
		}
		if final {
			return "", err
		}
		lastErr = err
		c.logger.WarnContext(ctx, "receipt emission attempt failed",
			"receipt_id", r.ReceiptID,
			"attempt", attempt+1,
			"error", err,
		)
	}

	c.enqueue(r)
	c.logger.ErrorContext(ctx, "receipt emission exhausted foreground retries",
		"receipt_id", r.ReceiptID,
		"task_id", r.TaskID,
		"queue_depth", c.queue.depth(),
		"error", lastErr,
	)
	return "", ErrEmissionFailed
}

// post performs one append attempt. final=true means the outcome must not be
// retried (success is reported with err == nil).
func (c *Client) post(ctx context.Context, r *receipts.Receipt) (id string, final bool, err error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", true, fmt.Errorf("marshal receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LedgerURL+"/receipts", bytes.NewReader(body))
	if err != nil {
		return "", true, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("ledger unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var ack struct {
			ReceiptID string `json:"receipt_id"`
		}
		if err := json.Unmarshal(payload, &ack); err != nil || ack.ReceiptID == "" {
			return r.ReceiptID, false, nil
		}
		return ack.ReceiptID, false, nil
	case resp.StatusCode == http.StatusConflict:
		// Already stored; treat the re-emit as success.
		return r.ReceiptID, false, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", true, fmt.Errorf("%w: %s", ErrValidationRejected, string(payload))
	default:
		return "", false, fmt.Errorf("ledger returned %d", resp.StatusCode)
	}
}

func (c *Client) enqueue(r *receipts.Receipt) {
	hash, err := receipts.ContentHash(r)
	if err != nil {
		hash = ""
	}
	if !c.queue.push(pending{receipt: r, hash: hash, queuedAt: receipts.Now()}) {
		c.logger.Info("identical receipt already queued, skipping enqueue",
			"receipt_id", r.ReceiptID)
	}
}

// Status reports the overflow queue state for the admin surface.
func (c *Client) Status() QueueStatus {
	return QueueStatus{
		Depth:        c.queue.depth(),
		Capacity:     c.cfg.QueueCapacity,
		DroppedTotal: c.queue.droppedTotal(),
	}
}
