package emission

import (
	"context"
	"time"
)

// RunDrain is the background delivery worker. One instance runs per process;
// it wakes on the configured cadence, retries a bounded batch from the
// overflow queue, and exits when ctx is cancelled. It commits nothing
// partial: an item is either delivered, requeued, or discarded with a
// terminal log record.
func (c *Client) RunDrain(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()

	c.logger.Info("emission drain worker started",
		"interval", c.cfg.DrainInterval,
		"batch", c.cfg.DrainBatch,
	)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("emission drain worker stopped", "queue_depth", c.queue.depth())
			return
		case <-ticker.C:
			c.drainOnce(ctx)
		}
	}
}

// drainOnce retries up to one batch. Transient failures requeue the item
// until its retry budget is spent; validation rejections and exhausted items
// are discarded loudly.
func (c *Client) drainOnce(ctx context.Context) {
	batch := c.queue.pop(c.cfg.DrainBatch)
	for i, item := range batch {
		if ctx.Err() != nil {
			// Cancelled mid-batch: requeue the whole unprocessed tail so
			// the shutdown log reports an honest queue depth.
			for _, rest := range batch[i:] {
				c.queue.push(rest)
			}
			return
		}

		_, final, err := c.post(ctx, item.receipt)
		if err == nil {
			c.logger.Info("queued receipt delivered",
				"receipt_id", item.receipt.ReceiptID,
				"retry_count", item.retryCount,
			)
			continue
		}
		if final {
			c.logger.Error("queued receipt rejected by ledger, discarding",
				"receipt_id", item.receipt.ReceiptID,
				"error", err,
			)
			continue
		}

		item.retryCount++
		if item.retryCount >= c.cfg.MaxDrainRetries {
			c.logger.Error("queued receipt exhausted retries, audit record lost",
				"receipt_id", item.receipt.ReceiptID,
				"task_id", item.receipt.TaskID,
				"queued_at", item.queuedAt,
				"retry_count", item.retryCount,
			)
			continue
		}
		c.queue.push(item)
	}
}
