package tracelens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// buffer holds pending ingestion events, one FIFO queue per kind.
// Events are flushed in enqueue order within a kind; there is no
// ordering guarantee across kinds.
type buffer struct {
	mu      sync.Mutex
	queues  map[eventKind][]any
	max     int
	dropped int64
}

func newBuffer(max int) *buffer {
	return &buffer{
		queues: make(map[eventKind][]any),
		max:    max,
	}
}

// add appends an event to its kind's queue, dropping the oldest events of
// that kind if the per-kind cap is exceeded. It returns how many events were
// dropped and the queue length after the append.
func (b *buffer) add(kind eventKind, body any) (dropped, pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[kind]
	if len(q) >= b.max {
		dropped = len(q) - b.max + 1
		q = q[dropped:]
		b.dropped += int64(dropped)
	}
	q = append(q, body)
	b.queues[kind] = q
	return dropped, len(q)
}

// drain atomically removes and returns everything queued.
func (b *buffer) drain() map[eventKind][]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queues) == 0 {
		return nil
	}
	drained := b.queues
	b.queues = make(map[eventKind][]any)
	return drained
}

func (b *buffer) pending(kind eventKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[kind])
}

func (b *buffer) droppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// enqueue buffers an event for the next drain cycle. It never blocks on the
// network and never returns an error to the caller; overflow and delivery
// failures surface through the logger and Config.OnError.
func (c *Client) enqueue(kind eventKind, body any) {
	dropped, pending := c.buf.add(kind, body)
	if dropped > 0 {
		c.reportError(fmt.Errorf("tracelens: %s queue overflow, dropped %d events (total dropped: %d)",
			kind, dropped, c.buf.droppedCount()))
	}

	if pending >= c.config.FlushAt {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush drains all queues and issues one batched call per non-empty kind.
// It returns once every batch for this drain has settled; the returned error
// reflects the first kind whose batch could not be delivered after retries.
// Flushing an empty queue issues no network calls.
//
// Short-lived programs must call Flush (or Shutdown) before exiting, or
// buffered events are lost.
func (c *Client) Flush(ctx context.Context) error {
	drained := c.buf.drain()
	if len(drained) == 0 {
		return nil
	}

	var g errgroup.Group
	for kind, events := range drained {
		kind, events := kind, events
		g.Go(func() error {
			return c.sendBatch(ctx, kind, events)
		})
	}
	return g.Wait()
}

func (c *Client) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.doneCh:
			return
		case <-c.flushCh:
			c.backgroundFlush()
		case <-ticker.C:
			c.backgroundFlush()
		}
	}
}

func (c *Client) backgroundFlush() {
	if err := c.Flush(context.Background()); err != nil {
		// Already reported by sendBatch; keep the loop quiet beyond debug.
		c.logger.Debug("background flush failed", zap.Error(err))
	}
}

// sendBatch posts one batch with bounded retries: network errors and 5xx
// back off exponentially from 500ms, 429 honors Retry-After, other 4xx are
// never retried. After MaxRetries attempts the batch is dropped.
func (c *Client) sendBatch(ctx context.Context, kind eventKind, events []any) error {
	data, err := json.Marshal(batchPayload{Items: events})
	if err != nil {
		err = fmt.Errorf("tracelens: marshaling %s batch: %w", kind, err)
		c.reportError(err)
		return err
	}

	url := c.config.Host + kind.endpoint()

	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			err = fmt.Errorf("tracelens: %s batch aborted: %w", kind, ctx.Err())
			c.reportError(err)
			return err
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("building request: %w", err)
			continue
		}
		c.setHeaders(req, true)

		resp, err := c.httpClient.Do(req)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("tracelens: %s batch aborted: %w", kind, ctx.Err())
				c.reportError(err)
				return err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			c.backoff(ctx, attempt)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.logger.Debug("flushed batch",
				zap.String("kind", string(kind)),
				zap.Int("events", len(events)))
			return nil

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := 5
			if h := resp.Header.Get("Retry-After"); h != "" {
				fmt.Sscanf(h, "%d", &retryAfter)
			}
			lastErr = fmt.Errorf("rate limited (429), retry after %ds", retryAfter)
			if attempt < c.config.MaxRetries-1 {
				c.sleep(ctx, time.Duration(retryAfter)*time.Second)
			}

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			c.backoff(ctx, attempt)

		default:
			// Client error, retrying cannot help.
			err = fmt.Errorf("tracelens: %s batch rejected with status %d", kind, resp.StatusCode)
			c.reportError(err)
			return err
		}
	}

	err = fmt.Errorf("tracelens: %s batch dropped after %d attempts: %w", kind, c.config.MaxRetries, lastErr)
	c.reportError(err)
	return err
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	if attempt >= c.config.MaxRetries-1 {
		return // no attempt left to wait for
	}
	c.sleep(ctx, time.Duration(1<<attempt)*500*time.Millisecond)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
