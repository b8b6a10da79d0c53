package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// MaxAttempts moves an entry to the dead-letter record once its failed
	// attempts reach this number. Zero retries forever.
	MaxAttempts int
	// Limiter paces deliveries within a sweep. Nil means no pacing.
	Limiter *rate.Limiter
	// Prober, when set, skips a sweep while the endpoint is down so offline
	// periods do not count as attempts.
	Prober Prober
}

// SweepResult summarises one pass over the failed entries.
type SweepResult struct {
	Total   int `json:"total"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Buried  int `json:"buried"`
}

// Coordinator redelivers queued submissions. It re-bakes each entry from the
// stored original and its transform, so a retry never depends on the session
// that produced it.
type Coordinator struct {
	queue    *Queue
	sender   Sender
	baker    *Baker
	codec    *Codec
	notifier Notifier
	opts     CoordinatorOptions

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCoordinator creates a retry coordinator. A nil notifier drops events.
func NewCoordinator(queue *Queue, sender Sender, baker *Baker, codec *Codec, notifier Notifier, opts CoordinatorOptions) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Coordinator{
		queue:    queue,
		sender:   sender,
		baker:    baker,
		codec:    codec,
		notifier: notifier,
		opts:     opts,
		inflight: make(map[string]struct{}),
	}
}

// Retry redelivers one entry. A success removes it from the queue; a failure
// records the attempt and leaves the entry in place. When the entry is given
// up on, the returned error wraps ErrDeadLettered.
func (c *Coordinator) Retry(ctx context.Context, id string) error {
	if !c.acquire(id) {
		return fmt.Errorf("retry %s: %w", id, ErrRetryInFlight)
	}
	defer c.release(id)

	snap, err := c.queue.Get(id)
	if err != nil {
		return err
	}

	baked, err := c.bake(ctx, snap)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// A stored snapshot that cannot be baked now never will be.
		slog.Error("retry: stored submission cannot be baked", "id", id, "error", err)
		c.recordFailure(ctx, id, err)
		return c.bury(ctx, id, err)
	}

	ack, err := c.sender.Send(ctx, NewSubmission(&snap, baked), nil)
	if err != nil {
		updated, ok := c.recordFailure(ctx, id, err)
		slog.Warn("retry: delivery failed", "id", id, "attempts", updated.Attempts, "error", err)
		if ok && c.opts.MaxAttempts > 0 && updated.Attempts >= c.opts.MaxAttempts {
			return c.bury(ctx, id, err)
		}
		return err
	}

	incRetry("sent")
	if err := c.queue.Remove(ctx, id); err != nil {
		slog.Warn("retry: delivered entry already gone", "id", id, "error", err)
	}
	if err := c.notifier.PhotoPublished(id, ack); err != nil {
		slog.Error("retry: failed to publish success", "id", id, "error", err)
	}
	slog.Info("retry: submission delivered", "id", id, "attempts", snap.Attempts+1)
	return nil
}

func (c *Coordinator) bake(ctx context.Context, snap Snapshot) (*Baked, error) {
	session, err := c.codec.Restore(snap)
	if err != nil {
		return nil, &ImageLoadError{Err: err}
	}
	data, err := io.ReadAll(session.File.Body)
	if err != nil {
		return nil, &ImageLoadError{Err: err}
	}
	return c.baker.Bake(ctx, PreviewFor(data, session.Transform()))
}

func (c *Coordinator) recordFailure(ctx context.Context, id string, cause error) (Snapshot, bool) {
	incRetry("failed")
	updated, err := c.queue.RecordAttempt(ctx, id, cause)
	if err != nil {
		slog.Warn("retry: failed to record attempt", "id", id, "error", err)
		return Snapshot{}, false
	}
	return updated, true
}

func (c *Coordinator) bury(ctx context.Context, id string, cause error) error {
	entry, err := c.queue.Bury(ctx, id)
	if err != nil {
		slog.Error("retry: failed to dead-letter", "id", id, "error", err)
		return cause
	}
	incRetry("dead")
	if err := c.notifier.DeadLettered(entry); err != nil {
		slog.Error("retry: failed to publish dead letter", "id", id, "error", err)
	}
	return fmt.Errorf("%w: %w", ErrDeadLettered, cause)
}

// Sweep retries every failed entry once. Entries already being retried are
// skipped. Order follows the queue but is not guaranteed across sweeps.
func (c *Coordinator) Sweep(ctx context.Context) SweepResult {
	entries := c.queue.List(StatusFailed)
	res := SweepResult{Total: len(entries)}
	if len(entries) == 0 {
		return res
	}

	if c.opts.Prober != nil && !c.opts.Prober.IsAvailable(ctx) {
		slog.Info("retry: endpoint unavailable, skipping sweep", "pending", len(entries))
		res.Skipped = len(entries)
		return res
	}

	for i, entry := range entries {
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				res.Skipped += len(entries) - i
				break
			}
		}
		if ctx.Err() != nil {
			res.Skipped += len(entries) - i
			break
		}

		err := c.Retry(ctx, entry.ID)
		switch {
		case err == nil:
			res.Retried++
		case errors.Is(err, ErrRetryInFlight), errors.Is(err, ErrNotFound):
			res.Skipped++
		case errors.Is(err, ErrDeadLettered):
			res.Buried++
		default:
			res.Failed++
		}
	}

	slog.Info("retry: sweep complete",
		"total", res.Total,
		"retried", res.Retried,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"buried", res.Buried,
	)
	return res
}

func (c *Coordinator) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}
