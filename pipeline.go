package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Result is a delivered submission.
type Result struct {
	Ack   *Ack
	Baked *Baked
}

// Pipeline runs a submission from the form to the gallery service:
// validate, capture, probe, bake, send. A failed delivery leaves a failed
// snapshot in the queue for the retry coordinator.
type Pipeline struct {
	validator Validator
	codec     *Codec
	prober    Prober
	baker     *Baker
	sender    Sender
	queue     *Queue
	notifier  Notifier
}

// NewPipeline wires the submission stages. A nil notifier drops events.
func NewPipeline(validator Validator, codec *Codec, prober Prober, baker *Baker, sender Sender, queue *Queue, notifier Notifier) *Pipeline {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Pipeline{
		validator: validator,
		codec:     codec,
		prober:    prober,
		baker:     baker,
		sender:    sender,
		queue:     queue,
		notifier:  notifier,
	}
}

// Submit delivers the session. The validated session transform decides the
// baked scale and filter, exactly as a later retry of the same snapshot
// would; preview only supplies the scale when the session carries none.
//
// Errors: *ValidationError and bake errors are returned without queueing.
// Delivery failures return a *DeliveryError whose SnapshotID names the
// queued entry; an unreachable server wraps ErrUnavailable.
func (p *Pipeline) Submit(ctx context.Context, session *Session, preview Preview) (*Result, error) {
	if err := p.validator.Validate(session); err != nil {
		incSubmission("rejected")
		return nil, err
	}

	snap, err := p.codec.Capture(ctx, session)
	if err != nil {
		incSubmission("failed")
		return nil, fmt.Errorf("capture: %w", err)
	}
	if snap == nil {
		incSubmission("rejected")
		return nil, ErrNoMedia
	}

	if !p.prober.IsAvailable(ctx) {
		return nil, p.queueUnavailable(ctx, snap)
	}

	baked, err := p.baker.Bake(ctx, bakePreview(preview, snap))
	if err != nil {
		incSubmission("failed")
		slog.Warn("pipeline: bake failed", "file", snap.Media.Name, "error", err)
		return nil, err
	}

	ack, err := p.sender.Send(ctx, NewSubmission(snap, baked), snap)
	if err != nil {
		p.reportQueued(err)
		return nil, err
	}

	incSubmission("sent")
	if err := p.notifier.PhotoPublished(snap.ID, ack); err != nil {
		slog.Error("pipeline: failed to publish success", "file", snap.Media.Name, "error", err)
	}
	slog.Info("pipeline: submission delivered",
		"id", snap.ID,
		"file", snap.Media.Name,
		"scale", baked.ScalePercent,
		"effect", snap.Transform.Effect,
		"bytes", len(baked.Bytes),
	)
	return &Result{Ack: ack, Baked: baked}, nil
}

func (p *Pipeline) queueUnavailable(ctx context.Context, snap *Snapshot) error {
	derr := &DeliveryError{Err: ErrUnavailable}

	failed := *snap
	failed.Status = StatusFailed
	failed.LastError = ErrUnavailable.Error()
	stored, err := p.queue.Add(ctx, failed)
	if err != nil {
		incSubmission("failed")
		slog.Error("pipeline: failed to queue submission", "file", snap.Media.Name, "error", err)
		return derr
	}
	derr.SnapshotID = stored.ID

	incSubmission("queued")
	if err := p.notifier.SubmissionQueued(stored); err != nil {
		slog.Error("pipeline: failed to publish queued", "id", stored.ID, "error", err)
	}
	slog.Warn("pipeline: server unavailable, submission queued", "id", stored.ID, "file", snap.Media.Name)
	return derr
}

func (p *Pipeline) reportQueued(err error) {
	var derr *DeliveryError
	if !errors.As(err, &derr) || !derr.Queued() {
		incSubmission("failed")
		slog.Error("pipeline: delivery failed and was not queued", "error", err)
		return
	}

	incSubmission("queued")
	stored, getErr := p.queue.Get(derr.SnapshotID)
	if getErr != nil {
		return
	}
	if err := p.notifier.SubmissionQueued(stored); err != nil {
		slog.Error("pipeline: failed to publish queued", "id", stored.ID, "error", err)
	}
	slog.Warn("pipeline: delivery failed, submission queued", "id", stored.ID, "error", err)
}

// bakePreview is what gets baked for snap: the stored transform, so the
// queued entry and the first attempt render the same pixels.
func bakePreview(editor Preview, snap *Snapshot) Preview {
	p := PreviewFor(snap.Media.Data, snap.Transform)
	if snap.Transform.Scale <= 0 {
		p.Scale, p.Transform = editor.Scale, editor.Transform
	}
	return p
}
