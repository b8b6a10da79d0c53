package upload

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event is the payload of every pipeline notification.
type Event struct {
	EventID    string          `json:"event_id"`
	SnapshotID string          `json:"snapshot_id,omitempty"`
	File       string          `json:"file,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Ack        json.RawMessage `json:"ack,omitempty"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher sends pipeline events to NATS. The gallery listens on
// SubjectPhotoPublished to refresh after a successful submission.
type Publisher struct {
	nc     NATSPublisher
	source string
}

// NewPublisher creates an event publisher. Source identifies this instance
// in events, e.g. the host name.
func NewPublisher(nc NATSPublisher, source string) *Publisher {
	return &Publisher{nc: nc, source: source}
}

// PhotoPublished reports a delivered submission. snapshotID is empty for
// first attempts that never reached the queue.
func (p *Publisher) PhotoPublished(snapshotID string, ack *Ack) error {
	ev := p.event(snapshotID)
	if ack != nil {
		ev.Ack = ack.Body
	}
	return p.publish(SubjectPhotoPublished, ev)
}

// SubmissionQueued reports a failed submission saved for retry.
func (p *Publisher) SubmissionQueued(snap Snapshot) error {
	ev := p.event(snap.ID)
	ev.File = snap.Media.Name
	ev.Attempts = snap.Attempts
	ev.Reason = snap.LastError
	return p.publish(SubjectSubmissionQueued, ev)
}

// DeadLettered reports a submission that was given up on.
func (p *Publisher) DeadLettered(snap Snapshot) error {
	ev := p.event(snap.ID)
	ev.File = snap.Media.Name
	ev.Attempts = snap.Attempts
	ev.Reason = snap.LastError
	return p.publish(SubjectSubmissionDeadLetters, ev)
}

func (p *Publisher) event(snapshotID string) Event {
	return Event{
		EventID:    uuid.New().String(),
		SnapshotID: snapshotID,
		Source:     p.source,
		OccurredAt: time.Now().UTC(),
	}
}

func (p *Publisher) publish(subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// NopNotifier drops every event. It is used when NATS is not configured.
type NopNotifier struct{}

func (NopNotifier) PhotoPublished(string, *Ack) error { return nil }
func (NopNotifier) SubmissionQueued(Snapshot) error { return nil }
func (NopNotifier) DeadLettered(Snapshot) error { return nil }

var (
	_ Notifier = (*Publisher)(nil)
	_ Notifier = NopNotifier{}
)

// ConnectNATS dials the server at url and keeps reconnecting in the
// background when the connection drops.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats: reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
