package upload

import "context"

// Record is one keyed value read from a RecordStore with its version.
type Record struct {
	Data    []byte
	Version int64
}

// RecordStore is the interface for queue persistence: a single keyed record
// written as a whole. Save is a compare-and-swap on the version returned by
// Load; version 0 means the record must not exist yet.
// Implementations: *MemoryStore, *SQLiteStore, *PostgresStore, *RedisStore.
type RecordStore interface {
	Load(ctx context.Context, key string) (Record, error)
	Save(ctx context.Context, key string, data []byte, version int64) (int64, error)
}

// NATSPublisher is the interface for publishing messages to NATS. *nats.Conn
// satisfies it.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// Prober reports whether the delivery endpoint answers.
type Prober interface {
	IsAvailable(ctx context.Context) bool
}

// Validator checks user input before any network activity. It stands in for
// the form validation widget.
type Validator interface {
	Validate(s *Session) error
}

// Notifier receives pipeline events. *Publisher sends them over NATS.
type Notifier interface {
	PhotoPublished(snapshotID string, ack *Ack) error
	SubmissionQueued(snap Snapshot) error
	DeadLettered(snap Snapshot) error
}

// Sender delivers a submission. *Client is the HTTP implementation.
type Sender interface {
	Send(ctx context.Context, sub Submission, pending *Snapshot) (*Ack, error)
}
