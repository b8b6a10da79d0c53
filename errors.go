package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMedia is returned when a submission is attempted without a selected file.
	ErrNoMedia = errors.New("no media selected")
	// ErrNotFound is returned for queue operations on an unknown id.
	ErrNotFound = errors.New("pending submission not found")
	// ErrRetryInFlight is returned when a retry for the same id is already running.
	ErrRetryInFlight = errors.New("retry already in flight")
	// ErrDeadLettered is wrapped by retries that moved their entry to the dead-letter record.
	ErrDeadLettered = errors.New("submission dead-lettered")
	// ErrUnavailable marks a delivery skipped because the probe reported the server down.
	ErrUnavailable = errors.New("server unavailable")
	// ErrRecordNotFound is returned by a RecordStore when the key was never written.
	ErrRecordNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by a RecordStore when the record changed since it was read.
	ErrVersionConflict = errors.New("record version conflict")
)

// ImageLoadError reports that the source image could not be decoded.
type ImageLoadError struct {
	Err error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("load image: %v", e.Err)
}

func (e *ImageLoadError) Unwrap() error { return e.Err }

// EncodingError reports that the baked surface produced no output.
type EncodingError struct {
	Format string
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("encode %s: empty output", e.Format)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DeliveryError reports a failed delivery. SnapshotID is set when the attempt
// was queued for a later retry.
type DeliveryError struct {
	StatusCode int
	SnapshotID string
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := "deliver submission"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.SnapshotID != "" {
		msg = fmt.Sprintf("%s (queued as %s)", msg, e.SnapshotID)
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Queued reports whether the failed attempt was saved for retry.
func (e *DeliveryError) Queued() bool { return e.SnapshotID != "" }

// ValidationError reports user input that breaks the form rules.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StorageError reports a failed read or write of the persisted queue.
// The queue logs these and keeps going.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTerminal reports whether err ends a submission attempt without a retry:
// the image could not be baked, or the input was rejected.
func IsTerminal(err error) bool {
	var (
		loadErr *ImageLoadError
		encErr  *EncodingError
		valErr  *ValidationError
	)
	return errors.As(err, &loadErr) || errors.As(err, &encErr) || errors.As(err, &valErr)
}
