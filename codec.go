package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const digestPrefix = "sha256:"

// File is a selected image. Body is read once by Capture; restored files are
// backed by the stored bytes instead of the original handle.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Session is the in-progress state of the upload form.
type Session struct {
	File        *File
	Scale       int
	Effect      string
	EffectLevel *float64
	Hashtags    string
	Description string
}

// Transform returns the edit state of the session.
func (s *Session) Transform() Transform {
	t := Transform{Scale: s.Scale, Effect: s.Effect}
	if t.Scale == 0 {
		t.Scale = ScaleDefault
	}
	if t.Effect == "" {
		t.Effect = EffectNone
	}
	if t.Effect != EffectNone && s.EffectLevel != nil {
		lvl := *s.EffectLevel
		t.EffectLevel = &lvl
	}
	return t
}

// Codec converts sessions to snapshots and back.
type Codec struct {
	now   func() time.Time
	newID func() string
}

// NewCodec creates a snapshot codec.
func NewCodec() *Codec {
	return &Codec{now: time.Now, newID: newSnapshotID}
}

// Capture reads the selected file and returns a pending snapshot of the
// session under a new UUIDv7. The id follows the submission through
// queueing, retries and events. It returns nil, nil when no file is selected.
func (c *Codec) Capture(ctx context.Context, s *Session) (*Snapshot, error) {
	if s == nil || s.File == nil || s.File.Body == nil {
		return nil, nil
	}

	data, err := readAll(ctx, s.File.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.File.Name, err)
	}

	contentType := s.File.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	return &Snapshot{
		Media: Media{
			Name:        s.File.Name,
			ContentType: contentType,
			Data:        data,
			Digest:      digest(data),
		},
		Transform: s.Transform(),
		Text: Text{
			Hashtags:    s.Hashtags,
			Description: s.Description,
		},
		ID:        c.newID(),
		Status:    StatusPending,
		CreatedAt: c.now().UTC(),
	}, nil
}

// Restore rebuilds a session from a snapshot. The returned file reads from a
// copy of the stored bytes.
func (c *Codec) Restore(snap Snapshot) (*Session, error) {
	if snap.Media.Digest != "" && snap.Media.Digest != digest(snap.Media.Data) {
		return nil, fmt.Errorf("restore %s: media digest mismatch", snap.ID)
	}

	data := make([]byte, len(snap.Media.Data))
	copy(data, snap.Media.Data)

	s := &Session{
		File: &File{
			Name:        snap.Media.Name,
			ContentType: snap.Media.ContentType,
			Body:        bytes.NewReader(data),
		},
		Scale:       snap.Transform.Scale,
		Effect:      snap.Transform.Effect,
		Hashtags:    snap.Text.Hashtags,
		Description: snap.Text.Description,
	}
	if snap.Transform.EffectLevel != nil {
		lvl := *snap.Transform.EffectLevel
		s.EffectLevel = &lvl
	}
	return s, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// readAll reads r to the end, stopping early if ctx is cancelled.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
