package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// Submission is one delivery: the baked image plus the form fields.
type Submission struct {
	Filename    string
	ContentType string
	Image       []byte
	Transform   Transform
	Text        Text
}

// NewSubmission pairs a snapshot's form fields with its baked image. The
// scale field reports the scale the image was actually baked at.
func NewSubmission(snap *Snapshot, baked *Baked) Submission {
	t := snap.Transform
	t.Scale = baked.ScalePercent
	return Submission{
		Filename:    snap.Media.Name,
		ContentType: baked.ContentType,
		Image:       baked.Bytes,
		Transform:   t,
		Text:        snap.Text,
	}
}

// Ack is the server's acceptance of a submission.
type Ack struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// Client delivers submissions to the gallery service. Failed first attempts
// are saved to the queue so user work is never dropped.
type Client struct {
	baseURL string
	http    *http.Client
	queue   *Queue
}

// NewClient creates a submission client. queue may be nil, in which case
// failures are only returned.
func NewClient(baseURL string, httpClient *http.Client, queue *Queue) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		queue:   queue,
	}
}

// Send posts the submission. On failure it returns a *DeliveryError; when
// pending is non-nil a failed copy of it is queued first and its id is
// reported in DeliveryError.SnapshotID. Retries pass a nil pending.
func (c *Client) Send(ctx context.Context, sub Submission, pending *Snapshot) (*Ack, error) {
	start := time.Now()
	ack, err := c.post(ctx, sub)
	observeDelivery(time.Since(start))
	if err == nil {
		return ack, nil
	}

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		derr = &DeliveryError{Err: err}
	}
	if pending != nil {
		c.enqueue(ctx, pending, derr)
	}
	return nil, derr
}

// enqueue stores a failed copy of pending. The caller's context may already
// be done when delivery timed out, so the write uses a detached one.
func (c *Client) enqueue(ctx context.Context, pending *Snapshot, derr *DeliveryError) {
	if c.queue == nil {
		return
	}
	failed := cloneSnapshot(*pending)
	failed.Status = StatusFailed
	failed.LastError = derr.Error()

	stored, err := c.queue.Add(context.WithoutCancel(ctx), failed)
	if err != nil {
		slog.Error("client: failed to queue submission", "file", pending.Media.Name, "error", err)
		return
	}
	derr.SnapshotID = stored.ID
}

func (c *Client) post(ctx context.Context, sub Submission) (*Ack, error) {
	body, contentType, err := encodeSubmission(sub)
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", body)
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &DeliveryError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DeliveryError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	if !json.Valid(raw) {
		return nil, &DeliveryError{StatusCode: resp.StatusCode, Err: errors.New("response is not JSON")}
	}

	return &Ack{StatusCode: resp.StatusCode, Body: json.RawMessage(raw)}, nil
}

func encodeSubmission(sub Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := sub.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="filename"; filename="%s"`, escapeQuotes(sub.Filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(sub.Image); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	t := sub.Transform
	scale := t.Scale
	if scale <= 0 {
		scale = ScaleDefault
	}
	effect := t.Effect
	if effect == "" {
		effect = EffectNone
	}

	fields := [][2]string{
		{"scale", strconv.Itoa(scale)},
		{"effect", effect},
	}
	if effect != EffectNone {
		fields = append(fields, [2]string{"effect_level", formatLevel(effect, t.EffectLevel)})
	}
	fields = append(fields, [2]string{"description", sub.Text.Description})
	if sub.Text.Hashtags != "" {
		fields = append(fields, [2]string{"hashtags", sub.Text.Hashtags})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// formatLevel renders the effect level; a missing level means the preset's maximum.
func formatLevel(effect string, level *float64) string {
	if level != nil {
		return strconv.FormatFloat(*level, 'f', -1, 64)
	}
	return strconv.FormatFloat(Effects[effect].Max, 'f', -1, 64)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// LoadPhotos fetches the gallery from the service. Any failure is logged and
// yields an empty list, so the gallery works offline.
func (c *Client) LoadPhotos(ctx context.Context) []json.RawMessage {
	photos, err := c.loadPhotos(ctx)
	if err != nil {
		slog.Warn("client: failed to load photos, continuing offline", "error", err)
		return []json.RawMessage{}
	}
	return photos
}

func (c *Client) loadPhotos(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("load photos: status %d", resp.StatusCode)
	}

	var photos []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32*maxResponseBytes)).Decode(&photos); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}
	if photos == nil {
		photos = []json.RawMessage{}
	}
	return photos, nil
}
