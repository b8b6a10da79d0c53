package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
)

// mockRecordStore wraps a MemoryStore with injectable failures.
type mockRecordStore struct {
	*MemoryStore

	mu        sync.Mutex
	loadErr   error
	saveErr   error
	conflicts int // number of Saves that report a version conflict
	saveCalls int
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{MemoryStore: NewMemoryStore()}
}

func (m *mockRecordStore) Load(ctx context.Context, key string) (Record, error) {
	m.mu.Lock()
	err := m.loadErr
	m.mu.Unlock()
	if err != nil {
		return Record{}, err
	}
	return m.MemoryStore.Load(ctx, key)
}

func (m *mockRecordStore) Save(ctx context.Context, key string, data []byte, version int64) (int64, error) {
	m.mu.Lock()
	m.saveCalls++
	if m.saveErr != nil {
		err := m.saveErr
		m.mu.Unlock()
		return 0, err
	}
	if m.conflicts > 0 {
		m.conflicts--
		m.mu.Unlock()
		return 0, ErrVersionConflict
	}
	m.mu.Unlock()
	return m.MemoryStore.Save(ctx, key, data, version)
}

func (m *mockRecordStore) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

// mockNATS captures published messages for test assertions.
type mockNATS struct {
	mu       sync.Mutex
	messages []publishedMsg
	err      error
}

type publishedMsg struct {
	Subject string
	Data    []byte
}

func newMockNATS() *mockNATS {
	return &mockNATS{}
}

func (m *mockNATS) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMsg{Subject: subject, Data: data})
	return nil
}

func (m *mockNATS) published() []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]publishedMsg, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *mockNATS) subjects() []string {
	var out []string
	for _, msg := range m.published() {
		out = append(out, msg.Subject)
	}
	return out
}

// mockProber reports a fixed availability.
type mockProber struct {
	mu        sync.Mutex
	available bool
	calls     int
}

func (m *mockProber) IsAvailable(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.available
}

// mockSender records submissions and answers with ack or err. When pending
// is non-nil and err is set it queues like the HTTP client does.
type mockSender struct {
	mu      sync.Mutex
	queue   *Queue
	err     error
	ack     *Ack
	sent    []Submission
	pending []*Snapshot
	// block, when set, is waited on before answering.
	block chan struct{}
}

func (m *mockSender) Send(ctx context.Context, sub Submission, pending *Snapshot) (*Ack, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	m.sent = append(m.sent, sub)
	m.pending = append(m.pending, pending)
	err, ack := m.err, m.ack
	m.mu.Unlock()

	if err != nil {
		derr := &DeliveryError{StatusCode: 503, Err: err}
		if pending != nil && m.queue != nil {
			failed := *pending
			failed.Status = StatusFailed
			stored, addErr := m.queue.Add(ctx, failed)
			if addErr == nil {
				derr.SnapshotID = stored.ID
			}
		}
		return nil, derr
	}
	if ack == nil {
		ack = &Ack{StatusCode: 200, Body: json.RawMessage(`{"ok":true}`)}
	}
	return ack, nil
}

func (m *mockSender) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockSender) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// testPNG returns a w x h PNG filled with c.
func testPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// testSession returns a session over a 40x30 red PNG.
func testSession(t *testing.T) *Session {
	t.Helper()
	return &Session{
		File: &File{
			Name:        "photo.png",
			ContentType: "image/png",
			Body:        bytes.NewReader(testPNG(t, 40, 30, color.NRGBA{R: 200, A: 255})),
		},
		Scale:       50,
		Effect:      EffectSepia,
		EffectLevel: ptr(0.5),
		Hashtags:    "#cat #sun",
		Description: "evening walk",
	}
}

func ptr[T any](v T) *T { return &v }

func bytesReader(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }

// Verify interfaces at compile time.
var (
	_ RecordStore   = (*mockRecordStore)(nil)
	_ NATSPublisher = (*mockNATS)(nil)
	_ Prober        = (*mockProber)(nil)
	_ Sender        = (*mockSender)(nil)
)
