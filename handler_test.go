package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// mockRetrier answers Retry with errs[id] and Sweep with result.
type mockRetrier struct {
	errs    map[string]error
	result  SweepResult
	retried []string
	sweeps  int
}

func (m *mockRetrier) Retry(_ context.Context, id string) error {
	m.retried = append(m.retried, id)
	return m.errs[id]
}

func (m *mockRetrier) Sweep(context.Context) SweepResult {
	m.sweeps++
	return m.result
}

var _ Retrier = (*mockRetrier)(nil)

func newTestRouter(t *testing.T, q *Queue, r Retrier, p Prober) *chi.Mux {
	t.Helper()
	router := chi.NewRouter()
	router.Mount("/pending", NewHandler(q, r, p).Routes())
	return router
}

func do(router http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_ListOmitsMediaBytes(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(ctx, NewMemoryStore(), QueueOptions{})
	q.Add(ctx, testSnapshot("a.png"))
	q.Add(ctx, testSnapshot("b.png"))
	router := newTestRouter(t, q, &mockRetrier{}, &mockProber{})

	w := do(router, "GET", "/pending/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var views []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(views))
	}
	if _, ok := views[0]["media"]; ok {
		t.Error("list must not include media bytes")
	}
	if views[0]["file"] != "a.png" || views[0]["size"] != float64(len("a.png")) {
		t.Errorf("unexpected view: %v", views[0])
	}

	w = do(router, "GET", "/pending/?limit=1")
	json.NewDecoder(w.Body).Decode(&views)
	if len(views) != 1 {
		t.Errorf("expected limit 1, got %d", len(views))
	}
}

func TestHandler_ListEmpty(t *testing.T) {
	q := NewQueue(context.Background(), NewMemoryStore(), QueueOptions{})
	w := do(newTestRouter(t, q, &mockRetrier{}, &mockProber{}), "GET", "/pending/")
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestHandler_GetAndDiscard(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(ctx, NewMemoryStore(), QueueOptions{})
	s, _ := q.Add(ctx, testSnapshot("a.png"))
	router := newTestRouter(t, q, &mockRetrier{}, &mockProber{})

	w := do(router, "GET", "/pending/"+s.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var view EntryView
	json.NewDecoder(w.Body).Decode(&view)
	if view.ID != s.ID || view.Status != StatusFailed {
		t.Errorf("unexpected view: %+v", view)
	}

	if w := do(router, "POST", "/pending/"+s.ID+"/discard"); w.Code != http.StatusOK {
		t.Errorf("discard: expected 200, got %d", w.Code)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
	if w := do(router, "POST", "/pending/"+s.ID+"/discard"); w.Code != http.StatusNotFound {
		t.Errorf("second discard: expected 404, got %d", w.Code)
	}
	if w := do(router, "GET", "/pending/"+s.ID); w.Code != http.StatusNotFound {
		t.Errorf("get after discard: expected 404, got %d", w.Code)
	}
}

func TestHandler_RetryStatusCodes(t *testing.T) {
	q := NewQueue(context.Background(), NewMemoryStore(), QueueOptions{})
	r := &mockRetrier{errs: map[string]error{
		"missing":  fmt.Errorf("get missing: %w", ErrNotFound),
		"busy":     fmt.Errorf("retry busy: %w", ErrRetryInFlight),
		"dead":     fmt.Errorf("%w: %w", ErrDeadLettered, &ImageLoadError{Err: errors.New("bad")}),
		"down":     &DeliveryError{StatusCode: 503},
		"accepted": nil,
	}}
	router := newTestRouter(t, q, r, &mockProber{})

	tests := []struct {
		id   string
		code int
	}{
		{"accepted", http.StatusOK},
		{"missing", http.StatusNotFound},
		{"busy", http.StatusConflict},
		{"dead", http.StatusOK},
		{"down", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if w := do(router, "POST", "/pending/"+tt.id+"/retry"); w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandler_RetryAllStatsDeadProbe(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(ctx, NewMemoryStore(), QueueOptions{})
	s, _ := q.Add(ctx, testSnapshot("a.png"))
	q.Add(ctx, testSnapshot("b.png"))
	q.Bury(ctx, s.ID)

	r := &mockRetrier{result: SweepResult{Total: 1, Retried: 1}}
	router := newTestRouter(t, q, r, &mockProber{available: true})

	w := do(router, "POST", "/pending/retry-all")
	var res SweepResult
	json.NewDecoder(w.Body).Decode(&res)
	if r.sweeps != 1 || res.Retried != 1 {
		t.Errorf("unexpected sweep: calls=%d result=%+v", r.sweeps, res)
	}

	w = do(router, "GET", "/pending/stats")
	var st QueueStats
	json.NewDecoder(w.Body).Decode(&st)
	if st.Total != 1 || st.Dead != 1 || st.ByStatus[StatusFailed] != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}

	w = do(router, "GET", "/pending/dead")
	var dead []EntryView
	json.NewDecoder(w.Body).Decode(&dead)
	if len(dead) != 1 || dead[0].ID != s.ID {
		t.Errorf("unexpected dead letters: %+v", dead)
	}

	w = do(router, "GET", "/pending/probe")
	var probe map[string]bool
	json.NewDecoder(w.Body).Decode(&probe)
	if !probe["available"] {
		t.Errorf("expected available, got %v", probe)
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"key": "value"})

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["key"] != "value" {
		t.Errorf("expected value, got %s", body["key"])
	}
}
