package upload

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Retrier is the part of the Coordinator the admin API drives.
type Retrier interface {
	Retry(ctx context.Context, id string) error
	Sweep(ctx context.Context) SweepResult
}

// Handler provides HTTP endpoints for inspecting and driving the pending queue.
type Handler struct {
	queue   *Queue
	retrier Retrier
	prober  Prober
}

// NewHandler creates a pending-queue HTTP handler.
func NewHandler(queue *Queue, retrier Retrier, prober Prober) *Handler {
	return &Handler{queue: queue, retrier: retrier, prober: prober}
}

// Routes returns a chi.Router with all pending-queue endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/stats", h.handleStats)
	r.Get("/dead", h.handleDead)
	r.Get("/probe", h.handleProbe)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/retry", h.handleRetry)
	r.Post("/{id}/discard", h.handleDiscard)
	r.Post("/retry-all", h.handleRetryAll)
	return r
}

// EntryView is a queue entry without its media bytes.
type EntryView struct {
	ID          string    `json:"id"`
	File        string    `json:"file"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	Digest      string    `json:"digest"`
	Transform   Transform `json:"transform"`
	Text        Text      `json:"text"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
}

func viewOf(s Snapshot) EntryView {
	return EntryView{
		ID:          s.ID,
		File:        s.Media.Name,
		ContentType: s.Media.ContentType,
		Size:        len(s.Media.Data),
		Digest:      s.Media.Digest,
		Transform:   s.Transform,
		Text:        s.Text,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		Attempts:    s.Attempts,
		LastError:   s.LastError,
	}
}

func viewsOf(entries []Snapshot, limit int) []EntryView {
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && len(views) >= limit {
			break
		}
		views = append(views, viewOf(e))
	}
	return views
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, viewsOf(h.queue.List(status), limit))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}

func (h *Handler) handleDead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewsOf(h.queue.DeadLetters(), 0))
}

func (h *Handler) handleProbe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"available": h.prober.IsAvailable(r.Context())})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.queue.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pending submission not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(entry))
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.retrier.Retry(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered", "id": id})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pending submission not found"})
	case errors.Is(err, ErrRetryInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "retry already in flight"})
	case errors.Is(err, ErrDeadLettered):
		writeJSON(w, http.StatusOK, map[string]string{"status": "dead-lettered", "id": id, "error": err.Error()})
	default:
		slog.Warn("retry via api failed", "id", id, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "failed", "id": id, "error": err.Error()})
	}
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.queue.Remove(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pending submission not found"})
		return
	}
	slog.Info("pending submission discarded via api", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded", "id": id})
}

func (h *Handler) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.retrier.Sweep(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
