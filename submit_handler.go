package upload

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const maxFormBytes = 32 << 20

// Submitter runs one submission. *Pipeline implements it.
type Submitter interface {
	Submit(ctx context.Context, session *Session, preview Preview) (*Result, error)
}

// PhotoLoader fetches the gallery. *Client implements it.
type PhotoLoader interface {
	LoadPhotos(ctx context.Context) []json.RawMessage
}

// SubmitHandler accepts upload form posts and serves the gallery list.
type SubmitHandler struct {
	submitter Submitter
	photos    PhotoLoader
}

// NewSubmitHandler creates the form endpoints.
func NewSubmitHandler(submitter Submitter, photos PhotoLoader) *SubmitHandler {
	return &SubmitHandler{submitter: submitter, photos: photos}
}

// Routes mounts POST / for submissions and GET /photos.
func (h *SubmitHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleSubmit)
	r.Get("/photos", h.handlePhotos)
	return r
}

func (h *SubmitHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseMultipartForm(maxFormBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	session, preview, closeFile, err := sessionFromForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer closeFile()

	res, err := h.submitter.Submit(r.Context(), session, preview)
	if err == nil {
		writeJSON(w, http.StatusCreated, map[string]any{
			"status": "sent",
			"width":  res.Baked.Width,
			"height": res.Baked.Height,
			"scale":  res.Baked.ScalePercent,
			"ack":    res.Ack.Body,
		})
		return
	}

	var (
		derr   *DeliveryError
		valErr *ValidationError
	)
	switch {
	case errors.Is(err, ErrNoMedia):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": valErr.Message, "field": valErr.Field})
	case IsTerminal(err):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.As(err, &derr) && derr.Queued():
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": derr.SnapshotID, "error": err.Error()})
	default:
		slog.Error("submission failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func (h *SubmitHandler) handlePhotos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.photos.LoadPhotos(r.Context()))
}

// sessionFromForm reads the upload form. Optional preview_* fields carry
// what the editor displayed; without them the stored transform is used.
func sessionFromForm(r *http.Request) (*Session, Preview, func(), error) {
	s := &Session{
		Effect:      r.FormValue("effect"),
		Hashtags:    r.FormValue("hashtags"),
		Description: r.FormValue("description"),
	}
	if v := r.FormValue("scale"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, Preview{}, nil, &ValidationError{Field: "scale", Message: "not a number"}
		}
		s.Scale = n
	}
	if v := r.FormValue("effect_level"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, Preview{}, nil, &ValidationError{Field: "effect_level", Message: "not a number"}
		}
		s.EffectLevel = &f
	}

	var preview Preview
	if v := r.FormValue("preview_scale"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			preview.Scale = f
		}
	}
	preview.Transform = r.FormValue("preview_transform")
	preview.Filter = r.FormValue("preview_filter")
	// The scale field wins. Without it the editor's scale becomes the
	// session scale and goes through validation like any other value.
	if s.Scale == 0 {
		s.Scale = previewPercent(preview)
	}

	closeFile := func() {}
	f, hdr, err := r.FormFile("filename")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return nil, Preview{}, nil, err
	default:
		s.File = &File{
			Name:        hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Body:        f,
		}
		closeFile = func() { f.Close() }
	}
	return s, preview, closeFile, nil
}

func previewPercent(p Preview) int {
	switch {
	case p.Scale > 0 && !math.IsInf(p.Scale, 0):
		return int(math.Round(p.Scale * 100))
	case p.Transform != "":
		return int(math.Round(scaleFromTransform(p.Transform) * 100))
	}
	return 0
}
