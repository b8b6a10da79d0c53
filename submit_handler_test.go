package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type staticPhotos []json.RawMessage

func (s staticPhotos) LoadPhotos(context.Context) []json.RawMessage { return s }

func formRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile("filename", "photo.png")
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		part.Write(file)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/submissions/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newSubmitRouter(f *pipelineFixture, photos PhotoLoader) *chi.Mux {
	router := chi.NewRouter()
	router.Mount("/submissions", NewSubmitHandler(f.pipeline, photos).Routes())
	return router
}

func TestSubmitHandler_Sent(t *testing.T) {
	f := newPipelineFixture(t)
	router := newSubmitRouter(f, staticPhotos{})

	req := formRequest(t, map[string]string{
		"scale":        "50",
		"effect":       "chrome",
		"effect_level": "1",
		"hashtags":     "#one",
		"description":  "hi",
	}, testPNG(t, 40, 30, color.White))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Status string `json:"status"`
		Width  int    `json:"width"`
		Scale  int    `json:"scale"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Status != "sent" || body.Width != 20 || body.Scale != 50 {
		t.Errorf("unexpected response: %+v", body)
	}
	sub := f.sender.sent[0]
	if sub.Transform.Effect != EffectChrome || sub.Text.Hashtags != "#one" {
		t.Errorf("form fields not carried: %+v", sub)
	}
}

func TestSubmitHandler_Queued(t *testing.T) {
	f := newPipelineFixture(t)
	f.sender.setErr(errors.New("down"))
	router := newSubmitRouter(f, staticPhotos{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, formRequest(t, map[string]string{"scale": "100"}, testPNG(t, 4, 4, color.White)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if _, err := f.queue.Get(body["id"]); err != nil {
		t.Errorf("reported id %q not queued: %v", body["id"], err)
	}
}

func TestSubmitHandler_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		file   []byte
		code   int
	}{
		{"no file", map[string]string{"scale": "100"}, nil, http.StatusBadRequest},
		{"bad scale", map[string]string{"scale": "big"}, []byte("x"), http.StatusBadRequest},
		{"invalid hashtags", map[string]string{"hashtags": "nohash"}, []byte("x"), http.StatusUnprocessableEntity},
		{"undecodable image", map[string]string{}, []byte("not an image"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			router := newSubmitRouter(f, staticPhotos{})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, formRequest(t, tt.fields, tt.file))
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if f.queue.Len() != 0 {
				t.Errorf("rejected submission was queued")
			}
		})
	}
}

func TestSubmitHandler_EditorScaleCannotOverrideScale(t *testing.T) {
	f := newPipelineFixture(t)
	router := newSubmitRouter(f, staticPhotos{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, formRequest(t, map[string]string{
		"scale":         "50",
		"preview_scale": "8",
	}, testPNG(t, 400, 300, color.White)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Width  int `json:"width"`
		Height int `json:"height"`
		Scale  int `json:"scale"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Width != 200 || body.Height != 150 || body.Scale != 50 {
		t.Errorf("expected 200x150 at 50%%, got %dx%d at %d%%", body.Width, body.Height, body.Scale)
	}
	if got := f.sender.sent[0].Transform.Scale; got != 50 {
		t.Errorf("expected scale field 50, got %d", got)
	}
}

func TestSubmitHandler_EditorScaleIsValidated(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		code   int
		width  int
	}{
		{"oversized factor", map[string]string{"preview_scale": "8"}, http.StatusUnprocessableEntity, 0},
		{"oversized transform", map[string]string{"preview_transform": "matrix(3, 0, 0, 3, 0, 0)"}, http.StatusUnprocessableEntity, 0},
		{"factor in range", map[string]string{"preview_scale": "0.5"}, http.StatusCreated, 20},
		{"transform in range", map[string]string{"preview_transform": "scale(0.25)"}, http.StatusCreated, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			router := newSubmitRouter(f, staticPhotos{})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, formRequest(t, tt.fields, testPNG(t, 40, 30, color.White)))
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if tt.code != http.StatusCreated {
				if f.sender.calls() != 0 {
					t.Error("rejected submission was sent")
				}
				return
			}
			var body struct {
				Width int `json:"width"`
			}
			json.NewDecoder(w.Body).Decode(&body)
			if body.Width != tt.width {
				t.Errorf("expected width %d, got %d", tt.width, body.Width)
			}
		})
	}
}

func TestSubmitHandler_Photos(t *testing.T) {
	f := newPipelineFixture(t)
	router := newSubmitRouter(f, staticPhotos{json.RawMessage(`{"id":1}`)})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/submissions/photos", nil))
	if body := w.Body.String(); body != "[{\"id\":1}]\n" {
		t.Errorf("unexpected body %q", body)
	}
}
