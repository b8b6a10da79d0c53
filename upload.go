// Package upload provides the resilient submission pipeline for the photo
// upload form: snapshot capture, preview baking, delivery and the durable
// queue of submissions that still have to reach the server.
package upload

import (
	"fmt"
	"strconv"
	"time"
)

// Status of a captured submission.
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
	// StatusSent is terminal. Sent entries are removed from the queue, never stored.
	StatusSent Status = "sent"
)

// Effect identifiers offered by the upload editor.
const (
	EffectNone   = "none"
	EffectChrome = "chrome"
	EffectSepia  = "sepia"
	EffectMarvin = "marvin"
	EffectPhobos = "phobos"
	EffectHeat   = "heat"
)

// Scale bounds of the editor, in percent.
const (
	ScaleMin     = 25
	ScaleMax     = 100
	ScaleDefault = 100
)

// NATS subjects for pipeline events.
const (
	SubjectPhotoPublished        = "gallery.photo.published"
	SubjectSubmissionQueued      = "upload.submission.queued"
	SubjectSubmissionDeadLetters = "upload.submission.deadlettered"
)

// Snapshot is one captured submission attempt. It holds everything needed to
// retry the submission without the session that produced it.
type Snapshot struct {
	ID        string    `json:"id"`
	Media     Media     `json:"media"`
	Transform Transform `json:"transform"`
	Text      Text      `json:"text"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// Media is the selected file. Data is stored base64-encoded by encoding/json.
type Media struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
	Digest      string `json:"digest"`
}

// Transform is the edit state applied to the preview.
type Transform struct {
	Scale       int      `json:"scale"`
	Effect      string   `json:"effect"`
	EffectLevel *float64 `json:"effect_level,omitempty"`
}

// Text is the raw user input attached to the photo.
type Text struct {
	Hashtags    string `json:"hashtags"`
	Description string `json:"description"`
}

// Effect describes an editor preset and the CSS filter it drives.
type Effect struct {
	Name   string
	Min    float64
	Max    float64
	Step   float64
	Unit   string
	Filter string
}

// Effects is the preset table of the editor, keyed by identifier.
var Effects = map[string]Effect{
	EffectNone:   {Name: EffectNone, Min: 0, Max: 100, Step: 1},
	EffectChrome: {Name: EffectChrome, Min: 0, Max: 1, Step: 0.1, Filter: "grayscale"},
	EffectSepia:  {Name: EffectSepia, Min: 0, Max: 1, Step: 0.1, Filter: "sepia"},
	EffectMarvin: {Name: EffectMarvin, Min: 0, Max: 100, Step: 1, Unit: "%", Filter: "invert"},
	EffectPhobos: {Name: EffectPhobos, Min: 0, Max: 3, Step: 0.1, Unit: "px", Filter: "blur"},
	EffectHeat:   {Name: EffectHeat, Min: 1, Max: 3, Step: 0.1, Filter: "brightness"},
}

// FilterExpression returns the CSS filter the preview shows for an effect at
// the given level, e.g. "invert(40%)". It returns "none" for the none effect
// and for unknown identifiers.
func FilterExpression(effect string, level *float64) string {
	e, ok := Effects[effect]
	if !ok || e.Filter == "" {
		return "none"
	}
	v := e.Max
	if level != nil {
		v = *level
	}
	return fmt.Sprintf("%s(%s%s)", e.Filter, strconv.FormatFloat(v, 'f', -1, 64), e.Unit)
}

// Filter returns the CSS filter expression of the transform.
func (t Transform) Filter() string {
	return FilterExpression(t.Effect, t.EffectLevel)
}

// ScaleFactor returns the scale as a factor, e.g. 0.5 for 50%.
func (t Transform) ScaleFactor() float64 {
	if t.Scale <= 0 {
		return 1
	}
	return float64(t.Scale) / 100
}
