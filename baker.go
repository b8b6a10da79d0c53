package upload

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is the encoder quality of baked images.
const DefaultJPEGQuality = 95

// Baked images are never larger than the original nor smaller than the
// editor's minimum scale.
const (
	minScaleFactor = float64(ScaleMin) / 100
	maxScaleFactor = float64(ScaleMax) / 100
)

// Preview is what the editor currently displays: the original image plus the
// presentation-time scale and filter applied on top of it.
type Preview struct {
	Source []byte
	// Scale is the factor set by the editor (0.5 for 50%). Zero means unknown,
	// in which case Transform is parsed instead.
	Scale float64
	// Transform is the computed CSS transform, e.g. "matrix(0.5, 0, 0, 0.5, 0, 0)".
	Transform string
	// Filter is the CSS filter list, e.g. "grayscale(1)".
	Filter string
}

// PreviewFor builds the preview of a stored transform.
func PreviewFor(source []byte, t Transform) Preview {
	return Preview{
		Source: source,
		Scale:  t.ScaleFactor(),
		Filter: t.Filter(),
	}
}

// Baked is the final image sent to the server.
type Baked struct {
	Bytes        []byte
	ContentType  string
	Width        int
	Height       int
	ScaleFactor  float64
	ScalePercent int
}

// Baker renders previews into standalone JPEG images.
type Baker struct {
	quality int
}

// NewBaker creates a baker. Quality outside 1..100 uses DefaultJPEGQuality.
func NewBaker(quality int) *Baker {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Baker{quality: quality}
}

// Bake decodes the original image at its natural size, renders it at the
// preview scale with the preview filter applied, and encodes the result.
// It never returns partial bytes: errors are *ImageLoadError or *EncodingError.
func (b *Baker) Bake(ctx context.Context, p Preview) (*Baked, error) {
	start := time.Now()
	defer func() { observeBake(time.Since(start)) }()

	factor := p.Scale
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		factor = scaleFromTransform(p.Transform)
	}
	if clamped := math.Min(math.Max(factor, minScaleFactor), maxScaleFactor); clamped != factor {
		slog.Warn("baker: scale outside editor range, clamped", "scale", factor, "used", clamped)
		factor = clamped
	}

	src, err := imaging.Decode(bytes.NewReader(p.Source), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ImageLoadError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	w := max(int(math.Round(float64(bounds.Dx())*factor)), 1)
	h := max(int(math.Round(float64(bounds.Dy())*factor)), 1)

	out := render(src, w, h, parseFilter(p.Filter))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(b.quality)); err != nil {
		return nil, &EncodingError{Format: "jpeg", Err: err}
	}
	if buf.Len() == 0 {
		return nil, &EncodingError{Format: "jpeg"}
	}

	return &Baked{
		Bytes:        buf.Bytes(),
		ContentType:  "image/jpeg",
		Width:        w,
		Height:       h,
		ScaleFactor:  factor,
		ScalePercent: int(math.Round(factor * 100)),
	}, nil
}

// render resamples src to w x h and then applies the filter list to the
// resampled surface, so filter parameters such as the blur radius are in
// output pixels.
func render(src image.Image, w, h int, ops []filterOp) *image.NRGBA {
	var surface *image.NRGBA
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		surface = imaging.Clone(src)
	} else {
		surface = imaging.Resize(src, w, h, imaging.Lanczos)
	}
	return applyFilters(surface, ops)
}

var transformFuncRe = regexp.MustCompile(`^(matrix3d|matrix|scale)\(\s*([^,)\s]+)`)

// scaleFromTransform extracts the uniform scale of a computed CSS transform.
// For matrix() and matrix3d() that is the a component.
func scaleFromTransform(t string) float64 {
	t = strings.TrimSpace(strings.ToLower(t))
	if t == "" || t == "none" {
		return 1
	}
	m := transformFuncRe.FindStringSubmatch(t)
	if m == nil {
		slog.Warn("baker: unrecognised transform, using natural size", "transform", t)
		return 1
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		slog.Warn("baker: invalid transform scale, using natural size", "transform", t)
		return 1
	}
	return v
}
