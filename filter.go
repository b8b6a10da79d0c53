package upload

import (
	"image"
	"image/color"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// filterOp is one function of a CSS filter list, e.g. grayscale(1).
type filterOp struct {
	name   string
	amount float64
}

var filterFuncRe = regexp.MustCompile(`([a-z-]+)\(\s*([^)]*?)\s*\)`)

// parseFilter parses a CSS filter expression such as "sepia(0.6) blur(1px)".
// "none" and the empty string yield no operations.
func parseFilter(expr string) []filterOp {
	expr = strings.TrimSpace(strings.ToLower(expr))
	if expr == "" || expr == "none" {
		return nil
	}

	var ops []filterOp
	for _, m := range filterFuncRe.FindAllStringSubmatch(expr, -1) {
		amount, ok := parseFilterAmount(m[2])
		if !ok {
			slog.Warn("baker: unparsable filter argument", "function", m[1], "argument", m[2])
			continue
		}
		ops = append(ops, filterOp{name: m[1], amount: amount})
	}
	return ops
}

func parseFilterAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	scale := 1.0
	switch {
	case strings.HasSuffix(s, "%"):
		s = strings.TrimSuffix(s, "%")
		scale = 0.01
	case strings.HasSuffix(s, "px"):
		s = strings.TrimSuffix(s, "px")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v * scale, true
}

// applyFilters runs the filter list over img in order. Blur radii are in
// pixels of img.
func applyFilters(img *image.NRGBA, ops []filterOp) *image.NRGBA {
	for _, op := range ops {
		switch op.name {
		case "grayscale":
			img = imaging.AdjustFunc(img, grayscaleFunc(clamp01(op.amount)))
		case "sepia":
			img = imaging.AdjustFunc(img, sepiaFunc(clamp01(op.amount)))
		case "invert":
			img = imaging.AdjustFunc(img, invertFunc(clamp01(op.amount)))
		case "brightness":
			img = imaging.AdjustFunc(img, brightnessFunc(math.Max(op.amount, 0)))
		case "blur":
			if op.amount > 0 {
				img = imaging.Blur(img, op.amount)
			}
		default:
			slog.Warn("baker: unsupported filter function ignored", "function", op.name)
		}
	}
	return img
}

// The color matrices below follow the Filter Effects shorthand definitions.

func grayscaleFunc(a float64) func(color.NRGBA) color.NRGBA {
	s := 1 - a
	return matrixFunc([9]float64{
		0.2126 + 0.7874*s, 0.7152 - 0.7152*s, 0.0722 - 0.0722*s,
		0.2126 - 0.2126*s, 0.7152 + 0.2848*s, 0.0722 - 0.0722*s,
		0.2126 - 0.2126*s, 0.7152 - 0.7152*s, 0.0722 + 0.9278*s,
	})
}

func sepiaFunc(a float64) func(color.NRGBA) color.NRGBA {
	s := 1 - a
	return matrixFunc([9]float64{
		0.393 + 0.607*s, 0.769 - 0.769*s, 0.189 - 0.189*s,
		0.349 - 0.349*s, 0.686 + 0.314*s, 0.168 - 0.168*s,
		0.272 - 0.272*s, 0.534 - 0.534*s, 0.131 + 0.869*s,
	})
}

func invertFunc(a float64) func(color.NRGBA) color.NRGBA {
	return func(c color.NRGBA) color.NRGBA {
		inv := func(v uint8) uint8 {
			f := float64(v)
			return clampByte(a*(255-f) + (1-a)*f)
		}
		return color.NRGBA{R: inv(c.R), G: inv(c.G), B: inv(c.B), A: c.A}
	}
}

func brightnessFunc(a float64) func(color.NRGBA) color.NRGBA {
	return func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clampByte(float64(c.R) * a),
			G: clampByte(float64(c.G) * a),
			B: clampByte(float64(c.B) * a),
			A: c.A,
		}
	}
}

func matrixFunc(m [9]float64) func(color.NRGBA) color.NRGBA {
	return func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		return color.NRGBA{
			R: clampByte(m[0]*r + m[1]*g + m[2]*b),
			G: clampByte(m[3]*r + m[4]*g + m[5]*b),
			B: clampByte(m[6]*r + m[7]*g + m[8]*b),
			A: c.A,
		}
	}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
