package carve

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel"
)

// TextFeature places a text label. The label is anchored at its left edge
// and vertically centered on (X, Y). Bottom-face text is mirrored so that
// it reads correctly from below.
type TextFeature struct {
	X, Y float64
	Text string
	Size float64 // glyph height in mm; 0 means DefaultTextHeight
	Face geom.Face
}

func (f TextFeature) validate() error {
	if strings.TrimSpace(f.Text) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "text feature has no text")
	}
	if f.Size < 0 || math.IsInf(f.Size, 0) || math.IsNaN(f.Size) {
		return errors.New(errors.ErrCodeConfiguration, "text size must be positive, got %g", f.Size)
	}
	if !f.Face.Valid() {
		return errors.New(errors.ErrCodeConfiguration, "unsupported face %v", f.Face)
	}
	return nil
}

// CarveText subtracts the label from the current solid in its own boolean
// pass and returns the updated solid.
func (w *Workpiece) CarveText(ctx context.Context, f TextFeature) (kernel.Solid, error) {
	if err := w.checkNotConsumed(); err != nil {
		return nil, err
	}
	cut, err := w.TextCutout(ctx, f)
	if err != nil {
		return nil, err
	}
	base, err := w.base()
	if err != nil {
		return nil, err
	}
	return w.subtract(ctx, "carve text", base, cut)
}

// TextCutout returns the subtraction volume of a label without changing
// the Workpiece: the label at carve depth, extended by Epsilon beyond its
// face. Collect several and pass them to BatchSubtract.
func (w *Workpiece) TextCutout(ctx context.Context, f TextFeature) (kernel.Solid, error) {
	return w.text(ctx, "text cutout", f, w.cfg.Depth+w.cfg.Epsilon, w.cfg.Epsilon)
}

// FillText returns the label at exactly carve depth, flush with its face,
// without changing the current solid.
func (w *Workpiece) FillText(ctx context.Context, f TextFeature) (kernel.Solid, error) {
	s, err := w.text(ctx, "fill text", f, w.cfg.Depth, 0)
	if err != nil {
		return nil, err
	}
	if err := w.materialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// RaisedText returns the label extruded to carve depth plus extra, so that
// it protrudes extra beyond its face. The current solid is not changed.
func (w *Workpiece) RaisedText(ctx context.Context, f TextFeature, extra float64) (kernel.Solid, error) {
	if extra < 0 || math.IsInf(extra, 0) {
		return nil, errors.New(errors.ErrCodeConfiguration, "raised height must be non-negative, got %g", extra)
	}
	s, err := w.text(ctx, "raised text", f, w.cfg.Depth+extra, extra)
	if err != nil {
		return nil, err
	}
	if err := w.materialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// text builds a label of the given height that reaches beyond mm past
// its face.
func (w *Workpiece) text(ctx context.Context, op string, f TextFeature, height, beyond float64) (kernel.Solid, error) {
	if err := w.checkNotConsumed(); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	size := f.Size
	if size == 0 {
		size = DefaultTextHeight
	}

	z := geom.FeatureBaseZ(w.cfg.Extents, f.Face, w.cfg.Depth)
	if f.Face == geom.FaceBottom {
		z -= beyond
	}

	start := time.Now()
	s, err := w.k.Text(ctx, kernel.TextSpec{
		Text:     f.Text,
		Font:     w.cfg.Font,
		FontPath: w.cfg.FontPath,
		Size:     size,
		Height:   height,
		X:        f.X,
		Y:        f.Y,
		Z:        z,
		Align:    kernel.AlignLeft,
		Mirror:   f.Face == geom.FaceBottom,
	})
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, f.Text, err)
	}
	w.logger.Debug(op, "text", f.Text, "face", f.Face, "elapsed", time.Since(start).Round(time.Millisecond))
	return s, nil
}
