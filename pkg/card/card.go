// Package card turns one card design into one carving session and a
// named scene: a rounded blank, every non-empty text field and the code
// carved in a single boolean pass, and one filler per carved feature.
package card

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/chazu/printmycard/pkg/carve"
	"github.com/chazu/printmycard/pkg/design"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/matrix"
	"github.com/chazu/printmycard/pkg/scene"
)

// CodePartName is the scene name of the matrix-code filler.
const CodePartName = "qr_code"

// Settings are the session parameters that do not come from the design.
type Settings struct {
	Depth        float64            `json:"depth"`
	Epsilon      float64            `json:"epsilon"`
	TextHeight   float64            `json:"text_height"`
	RaisedHeight float64            `json:"raised_height"` // 0 = flush fillers
	Font         string             `json:"font"`
	FontPath     string             `json:"font_path"`
	Code         carve.CodeDefaults `json:"code"`
}

// DefaultSettings returns the standard card settings.
func DefaultSettings() Settings {
	return Settings{
		Depth:      carve.DefaultDepth,
		TextHeight: carve.DefaultTextHeight,
		Font:       carve.DefaultFont,
		Code: carve.CodeDefaults{
			CellSize: carve.DefaultCellSize,
			Border:   carve.DefaultBorder,
			Level:    matrix.DefaultLevel,
		},
	}
}

// CodeSettings returns the code settings for design validation.
func (s Settings) CodeSettings() design.CodeSettings {
	return design.CodeSettings{CellSize: s.Code.CellSize, Border: s.Code.Border, Level: s.Code.Level}
}

// Result is the outcome of one session.
type Result struct {
	Scene    *scene.Scene
	Warnings []design.Finding
}

// Builder runs card sessions against a kernel.
type Builder struct {
	Kernel   kernel.Kernel
	Settings Settings
	Logger   *log.Logger
}

type feature struct {
	name  string
	text  *carve.TextFeature
	code  *carve.CodeFeature
	color string
}

// Build validates req and runs one Workpiece session for it.
func (b *Builder) Build(ctx context.Context, req *design.CardRequest) (*Result, error) {
	logger := b.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	check := design.ValidateAll(req, b.Settings.CodeSettings())
	if err := check.Err(); err != nil {
		return nil, err
	}
	for _, w := range check.Warnings {
		logger.Warn("design", "field", w.Field, "warning", w.Message)
	}

	features, err := b.features(req)
	if err != nil {
		return nil, err
	}

	s := b.Settings
	w, err := carve.New(b.Kernel, carve.Config{
		Extents:  req.Design.Extents(),
		Depth:    s.Depth,
		Font:     s.Font,
		FontPath: s.FontPath,
		Code:     s.Code,
		Epsilon:  s.Epsilon,
	}, carve.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	logger.Debug("session started", "workpiece", w.ID(), "extents", w.Extents(), "features", len(features))

	if err := w.InitializeRoundedBox(req.Design.FilletRadius); err != nil {
		return nil, err
	}

	cutouts := make([]kernel.Solid, 0, len(features))
	for _, f := range features {
		var cut kernel.Solid
		if f.text != nil {
			cut, err = w.TextCutout(ctx, *f.text)
		} else {
			cut, err = w.CodeCutout(ctx, *f.code)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		cutouts = append(cutouts, cut)
	}
	if _, err := w.BatchSubtract(ctx, cutouts...); err != nil {
		return nil, err
	}

	fillers := make([]kernel.Solid, 0, len(features))
	for _, f := range features {
		var fill kernel.Solid
		switch {
		case f.code != nil:
			fill, err = w.FillMatrixCode(ctx, *f.code)
		case s.RaisedHeight > 0:
			fill, err = w.RaisedText(ctx, *f.text, s.RaisedHeight)
		default:
			fill, err = w.FillText(ctx, *f.text)
		}
		if err != nil {
			return nil, fmt.Errorf("%s filler: %w", f.name, err)
		}
		fillers = append(fillers, fill)
	}

	final, err := w.Finish()
	if err != nil {
		return nil, err
	}
	sc := scene.New(final, req.Design.Color)
	for i, f := range features {
		if err := sc.Add(f.name, fillers[i], f.color); err != nil {
			return nil, err
		}
	}
	logger.Debug("session finished", "workpiece", w.ID(), "parts", len(sc.Parts), "elapsed", time.Since(start).Round(time.Millisecond))
	return &Result{Scene: sc, Warnings: check.Warnings}, nil
}

// features maps the request onto carve features: the non-empty text
// fields in order, then the code.
func (b *Builder) features(req *design.CardRequest) ([]feature, error) {
	fields := lo.Filter(req.TextFields(), func(f design.TextField, _ int) bool { return f.IsSet() })
	out := make([]feature, 0, len(fields)+1)
	for _, f := range fields {
		face, err := geom.ParseFace(f.Position.Face)
		if err != nil {
			return nil, err
		}
		out = append(out, feature{
			name: f.PartName(),
			text: &carve.TextFeature{
				X: f.Position.X, Y: f.Position.Y,
				Text: f.Text,
				Size: b.Settings.TextHeight,
				Face: face,
			},
			color: req.Design.FontColor,
		})
	}

	p := req.Positions.QRCode
	face, err := geom.ParseFace(p.Face)
	if err != nil {
		return nil, err
	}
	out = append(out, feature{
		name:  CodePartName,
		code:  &carve.CodeFeature{X: p.X, Y: p.Y, Payload: req.Content.QRURL, Face: face},
		color: req.Design.FontColor,
	})
	return out, nil
}
