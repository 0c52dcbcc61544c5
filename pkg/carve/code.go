package carve

import (
	"context"
	"fmt"
	"time"

	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/layout"
	"github.com/chazu/printmycard/pkg/matrix"
)

// CodeFeature places a matrix code centered on (X, Y).
type CodeFeature struct {
	X, Y     float64
	Payload  string
	Face     geom.Face
	CellSize float64 // 0 means the session default
	Border   *int    // nil means the session default
}

// Border returns a pointer for CodeFeature.Border.
func Border(n int) *int { return &n }

// Matrix encodes the feature's payload with its effective border.
func (w *Workpiece) Matrix(f CodeFeature) (matrix.Matrix, error) {
	border := w.cfg.Code.Border
	if f.Border != nil {
		border = *f.Border
	}
	return w.enc.Encode(f.Payload, border)
}

// CodeCells encodes and lays out a code feature at carve depth.
func (w *Workpiece) CodeCells(f CodeFeature) ([]layout.Cell, error) {
	m, err := w.Matrix(f)
	if err != nil {
		return nil, err
	}
	cell := f.CellSize
	if cell == 0 {
		cell = w.cfg.Code.CellSize
	}
	return layout.Layout(m, layout.Params{
		CenterX:  f.X,
		CenterY:  f.Y,
		CellSize: cell,
		Depth:    w.cfg.Depth,
		Extents:  w.cfg.Extents,
		Face:     f.Face,
	})
}

// CarveMatrixCode subtracts the union of the code's cells from the current
// solid and returns the updated solid.
func (w *Workpiece) CarveMatrixCode(ctx context.Context, f CodeFeature) (kernel.Solid, error) {
	if err := w.checkNotConsumed(); err != nil {
		return nil, err
	}
	cut, err := w.CodeCutout(ctx, f)
	if err != nil {
		return nil, err
	}
	base, err := w.base()
	if err != nil {
		return nil, err
	}
	return w.subtract(ctx, "carve code", base, cut)
}

// CodeCutout returns the code's subtraction volume without changing the
// Workpiece. Cells are extended by Epsilon beyond their face.
func (w *Workpiece) CodeCutout(ctx context.Context, f CodeFeature) (kernel.Solid, error) {
	return w.code(ctx, "code cutout", f, w.cfg.Epsilon)
}

// FillMatrixCode returns the code's cells at exact carve depth merged into
// one standalone solid. The current solid is not changed.
func (w *Workpiece) FillMatrixCode(ctx context.Context, f CodeFeature) (kernel.Solid, error) {
	s, err := w.code(ctx, "fill code", f, 0)
	if err != nil {
		return nil, err
	}
	if err := w.materialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (w *Workpiece) code(ctx context.Context, op string, f CodeFeature, eps float64) (kernel.Solid, error) {
	if err := w.checkNotConsumed(); err != nil {
		return nil, err
	}
	cells, err := w.CodeCells(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cells = layout.Extend(cells, f.Face, eps)

	start := time.Now()
	s, err := layout.Compound(ctx, w.k, cells)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	w.logger.Debug(op, "cells", len(cells), "face", f.Face, "elapsed", time.Since(start).Round(time.Millisecond))
	return s, nil
}
