package engine

import (
	"context"
	"fmt"

	"github.com/chazu/printmycard/pkg/carve"
	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/scene"
)

// OpKind identifies a carving operation.
type OpKind int

const (
	OpCarveText OpKind = iota
	OpCarveCode
	OpBatch
	OpFillText
	OpRaisedText
	OpFillCode
)

var opNames = map[OpKind]string{
	OpCarveText:  "carve-text",
	OpCarveCode:  "carve-code",
	OpBatch:      "batch",
	OpFillText:   "fill-text",
	OpRaisedText: "raised-text",
	OpFillCode:   "fill-code",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one step of a Program.
type Op struct {
	Kind  OpKind
	Text  *carve.TextFeature // text ops
	Code  *carve.CodeFeature // code ops
	Extra float64            // raised-text
	Batch []Op               // batch: carve ops only

	// Fillers only.
	Name  string
	Color string
}

// IsFiller reports whether the op produces a scene part.
func (o Op) IsFiller() bool {
	return o.Kind == OpFillText || o.Kind == OpRaisedText || o.Kind == OpFillCode
}

// Program is an evaluated design script: one blank and its operations in
// source order.
type Program struct {
	Extents geom.Extents
	Radius  float64 // 0 = plain box
	Color   string
	Ops     []Op

	Warnings []EvalWarning
}

// Config returns base with the program's extents.
func (p *Program) Config(base carve.Config) carve.Config {
	base.Extents = p.Extents
	return base
}

type filler struct {
	name  string
	solid kernel.Solid
	color string
}

// Run executes the program on w in order and consumes it. The blank is
// materialized from the program unless w already holds one, in which case
// its extents must match the program's.
func Run(ctx context.Context, p *Program, w *carve.Workpiece) (*scene.Scene, error) {
	if p == nil {
		return nil, errors.New(errors.ErrCodeInternal, "nil program")
	}
	if err := w.SetExtents(p.Extents); err != nil {
		return nil, err
	}
	if w.State() == carve.StateUninitialized {
		var err error
		if p.Radius > 0 {
			err = w.InitializeRoundedBox(p.Radius)
		} else {
			err = w.InitializePlainBox()
		}
		if err != nil {
			return nil, err
		}
	}

	var fillers []filler
	for i, op := range p.Ops {
		s, err := runOp(ctx, w, op)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i+1, op.Kind, err)
		}
		if op.IsFiller() {
			fillers = append(fillers, filler{name: op.Name, solid: s, color: op.Color})
		}
	}

	final, err := w.Finish()
	if err != nil {
		return nil, err
	}
	sc := scene.New(final, p.Color)
	for _, f := range fillers {
		if err := sc.Add(f.name, f.solid, f.color); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func runOp(ctx context.Context, w *carve.Workpiece, op Op) (kernel.Solid, error) {
	switch op.Kind {
	case OpCarveText:
		return w.CarveText(ctx, *op.Text)
	case OpCarveCode:
		return w.CarveMatrixCode(ctx, *op.Code)
	case OpBatch:
		cutouts := make([]kernel.Solid, 0, len(op.Batch))
		for _, c := range op.Batch {
			var (
				s   kernel.Solid
				err error
			)
			switch c.Kind {
			case OpCarveText:
				s, err = w.TextCutout(ctx, *c.Text)
			case OpCarveCode:
				s, err = w.CodeCutout(ctx, *c.Code)
			default:
				err = errors.New(errors.ErrCodeInternal, "%s cannot be batched", c.Kind)
			}
			if err != nil {
				return nil, err
			}
			cutouts = append(cutouts, s)
		}
		return w.BatchSubtract(ctx, cutouts...)
	case OpFillText:
		return w.FillText(ctx, *op.Text)
	case OpRaisedText:
		return w.RaisedText(ctx, *op.Text, op.Extra)
	case OpFillCode:
		return w.FillMatrixCode(ctx, *op.Code)
	}
	return nil, errors.New(errors.ErrCodeInternal, "unknown op %s", op.Kind)
}
