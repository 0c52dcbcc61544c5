// Package layout maps the filled cells of a code matrix onto one face of
// the card blank.
//
// The matrix is centered on the requested point. Row 0 is the top (max Y)
// row and column 0 the left (min X) column. Every cell sits flush with the
// chosen face and reaches Depth into the blank.
package layout

import (
	"context"
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/matrix"
)

// Cell is one filled matrix cell in card coordinates.
type Cell struct {
	Min   geom.Vec3 // minimum corner
	Edge  float64   // side length in X and Y
	Depth float64   // extent along Z
}

// Max returns the maximum corner.
func (c Cell) Max() geom.Vec3 {
	return c.Min.Add(geom.Vec3{X: c.Edge, Y: c.Edge, Z: c.Depth})
}

// Center returns the cell's center point.
func (c Cell) Center() geom.Vec3 {
	return c.Min.Add(geom.Vec3{X: c.Edge / 2, Y: c.Edge / 2, Z: c.Depth / 2})
}

func (c Cell) String() string {
	return fmt.Sprintf("cell(%g,%g,%g +%g/%g)", c.Min.X, c.Min.Y, c.Min.Z, c.Edge, c.Depth)
}

// Params places a matrix on the card.
type Params struct {
	CenterX, CenterY float64
	CellSize         float64
	Depth            float64
	Extents          geom.Extents
	Face             geom.Face
}

// Validate checks the parameters without touching geometry.
func (p Params) Validate() error {
	if !(p.CellSize > 0) || math.IsInf(p.CellSize, 0) {
		return errors.New(errors.ErrCodeConfiguration, "cell size must be positive, got %g", p.CellSize)
	}
	if !(p.Depth > 0) || math.IsInf(p.Depth, 0) {
		return errors.New(errors.ErrCodeConfiguration, "depth must be positive, got %g", p.Depth)
	}
	if !p.Face.Valid() {
		return errors.New(errors.ErrCodeConfiguration, "unsupported face %v", p.Face)
	}
	return p.Extents.Validate()
}

// Footprint returns the side length of the square the matrix occupies.
func Footprint(m matrix.Matrix, cellSize float64) float64 {
	return float64(m.Size()) * cellSize
}

// Layout returns one Cell per filled matrix entry, in row-major order. A
// matrix with no filled cells is an EMPTY_PATTERN error.
func Layout(m matrix.Matrix, p Params) ([]Cell, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	total := Footprint(m, p.CellSize)
	minX := p.CenterX - total/2
	maxY := p.CenterY + total/2
	z := geom.FeatureBaseZ(p.Extents, p.Face, p.Depth)

	cells := make([]Cell, 0, m.Filled())
	for row := range m {
		for col, filled := range m[row] {
			if !filled {
				continue
			}
			cellMaxY := maxY - float64(row)*p.CellSize
			cells = append(cells, Cell{
				Min: geom.Vec3{
					X: minX + float64(col)*p.CellSize,
					Y: cellMaxY - p.CellSize,
					Z: z,
				},
				Edge:  p.CellSize,
				Depth: p.Depth,
			})
		}
	}
	if len(cells) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyPattern, "matrix of size %d has no filled cells", m.Size())
	}
	return cells, nil
}

// Compound builds one box per cell, placed at the cell's center, and merges
// them into a single solid. The result serves both as a subtraction volume
// and as a standalone filler.
func Compound(ctx context.Context, k kernel.Kernel, cells []Cell) (kernel.Solid, error) {
	if len(cells) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyPattern, "no cells to merge")
	}
	parts := make([]kernel.Solid, 0, len(cells))
	for _, c := range cells {
		b, err := k.Box(c.Edge, c.Edge, c.Depth)
		if err != nil {
			return nil, fmt.Errorf("cell box: %w", err)
		}
		ctr := c.Center()
		parts = append(parts, k.Translate(b, ctr.X, ctr.Y, ctr.Z))
	}
	return k.Union(ctx, parts...)
}

// Extend grows every cell by eps beyond the face it is flush with, so a
// subtraction never leaves a coplanar skin on that face.
func Extend(cells []Cell, face geom.Face, eps float64) []Cell {
	if eps <= 0 {
		return cells
	}
	return lo.Map(cells, func(c Cell, _ int) Cell {
		c.Depth += eps
		if face == geom.FaceBottom {
			c.Min.Z -= eps
		}
		return c
	})
}
