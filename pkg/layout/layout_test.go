package layout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel/kerneltest"
	"github.com/chazu/printmycard/pkg/matrix"
)

var card = geom.Extents{Width: 84.5, Depth: 54, Thickness: 1.6}

// corner has three filled cells: top-left, top-right and bottom-left.
var corner = matrix.Matrix{
	{true, false, true},
	{false, false, false},
	{true, false, false},
}

func params(face geom.Face) Params {
	return Params{CenterX: 10, CenterY: -5, CellSize: 2, Depth: 0.4, Extents: card, Face: face}
}

func TestLayoutCoordinates(t *testing.T) {
	cells, err := Layout(corner, params(geom.FaceTop))
	require.NoError(t, err)
	require.Len(t, cells, 3)

	// total = 6, minX = 7, maxY = -2, topZ = 0.8.
	want := []geom.Vec3{
		{X: 7, Y: -4, Z: 0.4},  // row 0, col 0
		{X: 11, Y: -4, Z: 0.4}, // row 0, col 2
		{X: 7, Y: -8, Z: 0.4},  // row 2, col 0
	}
	for i, c := range cells {
		assert.InDelta(t, want[i].X, c.Min.X, 1e-9, "cell %d X", i)
		assert.InDelta(t, want[i].Y, c.Min.Y, 1e-9, "cell %d Y", i)
		assert.InDelta(t, want[i].Z, c.Min.Z, 1e-9, "cell %d Z", i)
		assert.Equal(t, 2.0, c.Edge)
		assert.Equal(t, 0.4, c.Depth)
	}
	assert.InDelta(t, 0.8, cells[0].Max().Z, 1e-9)
}

func TestLayoutFaceIsReflection(t *testing.T) {
	top, err := Layout(corner, params(geom.FaceTop))
	require.NoError(t, err)
	bottom, err := Layout(corner, params(geom.FaceBottom))
	require.NoError(t, err)
	require.Len(t, bottom, len(top))

	for i := range top {
		assert.Equal(t, top[i].Min.X, bottom[i].Min.X)
		assert.Equal(t, top[i].Min.Y, bottom[i].Min.Y)
		assert.InDelta(t, card.TopZ(), top[i].Max().Z, 1e-9)
		assert.InDelta(t, -card.TopZ(), bottom[i].Min.Z, 1e-9)
	}
}

func TestLayoutTilesFootprint(t *testing.T) {
	m, err := matrix.Encoder{}.Encode("https://example.com/", 2)
	require.NoError(t, err)

	p := Params{CenterX: 0, CenterY: 0, CellSize: 1.2, Depth: 0.4, Extents: card, Face: geom.FaceBottom}
	cells, err := Layout(m, p)
	require.NoError(t, err)
	assert.Len(t, cells, m.Filled())

	half := Footprint(m, p.CellSize) / 2
	seen := make(map[[2]int]bool)
	for _, c := range cells {
		assert.GreaterOrEqual(t, c.Min.X, -half-1e-9)
		assert.LessOrEqual(t, c.Max().X, half+1e-9)
		assert.GreaterOrEqual(t, c.Min.Y, -half-1e-9)
		assert.LessOrEqual(t, c.Max().Y, half+1e-9)

		// Each cell lands on its own grid slot.
		col := int((c.Min.X+half)/p.CellSize + 0.5)
		row := int((half-c.Max().Y)/p.CellSize + 0.5)
		require.True(t, m.At(row, col), "cell at unfilled slot (%d,%d)", row, col)
		require.False(t, seen[[2]int{row, col}], "slot (%d,%d) used twice", row, col)
		seen[[2]int{row, col}] = true
	}
}

func TestLayoutErrors(t *testing.T) {
	tests := []struct {
		name   string
		m      matrix.Matrix
		mutate func(*Params)
		code   errors.Code
	}{
		{"zero cell size", corner, func(p *Params) { p.CellSize = 0 }, errors.ErrCodeConfiguration},
		{"negative depth", corner, func(p *Params) { p.Depth = -1 }, errors.ErrCodeConfiguration},
		{"bad face", corner, func(p *Params) { p.Face = geom.Face(7) }, errors.ErrCodeConfiguration},
		{"bad extents", corner, func(p *Params) { p.Extents.Thickness = 0 }, errors.ErrCodeConfiguration},
		{"empty pattern", matrix.Matrix{{false, false}, {false, false}}, func(*Params) {}, errors.ErrCodeEmptyPattern},
		{"no matrix", nil, func(*Params) {}, errors.ErrCodeEmptyPattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params(geom.FaceTop)
			tt.mutate(&p)
			cells, err := Layout(tt.m, p)
			assert.Nil(t, cells)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestCompound(t *testing.T) {
	k := kerneltest.New()
	cells, err := Layout(corner, params(geom.FaceTop))
	require.NoError(t, err)

	s, err := Compound(context.Background(), k, cells)
	require.NoError(t, err)
	assert.Equal(t, 3, k.Count(kerneltest.OpBox))
	assert.Equal(t, 1, k.Count(kerneltest.OpUnion))

	for _, c := range cells {
		ctr := c.Center()
		assert.True(t, kerneltest.Contains(s, ctr.Array()), "center of %v not covered", c)
	}
	// The unfilled middle slot stays empty.
	assert.False(t, kerneltest.Contains(s, [3]float64{10, -5, 0.6}))

	min, max := s.BoundingBox()
	assert.InDelta(t, 7, min[0], 1e-9)
	assert.InDelta(t, 13, max[0], 1e-9)
	assert.InDelta(t, 0.4, min[2], 1e-9)
	assert.InDelta(t, 0.8, max[2], 1e-9)

	_, err = Compound(context.Background(), k, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeEmptyPattern))
}

func TestExtend(t *testing.T) {
	cells, err := Layout(corner, params(geom.FaceTop))
	require.NoError(t, err)
	assert.Equal(t, cells, Extend(cells, geom.FaceTop, 0))

	top := Extend(cells, geom.FaceTop, 0.01)
	assert.InDelta(t, 0.4, top[0].Min.Z, 1e-9)
	assert.InDelta(t, 0.81, top[0].Max().Z, 1e-9)
	// The input is not modified.
	assert.Equal(t, 0.4, cells[0].Depth)

	cells, err = Layout(corner, params(geom.FaceBottom))
	require.NoError(t, err)
	bottom := Extend(cells, geom.FaceBottom, 0.01)
	assert.InDelta(t, -0.81, bottom[0].Min.Z, 1e-9)
	assert.InDelta(t, -0.4, bottom[0].Max().Z, 1e-9)
}
