package carve

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/kernel/kerneltest"
	"github.com/chazu/printmycard/pkg/matrix"
)

var card = geom.Extents{Width: 84.5, Depth: 54, Thickness: 1.6}

func newWorkpiece(t *testing.T, k kernel.Kernel, mutate ...func(*Config)) *Workpiece {
	t.Helper()
	cfg := DefaultConfig(card)
	for _, m := range mutate {
		m(&cfg)
	}
	w, err := New(k, cfg)
	require.NoError(t, err)
	return w
}

type blankBitmap struct{}

func (blankBitmap) Bitmap(string, matrix.Level) (matrix.Matrix, error) {
	return matrix.Matrix{{false, false}, {false, false}}, nil
}

type failingBitmap struct{}

func (failingBitmap) Bitmap(string, matrix.Level) (matrix.Matrix, error) {
	return nil, stderrors.New("data too long")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero depth", func(c *Config) { c.Depth = 0 }},
		{"depth beyond thickness", func(c *Config) { c.Depth = 2 }},
		{"zero cell size", func(c *Config) { c.Code.CellSize = 0 }},
		{"negative border", func(c *Config) { c.Code.Border = -1 }},
		{"negative epsilon", func(c *Config) { c.Epsilon = -0.1 }},
		{"flat blank", func(c *Config) { c.Extents.Thickness = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(card)
			tt.mutate(&cfg)
			_, err := New(kerneltest.New(), cfg)
			assert.True(t, errors.Is(err, errors.ErrCodeConfiguration), "got %v", err)
		})
	}

	_, err := New(nil, DefaultConfig(card))
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	k := kerneltest.New()
	w := newWorkpiece(t, k)
	assert.Equal(t, StateUninitialized, w.State())

	require.NoError(t, w.InitializeRoundedBox(3))
	assert.Equal(t, StateReady, w.State())
	assert.Equal(t, 1, k.Count(kerneltest.OpRoundedBox))

	// No way back to Uninitialized.
	assert.True(t, errors.Is(w.InitializePlainBox(), errors.ErrCodeConfiguration))
	assert.True(t, errors.Is(w.InitializeRoundedBox(2), errors.ErrCodeConfiguration))

	s, err := w.Finish()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, StateConsumed, w.State())

	_, err = w.CarveText(context.Background(), TextFeature{Text: "A"})
	assert.Error(t, err)
	_, err = w.Solid()
	assert.Error(t, err)
	_, err = w.BatchSubtract(context.Background())
	assert.Error(t, err)
	_, err = w.Finish()
	assert.Error(t, err)
}

func TestRoundedBoxMatchesPlainBoxCentering(t *testing.T) {
	k := kerneltest.New()
	plain := newWorkpiece(t, k)
	require.NoError(t, plain.InitializePlainBox())
	rounded := newWorkpiece(t, k)
	require.NoError(t, rounded.InitializeRoundedBox(3))

	ps, _ := plain.Solid()
	rs, _ := rounded.Solid()
	pmin, pmax := ps.BoundingBox()
	rmin, rmax := rs.BoundingBox()
	assert.Equal(t, pmin, rmin)
	assert.Equal(t, pmax, rmax)
	assert.Equal(t, [3]float64{-42.25, -27, -0.8}, pmin)
}

func TestLazyMaterialization(t *testing.T) {
	k := kerneltest.New()
	w := newWorkpiece(t, k)

	_, err := w.FillText(context.Background(), TextFeature{X: -30, Y: 20, Text: "A"})
	require.NoError(t, err)
	assert.Equal(t, StateReady, w.State())
	assert.Equal(t, 1, k.Count(kerneltest.OpBox))

	// Already materialized; initializers now fail.
	assert.Error(t, w.InitializeRoundedBox(3))
}

func TestSetExtents(t *testing.T) {
	w := newWorkpiece(t, kerneltest.New())
	other := geom.Extents{Width: 90, Depth: 50, Thickness: 2}

	// Before materialization the blank can still be resized.
	require.NoError(t, w.SetExtents(other))
	require.NoError(t, w.InitializePlainBox())
	before, _ := w.Solid()

	require.NoError(t, w.SetExtents(other))
	err := w.SetExtents(card)
	assert.True(t, errors.Is(err, errors.ErrCodeConfiguration))
	after, _ := w.Solid()
	assert.Same(t, before, after)
	assert.Equal(t, other, w.Extents())
}

func TestCarveTextTopFace(t *testing.T) {
	k := kerneltest.New()
	w := newWorkpiece(t, k)
	require.NoError(t, w.InitializePlainBox())

	s, err := w.CarveText(context.Background(), TextFeature{X: -30, Y: 20, Text: "A", Size: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, k.Count(kerneltest.OpDifference))

	cur, _ := w.Solid()
	assert.Same(t, s, cur)
	// Inside the glyph, above carve depth: removed. Below it: kept.
	assert.False(t, kerneltest.Contains(s, [3]float64{-29, 20, 0.7}))
	assert.True(t, kerneltest.Contains(s, [3]float64{-29, 20, 0.3}))
	assert.True(t, kerneltest.Contains(s, [3]float64{-20, 20, 0.7}))
}

func TestTextOnBottomFaceIsMirrored(t *testing.T) {
	w := newWorkpiece(t, kerneltest.New())
	s, err := w.FillText(context.Background(), TextFeature{X: 10, Y: 0, Text: "AB", Size: 4, Face: geom.FaceBottom})
	require.NoError(t, err)

	min, max := s.BoundingBox()
	assert.InDelta(t, 10, max[0], 1e-9)
	assert.InDelta(t, 10-2*4*kerneltest.GlyphAdvance, min[0], 1e-9)
	assert.InDelta(t, -0.8, min[2], 1e-9)
	assert.InDelta(t, -0.4, max[2], 1e-9)
}

func TestFillAndRaisedText(t *testing.T) {
	k := kerneltest.New()
	w := newWorkpiece(t, k, func(c *Config) { c.Epsilon = 0.01 })
	require.NoError(t, w.InitializePlainBox())
	before, _ := w.Solid()

	fill, err := w.FillText(context.Background(), TextFeature{X: 0, Y: 0, Text: "A"})
	require.NoError(t, err)
	min, max := fill.BoundingBox()
	assert.InDelta(t, 0.4, min[2], 1e-9)
	assert.InDelta(t, 0.8, max[2], 1e-9, "fillers ignore epsilon")
	assert.InDelta(t, DefaultTextHeight, max[1]-min[1], 1e-9)

	raised, err := w.RaisedText(context.Background(), TextFeature{X: 0, Y: 0, Text: "A", Size: 4}, 0.6)
	require.NoError(t, err)
	min, max = raised.BoundingBox()
	assert.InDelta(t, 0.4, min[2], 1e-9)
	assert.InDelta(t, 1.4, max[2], 1e-9)

	raisedBottom, err := w.RaisedText(context.Background(), TextFeature{Text: "A", Face: geom.FaceBottom}, 0.6)
	require.NoError(t, err)
	min, max = raisedBottom.BoundingBox()
	assert.InDelta(t, -1.4, min[2], 1e-9)
	assert.InDelta(t, -0.4, max[2], 1e-9)

	_, err = w.RaisedText(context.Background(), TextFeature{Text: "A"}, -1)
	assert.True(t, errors.Is(err, errors.ErrCodeConfiguration))

	// Nothing was subtracted.
	after, _ := w.Solid()
	assert.Same(t, before, after)
	assert.Zero(t, k.Count(kerneltest.OpDifference))
}

func TestEpsilonExtendsCutouts(t *testing.T) {
	w := newWorkpiece(t, kerneltest.New(), func(c *Config) { c.Epsilon = 0.05 })
	ctx := context.Background()

	top, err := w.TextCutout(ctx, TextFeature{Text: "A"})
	require.NoError(t, err)
	min, max := top.BoundingBox()
	assert.InDelta(t, 0.4, min[2], 1e-9)
	assert.InDelta(t, 0.85, max[2], 1e-9)

	bottom, err := w.CodeCutout(ctx, CodeFeature{Payload: "hi", Face: geom.FaceBottom})
	require.NoError(t, err)
	min, max = bottom.BoundingBox()
	assert.InDelta(t, -0.85, min[2], 1e-9)
	assert.InDelta(t, -0.4, max[2], 1e-9)

	fill, err := w.FillMatrixCode(ctx, CodeFeature{Payload: "hi", Face: geom.FaceBottom})
	require.NoError(t, err)
	min, max = fill.BoundingBox()
	assert.InDelta(t, -0.8, min[2], 1e-9)
	assert.InDelta(t, -0.4, max[2], 1e-9)
}

func TestTextValidation(t *testing.T) {
	w := newWorkpiece(t, kerneltest.New())
	ctx := context.Background()

	_, err := w.CarveText(ctx, TextFeature{Text: "  "})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	_, err = w.CarveText(ctx, TextFeature{Text: "A", Size: -1})
	assert.True(t, errors.Is(err, errors.ErrCodeConfiguration))
	_, err = w.CarveText(ctx, TextFeature{Text: "A", Face: geom.Face(3)})
	assert.True(t, errors.Is(err, errors.ErrCodeConfiguration))
	assert.Equal(t, StateUninitialized, w.State())
}

func TestFailedCarveLeavesSolidUntouched(t *testing.T) {
	k := kerneltest.New()
	w := newWorkpiece(t, k)
	require.NoError(t, w.InitializePlainBox())
	before, _ := w.Solid()

	boom := errors.New(errors.ErrCodeKernelFailure, "boolean failed")
	k.Fail(kerneltest.OpDifference, boom)

	_, err := w.CarveText(context.Background(), TextFeature{Text: "A"})
	assert.True(t, errors.Is(err, errors.ErrCodeKernelFailure))
	_, err = w.CarveMatrixCode(context.Background(), CodeFeature{Payload: "hi"})
	assert.True(t, errors.Is(err, errors.ErrCodeKernelFailure))
	_, err = w.BatchSubtract(context.Background(), before)
	assert.True(t, errors.Is(err, errors.ErrCodeKernelFailure))

	after, _ := w.Solid()
	assert.Same(t, before, after)

	k.Fail(kerneltest.OpDifference, nil)
	k.Fail(kerneltest.OpText, errors.New(errors.ErrCodeMissingDependency, "no openscad"))
	_, err = w.CarveText(context.Background(), TextFeature{Text: "A"})
	assert.True(t, errors.Is(err, errors.ErrCodeMissingDependency))
	after, _ = w.Solid()
	assert.Same(t, before, after)
}

func TestFailedFirstCarveStaysUninitialized(t *testing.T) {
	k := kerneltest.New()
	k.Fail(kerneltest.OpDifference, errors.New(errors.ErrCodeKernelFailure, "boolean failed"))
	w := newWorkpiece(t, k)

	_, err := w.CarveText(context.Background(), TextFeature{Text: "A"})
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, w.State())
	require.NoError(t, w.InitializeRoundedBox(3))
}

func TestBatchSubtract(t *testing.T) {
	ctx := context.Background()
	small := geom.Extents{Width: 10, Depth: 10, Thickness: 2}
	newSmall := func(k kernel.Kernel) *Workpiece {
		cfg := DefaultConfig(small)
		w, err := New(k, cfg)
		require.NoError(t, err)
		require.NoError(t, w.InitializePlainBox())
		return w
	}

	t.Run("empty batch is identity", func(t *testing.T) {
		k := kerneltest.New()
		w := newSmall(k)
		before, _ := w.Solid()
		got, err := w.BatchSubtract(ctx)
		require.NoError(t, err)
		assert.Same(t, before, got)
		assert.Zero(t, k.Count(kerneltest.OpDifference))
	})

	t.Run("single batch equals plain carve", func(t *testing.T) {
		k := kerneltest.New()
		f := TextFeature{X: -4, Y: 1, Text: "AB", Size: 2}

		batched := newSmall(k)
		cut, err := batched.TextCutout(ctx, f)
		require.NoError(t, err)
		a, err := batched.BatchSubtract(ctx, cut)
		require.NoError(t, err)

		single := newSmall(k)
		b, err := single.CarveText(ctx, f)
		require.NoError(t, err)

		assert.True(t, kerneltest.Equivalent(a, b, 0.25))
	})

	t.Run("many features in one pass", func(t *testing.T) {
		k := kerneltest.New()
		w := newSmall(k)
		t1, err := w.TextCutout(ctx, TextFeature{X: -4, Y: 3, Text: "A", Size: 2})
		require.NoError(t, err)
		t2, err := w.TextCutout(ctx, TextFeature{X: -4, Y: -3, Text: "B", Size: 2, Face: geom.FaceBottom})
		require.NoError(t, err)
		code, err := w.CodeCutout(ctx, CodeFeature{X: 2, Y: 0, Payload: "x", CellSize: 0.2, Border: Border(0)})
		require.NoError(t, err)

		_, err = w.BatchSubtract(ctx, t1, t2, code)
		require.NoError(t, err)
		assert.Equal(t, 1, k.Count(kerneltest.OpDifference))
	})
}

func TestMatrixCodeErrors(t *testing.T) {
	ctx := context.Background()

	k := kerneltest.New()
	cfg := DefaultConfig(card)
	w, err := New(k, cfg, WithBitmapper(blankBitmap{}))
	require.NoError(t, err)
	require.NoError(t, w.InitializePlainBox())
	before, _ := w.Solid()

	_, err = w.CarveMatrixCode(ctx, CodeFeature{Payload: "x"})
	assert.True(t, errors.Is(err, errors.ErrCodeEmptyPattern))
	_, err = w.FillMatrixCode(ctx, CodeFeature{Payload: "x"})
	assert.True(t, errors.Is(err, errors.ErrCodeEmptyPattern))
	assert.Zero(t, k.Count(kerneltest.OpBox)-1, "no cell boxes built")
	after, _ := w.Solid()
	assert.Same(t, before, after)

	w, err = New(k, cfg, WithBitmapper(failingBitmap{}))
	require.NoError(t, err)
	_, err = w.CarveMatrixCode(ctx, CodeFeature{Payload: "x"})
	assert.True(t, errors.Is(err, errors.ErrCodeEncodingFailure))

	w = newWorkpiece(t, k)
	_, err = w.CarveMatrixCode(ctx, CodeFeature{Payload: "x", Border: Border(-1)})
	assert.True(t, errors.Is(err, errors.ErrCodeConfiguration))
	_, err = w.CarveMatrixCode(ctx, CodeFeature{Payload: "x", CellSize: -1})
	assert.True(t, errors.Is(err, errors.ErrCodeConfiguration))
}

func TestCodeDefaults(t *testing.T) {
	w := newWorkpiece(t, kerneltest.New())
	inner, err := matrix.Encoder{}.Encode("https://example.com/", 0)
	require.NoError(t, err)

	m, err := w.Matrix(CodeFeature{Payload: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, inner.Size()+2*DefaultBorder, m.Size())

	m, err = w.Matrix(CodeFeature{Payload: "https://example.com/", Border: Border(0)})
	require.NoError(t, err)
	assert.Equal(t, inner.Size(), m.Size())

	cells, err := w.CodeCells(CodeFeature{Payload: "https://example.com/"})
	require.NoError(t, err)
	assert.Len(t, cells, inner.Filled())
	assert.Equal(t, DefaultCellSize, cells[0].Edge)
}

// The reference session: text on top, a code on the bottom, and one
// filler per feature.
func runScenario(t *testing.T) (final kernel.Solid, fillers []kernel.Solid) {
	t.Helper()
	ctx := context.Background()
	w := newWorkpiece(t, kerneltest.New())
	require.NoError(t, w.InitializePlainBox())

	text := TextFeature{X: -30, Y: 20, Text: "A"}
	code := CodeFeature{X: 0, Y: 0, Payload: "https://example.com/", Face: geom.FaceBottom, CellSize: 1.2, Border: Border(2)}

	_, err := w.CarveText(ctx, text)
	require.NoError(t, err)
	_, err = w.CarveMatrixCode(ctx, code)
	require.NoError(t, err)

	textFill, err := w.FillText(ctx, text)
	require.NoError(t, err)
	codeFill, err := w.FillMatrixCode(ctx, code)
	require.NoError(t, err)

	final, err = w.Finish()
	require.NoError(t, err)
	return final, []kernel.Solid{textFill, codeFill}
}

func TestCardScenario(t *testing.T) {
	final, fillers := runScenario(t)
	require.NotNil(t, final)
	require.Len(t, fillers, 2)

	// Text carved from the top face.
	assert.False(t, kerneltest.Contains(final, [3]float64{-29, 20, 0.6}))
	assert.True(t, kerneltest.Contains(final, [3]float64{-29, 20, 0.2}))

	// The code filler is flush with the bottom face. The card keeps its
	// top skin where the code was carved.
	min, max := fillers[1].BoundingBox()
	assert.InDelta(t, -0.8, min[2], 1e-9)
	assert.InDelta(t, -0.4, max[2], 1e-9)
	// Finder patterns fill the outer rows and columns of the inner
	// matrix, so the filled cells span a square centered on the anchor.
	assert.InDelta(t, 0, min[0]+max[0], 1e-9)
	assert.InDelta(t, 0, min[1]+max[1], 1e-9)
	ctr := [3]float64{min[0] + 0.6, max[1] - 0.6, -0.7}
	assert.False(t, kerneltest.Contains(final, ctr), "top-left finder cell carved")
	assert.True(t, kerneltest.Contains(final, [3]float64{ctr[0], ctr[1], 0.6}))

	// Re-running yields identical filler footprints.
	_, again := runScenario(t)
	for i := range fillers {
		amin, amax := fillers[i].BoundingBox()
		bmin, bmax := again[i].BoundingBox()
		assert.Equal(t, amin, bmin)
		assert.Equal(t, amax, bmax)
	}
}
