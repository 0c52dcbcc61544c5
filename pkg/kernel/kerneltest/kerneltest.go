// Package kerneltest provides an in-memory kernel.Kernel for tests.
//
// Solids are kept as a CSG tree of axis-aligned boxes, rounded boxes and
// text placeholders. Point membership is exact for that tree, so tests can
// compare solids by sampling instead of inspecting meshes. The kernel counts
// every call and can be told to fail a given operation.
package kerneltest

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/kernel"
)

// Operation names used by Count and Fail.
const (
	OpBox        = "box"
	OpRoundedBox = "rounded-box"
	OpText       = "text"
	OpUnion      = "union"
	OpDifference = "difference"
	OpToMesh     = "to-mesh"
)

// GlyphAdvance is the fraction of the text size each rune occupies along X.
const GlyphAdvance = 0.6

type shape int

const (
	shapeBox shape = iota
	shapeRounded
	shapeText
	shapeTranslate
	shapeUnion
	shapeDifference
)

// Solid is the fake kernel's solid. It is immutable once returned.
type Solid struct {
	ID       int
	kind     shape
	min, max [3]float64
	radius   float64
	text     string
	offset   [3]float64
	children []*Solid
}

var _ kernel.Solid = (*Solid)(nil)

// Text returns the text a text solid was built from, or "".
func (s *Solid) Text() string {
	return s.text
}

// BoundingBox returns the axis-aligned bounding box.
func (s *Solid) BoundingBox() (min, max [3]float64) {
	switch s.kind {
	case shapeTranslate:
		cmin, cmax := s.children[0].BoundingBox()
		for i := 0; i < 3; i++ {
			cmin[i] += s.offset[i]
			cmax[i] += s.offset[i]
		}
		return cmin, cmax
	case shapeUnion:
		min, max = s.children[0].BoundingBox()
		for _, c := range s.children[1:] {
			cmin, cmax := c.BoundingBox()
			for i := 0; i < 3; i++ {
				min[i] = math.Min(min[i], cmin[i])
				max[i] = math.Max(max[i], cmax[i])
			}
		}
		return min, max
	case shapeDifference:
		return s.children[0].BoundingBox()
	default:
		return s.min, s.max
	}
}

// Contains reports whether p lies inside the solid. Boxes are half-open
// ([min, max)) so that adjacent cells tile without overlap.
func (s *Solid) Contains(p [3]float64) bool {
	switch s.kind {
	case shapeBox, shapeText:
		return inBox(p, s.min, s.max)
	case shapeRounded:
		if !inBox(p, s.min, s.max) {
			return false
		}
		r := s.radius
		cx := math.Max(s.min[0]+r, math.Min(p[0], s.max[0]-r))
		cy := math.Max(s.min[1]+r, math.Min(p[1], s.max[1]-r))
		return math.Hypot(p[0]-cx, p[1]-cy) <= r
	case shapeTranslate:
		q := [3]float64{p[0] - s.offset[0], p[1] - s.offset[1], p[2] - s.offset[2]}
		return s.children[0].Contains(q)
	case shapeUnion:
		for _, c := range s.children {
			if c.Contains(p) {
				return true
			}
		}
		return false
	case shapeDifference:
		if !s.children[0].Contains(p) {
			return false
		}
		for _, c := range s.children[1:] {
			if c.Contains(p) {
				return false
			}
		}
		return true
	}
	return false
}

func inBox(p, min, max [3]float64) bool {
	for i := 0; i < 3; i++ {
		if p[i] < min[i] || p[i] >= max[i] {
			return false
		}
	}
	return true
}

// Kernel is a recording in-memory kernel.Kernel. It is safe for concurrent use.
type Kernel struct {
	mu     sync.Mutex
	nextID int
	calls  map[string]int
	fail   map[string]error
}

var _ kernel.Kernel = (*Kernel)(nil)

// New returns an empty fake kernel.
func New() *Kernel {
	return &Kernel{
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// Fail makes every subsequent call of op return err. A nil err clears it.
func (k *Kernel) Fail(op string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err == nil {
		delete(k.fail, op)
		return
	}
	k.fail[op] = err
}

// Count returns how many times op has been called.
func (k *Kernel) Count(op string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls[op]
}

// record counts a call and returns the injected failure, if any.
func (k *Kernel) record(op string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls[op]++
	return k.fail[op]
}

func (k *Kernel) newSolid(s Solid) *Solid {
	k.mu.Lock()
	k.nextID++
	s.ID = k.nextID
	k.mu.Unlock()
	return &s
}

func unwrap(s kernel.Solid) (*Solid, error) {
	fs, ok := s.(*Solid)
	if !ok || fs == nil {
		return nil, errors.New(errors.ErrCodeInternal, "kerneltest: foreign solid %T", s)
	}
	return fs, nil
}

// Box returns a box centered on the origin.
func (k *Kernel) Box(x, y, z float64) (kernel.Solid, error) {
	if err := k.record(OpBox); err != nil {
		return nil, err
	}
	if x <= 0 || y <= 0 || z <= 0 {
		return nil, errors.New(errors.ErrCodeConfiguration, "box dimensions must be positive, got %g x %g x %g", x, y, z)
	}
	return k.newSolid(Solid{
		kind: shapeBox,
		min:  [3]float64{-x / 2, -y / 2, -z / 2},
		max:  [3]float64{x / 2, y / 2, z / 2},
	}), nil
}

// RoundedBox returns a box with rounded vertical edges centered on the origin.
func (k *Kernel) RoundedBox(x, y, z, radius float64) (kernel.Solid, error) {
	if err := k.record(OpRoundedBox); err != nil {
		return nil, err
	}
	if x <= 0 || y <= 0 || z <= 0 {
		return nil, errors.New(errors.ErrCodeConfiguration, "box dimensions must be positive, got %g x %g x %g", x, y, z)
	}
	if radius < 0 || 2*radius >= math.Min(x, y) {
		return nil, errors.New(errors.ErrCodeConfiguration, "corner radius %g does not fit a %g x %g box", radius, x, y)
	}
	return k.newSolid(Solid{
		kind:   shapeRounded,
		min:    [3]float64{-x / 2, -y / 2, -z / 2},
		max:    [3]float64{x / 2, y / 2, z / 2},
		radius: radius,
	}), nil
}

// Text returns a rectangle standing in for the glyph outlines: each rune
// advances GlyphAdvance*Size along X, and the ink is Size tall.
func (k *Kernel) Text(ctx context.Context, spec kernel.TextSpec) (kernel.Solid, error) {
	if err := k.record(OpText); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Text == "" {
		return nil, errors.New(errors.ErrCodeKernelFailure, "text outline is empty")
	}
	width := float64(len([]rune(spec.Text))) * spec.Size * GlyphAdvance
	x0 := spec.X
	switch {
	case spec.Align == kernel.AlignCenter:
		x0 -= width / 2
	case spec.Mirror:
		x0 -= width
	}
	return k.newSolid(Solid{
		kind: shapeText,
		text: spec.Text,
		min:  [3]float64{x0, spec.Y - spec.Size/2, spec.Z},
		max:  [3]float64{x0 + width, spec.Y + spec.Size/2, spec.Z + spec.Height},
	}), nil
}

// Translate moves a solid by (x, y, z). It panics if s comes from
// another kernel.
func (k *Kernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	fs, err := unwrap(s)
	if err != nil {
		panic(err)
	}
	return k.newSolid(Solid{
		kind:     shapeTranslate,
		offset:   [3]float64{x, y, z},
		children: []*Solid{fs},
	})
}

// Union merges solids. A single solid is returned unchanged.
func (k *Kernel) Union(ctx context.Context, solids ...kernel.Solid) (kernel.Solid, error) {
	if err := k.record(OpUnion); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(solids) == 0 {
		return nil, errors.New(errors.ErrCodeInternal, "union of zero solids")
	}
	if len(solids) == 1 {
		return solids[0], nil
	}
	children, err := unwrapAll(solids)
	if err != nil {
		return nil, err
	}
	return k.newSolid(Solid{kind: shapeUnion, children: children}), nil
}

// Difference subtracts every solid in subtract from base.
func (k *Kernel) Difference(ctx context.Context, base kernel.Solid, subtract ...kernel.Solid) (kernel.Solid, error) {
	if err := k.record(OpDifference); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, err := unwrapAll(append([]kernel.Solid{base}, subtract...))
	if err != nil {
		return nil, err
	}
	return k.newSolid(Solid{kind: shapeDifference, children: children}), nil
}

// ToMesh returns the 12-triangle mesh of the solid's bounding box.
func (k *Kernel) ToMesh(ctx context.Context, s kernel.Solid) (*kernel.Mesh, error) {
	if err := k.record(OpToMesh); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	min, max := s.BoundingBox()
	return BoxMesh(min, max), nil
}

func unwrapAll(solids []kernel.Solid) ([]*Solid, error) {
	out := make([]*Solid, 0, len(solids))
	for _, s := range solids {
		fs, err := unwrap(s)
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, nil
}

// BoxMesh triangulates an axis-aligned box.
func BoxMesh(min, max [3]float64) *kernel.Mesh {
	c := func(x, y, z int) [3]float32 {
		pick := func(i, sel int) float32 {
			if sel == 0 {
				return float32(min[i])
			}
			return float32(max[i])
		}
		return [3]float32{pick(0, x), pick(1, y), pick(2, z)}
	}
	quads := [][4][3]float32{
		{c(0, 0, 0), c(0, 1, 0), c(1, 1, 0), c(1, 0, 0)}, // -Z
		{c(0, 0, 1), c(1, 0, 1), c(1, 1, 1), c(0, 1, 1)}, // +Z
		{c(0, 0, 0), c(1, 0, 0), c(1, 0, 1), c(0, 0, 1)}, // -Y
		{c(0, 1, 0), c(0, 1, 1), c(1, 1, 1), c(1, 1, 0)}, // +Y
		{c(0, 0, 0), c(0, 0, 1), c(0, 1, 1), c(0, 1, 0)}, // -X
		{c(1, 0, 0), c(1, 1, 0), c(1, 1, 1), c(1, 0, 1)}, // +X
	}
	m := &kernel.Mesh{}
	for _, q := range quads {
		n := kernel.FaceNormal(q[0], q[1], q[2])
		m.AppendTriangle(q[0], q[1], q[2], n)
		m.AppendTriangle(q[0], q[2], q[3], n)
	}
	return m
}

// Contains reports whether p lies inside s, which must come from this package.
func Contains(s kernel.Solid, p [3]float64) bool {
	fs, err := unwrap(s)
	if err != nil {
		panic(err)
	}
	return fs.Contains(p)
}

// Equivalent samples both solids on a grid of the given step over the union
// of their bounding boxes and reports whether membership agrees everywhere.
// Sample points sit at cell centers.
func Equivalent(a, b kernel.Solid, step float64) bool {
	amin, amax := a.BoundingBox()
	bmin, bmax := b.BoundingBox()
	var min, max [3]float64
	for i := 0; i < 3; i++ {
		min[i] = math.Min(amin[i], bmin[i])
		max[i] = math.Max(amax[i], bmax[i])
	}
	for x := min[0] + step/2; x < max[0]; x += step {
		for y := min[1] + step/2; y < max[1]; y += step {
			for z := min[2] + step/2; z < max[2]; z += step {
				p := [3]float64{x, y, z}
				if Contains(a, p) != Contains(b, p) {
					return false
				}
			}
		}
	}
	return true
}

// String describes the solid tree; handy in test failure messages.
func (s *Solid) String() string {
	switch s.kind {
	case shapeBox:
		return fmt.Sprintf("box%v-%v", s.min, s.max)
	case shapeRounded:
		return fmt.Sprintf("rounded(r=%g)%v-%v", s.radius, s.min, s.max)
	case shapeText:
		return fmt.Sprintf("text(%q)", s.text)
	case shapeTranslate:
		return fmt.Sprintf("translate%v(%s)", s.offset, s.children[0])
	case shapeUnion:
		return fmt.Sprintf("union(%d)", len(s.children))
	case shapeDifference:
		return fmt.Sprintf("difference(%s - %d)", s.children[0], len(s.children)-1)
	}
	return "?"
}
