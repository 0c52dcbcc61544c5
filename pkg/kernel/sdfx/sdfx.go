// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library. It runs in-process, so it
// needs no external tool; booleans are exact on the distance field and only
// tessellation is lossy.
package sdfx

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// DefaultMeshCells controls marching cubes tessellation resolution along the
// longest axis of a solid.
const DefaultMeshCells = 400

// sdfxSolid wraps an sdf.SDF3 to implement kernel.Solid.
type sdfxSolid struct {
	s sdf.SDF3
}

// BoundingBox returns the axis-aligned bounding box.
func (s *sdfxSolid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	min = [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}
	max = [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
	return min, max
}

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct {
	meshCells   int
	defaultFont string // font file used when a TextSpec names none; "" = Go Regular
	logger      *log.Logger

	mu    sync.Mutex
	fonts map[string]*truetype.Font // parsed fonts by path; read-only once loaded
}

// Option configures an SdfxKernel.
type Option func(*SdfxKernel)

// WithMeshCells sets the marching cubes resolution.
func WithMeshCells(n int) Option {
	return func(k *SdfxKernel) {
		if n > 0 {
			k.meshCells = n
		}
	}
}

// WithFontFile sets the TrueType font used for text without a FontPath.
func WithFontFile(path string) Option {
	return func(k *SdfxKernel) { k.defaultFont = path }
}

// WithLogger sets the logger used for debug timing output.
func WithLogger(l *log.Logger) Option {
	return func(k *SdfxKernel) { k.logger = l }
}

// New returns a new SdfxKernel.
func New(opts ...Option) *SdfxKernel {
	k := &SdfxKernel{
		meshCells: DefaultMeshCells,
		fonts:     make(map[string]*truetype.Font),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = log.New(io.Discard)
	}
	return k
}

// unwrap extracts the underlying sdf.SDF3 from a kernel.Solid.
func unwrap(s kernel.Solid) (sdf.SDF3, error) {
	ss, ok := s.(*sdfxSolid)
	if !ok || ss == nil {
		return nil, errors.New(errors.ErrCodeInternal, "sdfx: solid of type %T was not created by this kernel", s)
	}
	return ss.s, nil
}

// wrap creates a kernel.Solid from an sdf.SDF3.
func wrap(s sdf.SDF3) kernel.Solid {
	return &sdfxSolid{s: s}
}

func checkDims(x, y, z float64) error {
	if !(x > 0 && y > 0 && z > 0) {
		return errors.New(errors.ErrCodeConfiguration, "box dimensions must be positive, got %g x %g x %g", x, y, z)
	}
	return nil
}

// Box creates a box with the given dimensions centered on the origin.
func (k *SdfxKernel) Box(x, y, z float64) (kernel.Solid, error) {
	if err := checkDims(x, y, z); err != nil {
		return nil, err
	}
	s, err := sdf.Box3D(v3.Vec{X: x, Y: y, Z: z}, 0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeKernelFailure, err, "sdfx.Box3D")
	}
	return wrap(s), nil
}

// RoundedBox creates a box whose vertical edges are rounded with the given
// radius, centered on the origin. A zero radius yields a plain box.
func (k *SdfxKernel) RoundedBox(x, y, z, radius float64) (kernel.Solid, error) {
	if err := checkDims(x, y, z); err != nil {
		return nil, err
	}
	if radius == 0 {
		return k.Box(x, y, z)
	}
	if radius < 0 || 2*radius >= math.Min(x, y) {
		return nil, errors.New(errors.ErrCodeConfiguration, "corner radius %g does not fit a %g x %g box", radius, x, y)
	}
	profile := sdf.Box2D(v2.Vec{X: x, Y: y}, radius)
	return wrap(sdf.Extrude3D(profile, z)), nil
}

// font returns the parsed font for path, loading it once.
func (k *SdfxKernel) font(path string) (*truetype.Font, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if f, ok := k.fonts[path]; ok {
		return f, nil
	}
	data := goregular.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMissingDependency, err, "read font %s", path)
		}
		data = b
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "parse font %q", path)
	}
	k.fonts[path] = f
	return f, nil
}

// Text extrudes a text outline. Font family names are not resolvable in
// process; FontPath (or the kernel's font file, or Go Regular) is used.
func (k *SdfxKernel) Text(ctx context.Context, spec kernel.TextSpec) (kernel.Solid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := spec.FontPath
	if path == "" {
		path = k.defaultFont
	}
	f, err := k.font(path)
	if err != nil {
		return nil, err
	}

	s2, err := sdf.Text2D(f, sdf.NewText(spec.Text), spec.Size)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeKernelFailure, err, "sdfx text %q", spec.Text)
	}
	if spec.Mirror {
		s2 = sdf.Transform2D(s2, sdf.Scale2d(v2.Vec{X: -1, Y: 1}))
	}

	// Anchor the ink: horizontally per Align, vertically centered.
	bb := s2.BoundingBox()
	dx := spec.X - bb.Min.X
	switch {
	case spec.Align == kernel.AlignCenter:
		dx = spec.X - (bb.Min.X+bb.Max.X)/2
	case spec.Mirror:
		dx = spec.X - bb.Max.X
	}
	dy := spec.Y - (bb.Min.Y+bb.Max.Y)/2
	s2 = sdf.Transform2D(s2, sdf.Translate2d(v2.Vec{X: dx, Y: dy}))

	// Extrude3D is centered on z=0.
	s3 := sdf.Extrude3D(s2, spec.Height)
	m := sdf.Translate3d(v3.Vec{Z: spec.Z + spec.Height/2})
	return wrap(sdf.Transform3D(s3, m)), nil
}

// Translate moves a solid by (x, y, z). It panics if s comes from
// another kernel.
func (k *SdfxKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	s3, err := unwrap(s)
	if err != nil {
		panic(err)
	}
	m := sdf.Translate3d(v3.Vec{X: x, Y: y, Z: z})
	return wrap(sdf.Transform3D(s3, m))
}

// Union returns the union of the given solids.
func (k *SdfxKernel) Union(ctx context.Context, solids ...kernel.Solid) (kernel.Solid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(solids) == 0 {
		return nil, errors.New(errors.ErrCodeInternal, "sdfx: union of zero solids")
	}
	if len(solids) == 1 {
		return solids[0], nil
	}
	parts := make([]sdf.SDF3, 0, len(solids))
	for _, s := range solids {
		s3, err := unwrap(s)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s3)
	}
	return wrap(sdf.Union3D(parts...)), nil
}

// Difference returns base minus every solid in subtract.
func (k *SdfxKernel) Difference(ctx context.Context, base kernel.Solid, subtract ...kernel.Solid) (kernel.Solid, error) {
	if len(subtract) == 0 {
		return base, nil
	}
	b, err := unwrap(base)
	if err != nil {
		return nil, err
	}
	cut, err := k.Union(ctx, subtract...)
	if err != nil {
		return nil, err
	}
	c, err := unwrap(cut)
	if err != nil {
		return nil, err
	}
	return wrap(sdf.Difference3D(b, c)), nil
}

type meshResult struct {
	mesh *kernel.Mesh
	err  error
}

// ToMesh converts a solid to a triangle mesh using marching cubes. The
// tessellation runs in its own goroutine so a cancelled ctx returns
// promptly; the abandoned computation finishes in the background.
func (k *SdfxKernel) ToMesh(ctx context.Context, s kernel.Solid) (*kernel.Mesh, error) {
	sdf3, err := unwrap(s)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ch := make(chan meshResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- meshResult{err: errors.New(errors.ErrCodeKernelFailure, "sdfx tessellation panicked: %v", r)}
			}
		}()
		ch <- meshResult{mesh: k.tessellate(sdf3)}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		k.logger.Debug("sdfx tessellation", "triangles", res.mesh.TriangleCount(), "elapsed", time.Since(start).Round(time.Millisecond))
		return res.mesh, nil
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeTimeout, ctx.Err(), "sdfx tessellation abandoned")
	}
}

func (k *SdfxKernel) tessellate(s sdf.SDF3) *kernel.Mesh {
	renderer := render.NewMarchingCubesUniform(k.meshCells)
	triangles := render.ToTriangles(s, renderer)

	numTri := len(triangles)
	numVerts := numTri * 3

	mesh := &kernel.Mesh{
		Vertices: make([]float32, 0, numVerts*3),
		Normals:  make([]float32, 0, numVerts*3),
		Indices:  make([]uint32, 0, numVerts),
	}

	for _, tri := range triangles {
		// Compute face normal.
		n := tri.Normal()
		var v [3][3]float32
		for j := 0; j < 3; j++ {
			v[j] = [3]float32{float32(tri[j].X), float32(tri[j].Y), float32(tri[j].Z)}
		}
		mesh.AppendTriangle(v[0], v[1], v[2], [3]float32{float32(n.X), float32(n.Y), float32(n.Z)})
	}
	return mesh
}

func (k *SdfxKernel) String() string {
	return fmt.Sprintf("sdfx(cells=%d)", k.meshCells)
}
