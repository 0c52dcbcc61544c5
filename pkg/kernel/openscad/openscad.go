// Package openscad implements the kernel.Kernel interface by shelling out
// to the OpenSCAD executable.
//
// Primitives, transforms and unions are kept as an OpenSCAD expression tree
// and cost nothing. Text extrusion, differences and tessellation run the
// executable once each: the tree is written to a .scad file in a temporary
// workspace, rendered to STL, and the STL is read back as a mesh solid.
// Mesh solids re-enter later scripts through import(). The workspace is
// removed when the call returns, whatever the outcome.
package openscad

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hschendel/stl"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/kernel"
)

// Compile-time interface checks.
var (
	_ kernel.Kernel  = (*Kernel)(nil)
	_ kernel.Checker = (*Kernel)(nil)
)

// DefaultBinary is the executable name looked up on PATH.
const DefaultBinary = "openscad"

// DefaultFont is the font family used when a TextSpec names none.
const DefaultFont = "DejaVu Sans"

// Kernel is an OpenSCAD-backed geometry kernel. It holds no per-call state
// and is safe for concurrent use.
type Kernel struct {
	bin     string
	tempDir string
	font    string
	logger  *log.Logger
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithBinary sets the OpenSCAD executable (a name on PATH or a path).
func WithBinary(bin string) Option {
	return func(k *Kernel) {
		if bin != "" {
			k.bin = bin
		}
	}
}

// WithTempDir sets the parent directory for per-call workspaces. The
// default is the system temp directory.
func WithTempDir(dir string) Option {
	return func(k *Kernel) { k.tempDir = dir }
}

// WithFont sets the default font family.
func WithFont(family string) Option {
	return func(k *Kernel) {
		if family != "" {
			k.font = family
		}
	}
}

// WithLogger sets the logger used for per-invocation debug output.
func WithLogger(l *log.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// New returns a Kernel. The executable is resolved lazily on each call so
// that a missing installation surfaces as MISSING_DEPENDENCY on use.
func New(opts ...Option) *Kernel {
	k := &Kernel{bin: DefaultBinary, font: DefaultFont}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = log.New(io.Discard)
	}
	return k
}

// Check reports whether the executable can be located.
func (k *Kernel) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := k.resolve()
	return err
}

func (k *Kernel) resolve() (string, error) {
	path, err := exec.LookPath(k.bin)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeMissingDependency, err, "openscad executable %q not found", k.bin)
	}
	return path, nil
}

// --- Solids ---

type nodeKind int

const (
	nodeExpr nodeKind = iota // a self-contained OpenSCAD expression
	nodeMesh                 // an STL produced by an earlier run
	nodeTranslate
	nodeUnion
)

// Solid is an OpenSCAD solid. It is immutable once returned.
type Solid struct {
	kind     nodeKind
	expr     string
	mesh     *stl.Solid
	offset   [3]float64
	children []*Solid
	min, max [3]float64
}

var _ kernel.Solid = (*Solid)(nil)

// BoundingBox returns the axis-aligned bounding box.
func (s *Solid) BoundingBox() (min, max [3]float64) {
	return s.min, s.max
}

// Script returns the OpenSCAD source for the solid, with mesh solids
// referenced by the file names they would be written under.
func (s *Solid) Script() string {
	var w scriptWriter
	w.emit(s)
	return w.buf.String()
}

func unwrap(s kernel.Solid) (*Solid, error) {
	sol, ok := s.(*Solid)
	if !ok || sol == nil {
		return nil, errors.New(errors.ErrCodeInternal, "openscad: solid of type %T was not created by this kernel", s)
	}
	return sol, nil
}

func checkDims(x, y, z float64) error {
	if !(x > 0 && y > 0 && z > 0) {
		return errors.New(errors.ErrCodeConfiguration, "box dimensions must be positive, got %g x %g x %g", x, y, z)
	}
	return nil
}

func centered(x, y, z float64) (min, max [3]float64) {
	return [3]float64{-x / 2, -y / 2, -z / 2}, [3]float64{x / 2, y / 2, z / 2}
}

// Box creates a box centered on the origin.
func (k *Kernel) Box(x, y, z float64) (kernel.Solid, error) {
	if err := checkDims(x, y, z); err != nil {
		return nil, err
	}
	min, max := centered(x, y, z)
	return &Solid{
		kind: nodeExpr,
		expr: fmt.Sprintf("cube([%s, %s, %s], center=true);", num(x), num(y), num(z)),
		min:  min,
		max:  max,
	}, nil
}

// RoundedBox creates a box with rounded vertical edges, centered on the
// origin. The outline is an inset square grown back by the radius.
func (k *Kernel) RoundedBox(x, y, z, radius float64) (kernel.Solid, error) {
	if err := checkDims(x, y, z); err != nil {
		return nil, err
	}
	if radius == 0 {
		return k.Box(x, y, z)
	}
	if radius < 0 || 2*radius >= math.Min(x, y) {
		return nil, errors.New(errors.ErrCodeConfiguration, "corner radius %g does not fit a %g x %g box", radius, x, y)
	}
	min, max := centered(x, y, z)
	return &Solid{
		kind: nodeExpr,
		expr: fmt.Sprintf("linear_extrude(height=%s, center=true) offset(r=%s) square([%s, %s], center=true);",
			num(z), num(radius), num(x-2*radius), num(y-2*radius)),
		min: min,
		max: max,
	}, nil
}

// Text renders extruded text. The result is a mesh solid, so its bounding
// box is the real ink extent.
func (k *Kernel) Text(ctx context.Context, spec kernel.TextSpec) (kernel.Solid, error) {
	if spec.Text == "" {
		return nil, errors.New(errors.ErrCodeKernelFailure, "openscad cannot extrude empty text")
	}
	if !(spec.Size > 0 && spec.Height > 0) {
		return nil, errors.New(errors.ErrCodeConfiguration, "text size and height must be positive, got %g and %g", spec.Size, spec.Height)
	}
	return k.render(ctx, "text", func(w *scriptWriter) {
		k.emitText(w, spec)
	})
}

func (k *Kernel) emitText(w *scriptWriter, spec kernel.TextSpec) {
	if spec.FontPath != "" {
		fmt.Fprintf(&w.buf, "use <%s>\n", spec.FontPath)
	}
	font := spec.Font
	if font == "" {
		font = k.font
	}
	halign := "left"
	if spec.Align == kernel.AlignCenter {
		halign = "center"
	}
	fmt.Fprintf(&w.buf, "translate([%s, %s, %s]) ", num(spec.X), num(spec.Y), num(spec.Z))
	if spec.Mirror {
		w.buf.WriteString("mirror([1, 0, 0]) ")
	}
	fmt.Fprintf(&w.buf, "linear_extrude(height=%s) text(%s, size=%s, font=%s, halign=%q, valign=\"center\");\n",
		num(spec.Height), quote(spec.Text), num(spec.Size), quote(font), halign)
}

// Translate moves a solid by (x, y, z). It panics if s comes from
// another kernel.
func (k *Kernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	c, err := unwrap(s)
	if err != nil {
		panic(err)
	}
	off := [3]float64{x, y, z}
	t := &Solid{kind: nodeTranslate, offset: off, children: []*Solid{c}}
	for i := 0; i < 3; i++ {
		t.min[i] = c.min[i] + off[i]
		t.max[i] = c.max[i] + off[i]
	}
	return t
}

// Union returns the union of the given solids without running OpenSCAD.
func (k *Kernel) Union(ctx context.Context, solids ...kernel.Solid) (kernel.Solid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(solids) == 0 {
		return nil, errors.New(errors.ErrCodeInternal, "openscad: union of zero solids")
	}
	if len(solids) == 1 {
		return solids[0], nil
	}
	return union(solids)
}

func union(solids []kernel.Solid) (*Solid, error) {
	u := &Solid{kind: nodeUnion}
	for i, s := range solids {
		c, err := unwrap(s)
		if err != nil {
			return nil, err
		}
		u.children = append(u.children, c)
		if i == 0 {
			u.min, u.max = c.min, c.max
			continue
		}
		for j := 0; j < 3; j++ {
			u.min[j] = math.Min(u.min[j], c.min[j])
			u.max[j] = math.Max(u.max[j], c.max[j])
		}
	}
	return u, nil
}

// Difference subtracts every solid in subtract from base in one OpenSCAD
// run. With nothing to subtract base is returned as is.
func (k *Kernel) Difference(ctx context.Context, base kernel.Solid, subtract ...kernel.Solid) (kernel.Solid, error) {
	if len(subtract) == 0 {
		return base, nil
	}
	b, err := unwrap(base)
	if err != nil {
		return nil, err
	}
	cut, err := union(subtract)
	if err != nil {
		return nil, err
	}
	return k.render(ctx, "difference", func(w *scriptWriter) {
		w.buf.WriteString("difference() {\n")
		w.emit(b)
		w.emit(cut)
		w.buf.WriteString("}\n")
	})
}

// ToMesh converts a solid to a triangle mesh. Mesh solids convert directly;
// anything else is rendered first.
func (k *Kernel) ToMesh(ctx context.Context, s kernel.Solid) (*kernel.Mesh, error) {
	sol, err := unwrap(s)
	if err != nil {
		return nil, err
	}
	if sol.kind != nodeMesh {
		rendered, err := k.render(ctx, "mesh", func(w *scriptWriter) { w.emit(sol) })
		if err != nil {
			return nil, err
		}
		sol = rendered
	}
	return toMesh(sol.mesh), nil
}

func (k *Kernel) String() string {
	return fmt.Sprintf("openscad(%s)", k.bin)
}

// --- Invocation ---

// render writes the script produced by build into a fresh workspace, runs
// OpenSCAD on it and loads the resulting STL as a mesh solid.
func (k *Kernel) render(ctx context.Context, op string, build func(w *scriptWriter)) (*Solid, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeTimeout, err, "openscad %s not started", op)
	}
	bin, err := k.resolve()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(k.tempDir, "openscad-*")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create openscad workspace")
	}
	defer os.RemoveAll(dir)

	var w scriptWriter
	build(&w)
	for i, m := range w.meshes {
		if err := m.WriteFile(filepath.Join(dir, meshName(i))); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "write mesh input")
		}
	}
	in := filepath.Join(dir, "input.scad")
	out := filepath.Join(dir, "output.stl")
	if err := os.WriteFile(in, w.buf.Bytes(), 0o644); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "write openscad script")
	}

	start := time.Now()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-o", out, in)
	cmd.Dir = dir
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	k.logger.Debug("openscad", "op", op, "elapsed", time.Since(start).Round(time.Millisecond), "ok", runErr == nil)

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeTimeout, ctx.Err(), "openscad %s interrupted", op)
		}
		if stderrors.Is(runErr, exec.ErrNotFound) || stderrors.Is(runErr, os.ErrNotExist) {
			return nil, errors.Wrap(errors.ErrCodeMissingDependency, runErr, "openscad executable %q could not be started", bin)
		}
		return nil, errors.Wrap(errors.ErrCodeKernelFailure, runErr, "openscad %s failed", op).
			WithDetail(strings.TrimSpace(stderr.String()))
	}

	result, err := stl.ReadFile(out)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeKernelFailure, err, "openscad %s produced unreadable output", op).
			WithDetail(strings.TrimSpace(stderr.String()))
	}
	if len(result.Triangles) == 0 {
		return nil, errors.New(errors.ErrCodeKernelFailure, "openscad %s produced an empty mesh", op).
			WithDetail(strings.TrimSpace(stderr.String()))
	}
	return meshSolid(result), nil
}

func meshSolid(m *stl.Solid) *Solid {
	s := &Solid{kind: nodeMesh, mesh: m}
	for i, t := range m.Triangles {
		for j, v := range t.Vertices {
			for a := 0; a < 3; a++ {
				c := float64(v[a])
				if i == 0 && j == 0 {
					s.min[a], s.max[a] = c, c
					continue
				}
				s.min[a] = math.Min(s.min[a], c)
				s.max[a] = math.Max(s.max[a], c)
			}
		}
	}
	return s
}

func toMesh(m *stl.Solid) *kernel.Mesh {
	mesh := &kernel.Mesh{
		Vertices: make([]float32, 0, len(m.Triangles)*9),
		Normals:  make([]float32, 0, len(m.Triangles)*9),
		Indices:  make([]uint32, 0, len(m.Triangles)*3),
	}
	for _, t := range m.Triangles {
		a := [3]float32(t.Vertices[0])
		b := [3]float32(t.Vertices[1])
		c := [3]float32(t.Vertices[2])
		n := [3]float32(t.Normal)
		if n == [3]float32{} {
			n = kernel.FaceNormal(a, b, c)
		}
		mesh.AppendTriangle(a, b, c, n)
	}
	return mesh
}

// --- Script emission ---

type scriptWriter struct {
	buf    bytes.Buffer
	meshes []*stl.Solid
}

func meshName(i int) string {
	return fmt.Sprintf("mesh%d.stl", i)
}

func (w *scriptWriter) emit(s *Solid) {
	switch s.kind {
	case nodeExpr:
		w.buf.WriteString(s.expr)
		w.buf.WriteByte('\n')
	case nodeMesh:
		fmt.Fprintf(&w.buf, "import(%q);\n", meshName(len(w.meshes)))
		w.meshes = append(w.meshes, s.mesh)
	case nodeTranslate:
		fmt.Fprintf(&w.buf, "translate([%s, %s, %s]) ", num(s.offset[0]), num(s.offset[1]), num(s.offset[2]))
		w.emit(s.children[0])
	case nodeUnion:
		w.buf.WriteString("union() {\n")
		for _, c := range s.children {
			w.emit(c)
		}
		w.buf.WriteString("}\n")
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// quote renders s as an OpenSCAD string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}
