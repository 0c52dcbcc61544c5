// Package kernel defines the abstract geometry kernel interface.
// Implementations (openscad, sdfx) provide solid construction, text
// extrusion and boolean operations behind this interface; the carving
// pipeline never inspects a backend's internals. The kernel abstraction
// allows swapping backends without changing the rest of the system.
package kernel

import "context"

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// HAlign is the horizontal anchoring of extruded text.
type HAlign int

const (
	AlignLeft   HAlign = iota // anchor at the left edge of the ink
	AlignCenter               // anchor at the horizontal center
)

// TextSpec describes an extruded text solid. The text is anchored at
// (X, Y) using Align horizontally and centered vertically, and extruded
// upwards from Z by Height.
type TextSpec struct {
	Text     string
	Font     string  // font family name, used by backends that resolve fonts by name
	FontPath string  // optional font file; takes precedence over Font where supported
	Size     float64 // nominal glyph height in mm
	Height   float64 // extrusion height in mm
	X, Y, Z  float64
	Align    HAlign
	Mirror   bool // mirror about the anchor's vertical axis (for text read from below)
}

// Kernel is the abstract geometry kernel interface. Solids passed to a
// kernel must have been built by that same kernel.
//
// Constructors and transforms are cheap and never fail once their arguments
// are valid. Text extrusion, booleans and tessellation may block on an
// external tool and honour ctx cancellation where the backend allows it.
type Kernel interface {
	// Primitives. Both are centered on the origin in all three axes.
	Box(x, y, z float64) (Solid, error)
	RoundedBox(x, y, z, radius float64) (Solid, error)

	// Text extrudes a text outline.
	Text(ctx context.Context, spec TextSpec) (Solid, error)

	// Translate moves s, which must come from this kernel. A solid from
	// another kernel is a programming error and panics.
	Translate(s Solid, x, y, z float64) Solid

	// Boolean operations. Union of a single solid returns it unchanged.
	Union(ctx context.Context, solids ...Solid) (Solid, error)
	Difference(ctx context.Context, base Solid, subtract ...Solid) (Solid, error)

	// Mesh output
	ToMesh(ctx context.Context, s Solid) (*Mesh, error)
}

// Checker is implemented by kernels that depend on something outside the
// process and can report whether it is usable.
type Checker interface {
	Check(ctx context.Context) error
}
