package geom

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/printmycard/pkg/errors"
)

// Vec3 is a point or displacement in millimetres.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Array returns the vector as [x, y, z].
func (v Vec3) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// extentsTolerance is the absolute tolerance used when comparing extents.
const extentsTolerance = 1e-8

// Extents describes the card blank: width along X, depth along Y and
// thickness along Z, all in millimetres. The blank is centered on the origin.
type Extents struct {
	Width     float64 `json:"width"`
	Depth     float64 `json:"depth"`
	Thickness float64 `json:"thickness"`
}

// Validate checks that every dimension is positive.
func (e Extents) Validate() error {
	for _, d := range []struct {
		name string
		v    float64
	}{{"width", e.Width}, {"depth", e.Depth}, {"thickness", e.Thickness}} {
		if !(d.v > 0) || math.IsInf(d.v, 0) {
			return errors.New(errors.ErrCodeConfiguration, "box %s must be positive, got %g", d.name, d.v)
		}
	}
	return nil
}

// Equal reports whether two extents match within a small tolerance.
func (e Extents) Equal(o Extents) bool {
	return math.Abs(e.Width-o.Width) <= extentsTolerance &&
		math.Abs(e.Depth-o.Depth) <= extentsTolerance &&
		math.Abs(e.Thickness-o.Thickness) <= extentsTolerance
}

// TopZ is the Z coordinate of the top face; the bottom face is at -TopZ.
func (e Extents) TopZ() float64 {
	return e.Thickness / 2
}

func (e Extents) String() string {
	return fmt.Sprintf("%gx%gx%g", e.Width, e.Depth, e.Thickness)
}

// Face selects one of the two large faces of the card blank.
type Face int

const (
	FaceTop    Face = iota // +Z
	FaceBottom             // -Z
)

func (f Face) String() string {
	switch f {
	case FaceTop:
		return "top"
	case FaceBottom:
		return "bottom"
	default:
		return fmt.Sprintf("Face(%d)", int(f))
	}
}

// Valid reports whether f is a known face.
func (f Face) Valid() bool {
	return f == FaceTop || f == FaceBottom
}

// ParseFace converts a face name to a Face. The names "front" and "back"
// used by card editors are accepted as aliases; an empty name selects the
// top face.
func ParseFace(s string) (Face, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "top", "front":
		return FaceTop, nil
	case "bottom", "back":
		return FaceBottom, nil
	}
	return 0, errors.New(errors.ErrCodeConfiguration, "unsupported face %q, expected top or bottom", s)
}

// FeatureBaseZ returns the lowest Z of a feature of the given depth that sits
// flush with face f of a blank with extents e.
func FeatureBaseZ(e Extents, f Face, depth float64) float64 {
	if f == FaceBottom {
		return -e.TopZ()
	}
	return e.TopZ() - depth
}

// MarshalText implements encoding.TextMarshaler.
func (f Face) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid face %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Face) UnmarshalText(b []byte) error {
	v, err := ParseFace(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
