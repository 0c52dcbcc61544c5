// Package scene assembles the final card solid and its fillers into a
// named scene, tessellates every part through the geometry kernel and
// serializes the result as 3MF or STL.
package scene

import (
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/kernel"
)

// BodyName is the part name of the carved card.
const BodyName = "card_body"

// Part is one named solid of a scene.
type Part struct {
	Name  string
	Solid kernel.Solid
	Color string // optional "#rrggbb"
}

// Scene is an ordered list of uniquely named parts.
type Scene struct {
	Parts []Part
}

// New returns a scene whose first part is the final card solid.
func New(body kernel.Solid, color string) *Scene {
	return &Scene{Parts: []Part{{Name: BodyName, Solid: body, Color: color}}}
}

// Add appends a filler. Names must be unique within the scene.
func (s *Scene) Add(name string, solid kernel.Solid, color string) error {
	if name == "" {
		return errors.New(errors.ErrCodeInvalidInput, "scene part needs a name")
	}
	if solid == nil {
		return errors.New(errors.ErrCodeInternal, "scene part %q has no solid", name)
	}
	if lo.ContainsBy(s.Parts, func(p Part) bool { return p.Name == name }) {
		return errors.New(errors.ErrCodeInvalidInput, "duplicate scene part %q", name)
	}
	if color != "" {
		if _, err := ParseColor(color); err != nil {
			return err
		}
	}
	s.Parts = append(s.Parts, Part{Name: name, Solid: solid, Color: color})
	return nil
}

// Names returns the part names in order.
func (s *Scene) Names() []string {
	return lo.Map(s.Parts, func(p Part, _ int) string { return p.Name })
}

// Tessellate produces one mesh per part, named after the part, in part
// order. Parts are meshed concurrently, at most limit at a time (limit <= 0
// means no limit).
func (s *Scene) Tessellate(ctx context.Context, k kernel.Kernel, limit int) ([]*kernel.Mesh, error) {
	meshes := make([]*kernel.Mesh, len(s.Parts))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range s.Parts {
		g.Go(func() error {
			m, err := k.ToMesh(gctx, p.Solid)
			if err != nil {
				return fmt.Errorf("tessellate %s: %w", p.Name, err)
			}
			m.PartName = p.Name
			meshes[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return meshes, nil
}

// ParseColor parses "#rrggbb" or "#rgb" (the leading # is optional).
func ParseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, errors.New(errors.ErrCodeInvalidInput, "invalid colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid colour %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
