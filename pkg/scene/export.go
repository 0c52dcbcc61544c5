package scene

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hpinc/go3mf"
	"github.com/hschendel/stl"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/kernel"
)

// Format is an export format.
type Format string

const (
	Format3MF Format = "3mf"
	FormatSTL Format = "stl"
)

// ParseFormat accepts "3mf" and "stl" in any case; "" selects 3MF.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", Format3MF:
		return Format3MF, nil
	case FormatSTL:
		return FormatSTL, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unsupported export format %q (want 3mf or stl)", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatSTL {
		return "model/stl"
	}
	return "model/3mf"
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Export tessellates the scene and writes it to w in format f.
func Export(ctx context.Context, k kernel.Kernel, s *Scene, f Format, w io.Writer) error {
	meshes, err := s.Tessellate(ctx, k, 0)
	if err != nil {
		return err
	}
	switch f {
	case FormatSTL:
		return WriteSTL(w, meshes)
	default:
		colors := make(map[string]string, len(s.Parts))
		for _, p := range s.Parts {
			colors[p.Name] = p.Color
		}
		return Write3MF(w, meshes, colors)
	}
}

// Write3MF writes one named object per mesh. Parts with a colour in colors
// reference a base material of that colour.
func Write3MF(w io.Writer, meshes []*kernel.Mesh, colors map[string]string) error {
	model := &go3mf.Model{Units: go3mf.UnitMillimeter}

	materials := &go3mf.BaseMaterials{ID: 1}
	nextID := uint32(2)
	for _, m := range meshes {
		obj := &go3mf.Object{
			ID:   nextID,
			Name: m.PartName,
			Mesh: toObjectMesh(m),
		}
		nextID++
		if c := colors[m.PartName]; c != "" {
			rgba, err := ParseColor(c)
			if err != nil {
				return err
			}
			obj.PID = materials.ID
			obj.PIndex = uint32(len(materials.Materials))
			materials.Materials = append(materials.Materials, go3mf.Base{Name: m.PartName, Color: rgba})
		}
		model.Resources.Objects = append(model.Resources.Objects, obj)
		model.Build.Items = append(model.Build.Items, &go3mf.Item{ObjectID: obj.ID})
	}
	if len(materials.Materials) > 0 {
		model.Resources.Assets = append(model.Resources.Assets, materials)
	}

	if err := go3mf.NewEncoder(w).Encode(model); err != nil {
		return fmt.Errorf("encode 3mf: %w", err)
	}
	return nil
}

func toObjectMesh(m *kernel.Mesh) *go3mf.Mesh {
	mesh := new(go3mf.Mesh)
	n := m.VertexCount()
	mesh.Vertices.Vertex = make([]go3mf.Point3D, 0, n)
	for i := 0; i < n; i++ {
		mesh.Vertices.Vertex = append(mesh.Vertices.Vertex, go3mf.Point3D(m.Vertex(uint32(i))))
	}
	mesh.Triangles.Triangle = make([]go3mf.Triangle, 0, m.TriangleCount())
	for i := 0; i+2 < len(m.Indices); i += 3 {
		mesh.Triangles.Triangle = append(mesh.Triangles.Triangle, go3mf.Triangle{
			V1: m.Indices[i], V2: m.Indices[i+1], V3: m.Indices[i+2],
		})
	}
	return mesh
}

// WriteSTL writes every mesh merged into one binary STL solid.
func WriteSTL(w io.Writer, meshes []*kernel.Mesh) error {
	solid := &stl.Solid{Name: BodyName}
	for _, m := range meshes {
		for i := 0; i+2 < len(m.Indices); i += 3 {
			a := m.Vertex(m.Indices[i])
			b := m.Vertex(m.Indices[i+1])
			c := m.Vertex(m.Indices[i+2])
			solid.Triangles = append(solid.Triangles, stl.Triangle{
				Normal:   stl.Vec3(kernel.FaceNormal(a, b, c)),
				Vertices: [3]stl.Vec3{stl.Vec3(a), stl.Vec3(b), stl.Vec3(c)},
			})
		}
	}
	if err := solid.WriteAll(w); err != nil {
		return fmt.Errorf("encode stl: %w", err)
	}
	return nil
}
