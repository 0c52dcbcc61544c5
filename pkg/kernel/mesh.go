package kernel

import "math"

// Mesh is a triangle mesh suitable for rendering and export.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, indices has 3 uint32s per triangle.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	PartName string    `json:"partName"` // which scene part this came from
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// Vertex returns the i-th vertex.
func (m *Mesh) Vertex(i uint32) [3]float32 {
	return [3]float32{m.Vertices[i*3], m.Vertices[i*3+1], m.Vertices[i*3+2]}
}

// Bounds returns the axis-aligned bounds of the vertices. An empty mesh
// returns zero vectors.
func (m *Mesh) Bounds() (min, max [3]float32) {
	if m.IsEmpty() {
		return min, max
	}
	min = m.Vertex(0)
	max = min
	for i := 1; i < m.VertexCount(); i++ {
		v := m.Vertex(uint32(i))
		for a := 0; a < 3; a++ {
			if v[a] < min[a] {
				min[a] = v[a]
			}
			if v[a] > max[a] {
				max[a] = v[a]
			}
		}
	}
	return min, max
}

// AppendTriangle adds an unindexed triangle with a flat normal.
func (m *Mesh) AppendTriangle(a, b, c, n [3]float32) {
	base := uint32(m.VertexCount())
	for _, v := range [][3]float32{a, b, c} {
		m.Vertices = append(m.Vertices, v[0], v[1], v[2])
		m.Normals = append(m.Normals, n[0], n[1], n[2])
	}
	m.Indices = append(m.Indices, base, base+1, base+2)
}

// FaceNormal returns the unit normal of triangle abc, or zero for a
// degenerate triangle.
func FaceNormal(a, b, c [3]float32) [3]float32 {
	e1 := [3]float64{float64(b[0] - a[0]), float64(b[1] - a[1]), float64(b[2] - a[2])}
	e2 := [3]float64{float64(c[0] - a[0]), float64(c[1] - a[1]), float64(c[2] - a[2])}
	n := [3]float64{
		e1[1]*e2[2] - e1[2]*e2[1],
		e1[2]*e2[0] - e1[0]*e2[2],
		e1[0]*e2[1] - e1[1]*e2[0],
	}
	l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
	if l < 1e-12 {
		return [3]float32{}
	}
	return [3]float32{float32(n[0] / l), float32(n[1] / l), float32(n[2] / l)}
}
