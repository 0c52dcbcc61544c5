package scene

import (
	"bytes"
	"context"
	"image/color"
	"testing"

	"github.com/hpinc/go3mf"
	"github.com/hschendel/stl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/kernel/kerneltest"
)

func cardScene(t *testing.T, k *kerneltest.Kernel) *Scene {
	t.Helper()
	body, err := k.Box(84.5, 54, 1.6)
	require.NoError(t, err)
	label, err := k.Box(10, 4, 0.4)
	require.NoError(t, err)
	code, err := k.Box(30, 30, 0.4)
	require.NoError(t, err)

	s := New(body, "#784e97")
	require.NoError(t, s.Add("text_name", k.Translate(label, -30, 20, 0.6), "#FFFFFF"))
	require.NoError(t, s.Add("qr_code", k.Translate(code, 0, 0, -0.6), ""))
	return s
}

func TestSceneAdd(t *testing.T) {
	k := kerneltest.New()
	s := cardScene(t, k)
	assert.Equal(t, []string{BodyName, "text_name", "qr_code"}, s.Names())

	box, _ := k.Box(1, 1, 1)
	assert.True(t, errors.Is(s.Add("qr_code", box, ""), errors.ErrCodeInvalidInput))
	assert.True(t, errors.Is(s.Add("", box, ""), errors.ErrCodeInvalidInput))
	assert.True(t, errors.Is(s.Add("x", box, "purple"), errors.ErrCodeInvalidInput))
	assert.Error(t, s.Add("y", nil, ""))
	assert.Len(t, s.Parts, 3)
}

func TestTessellate(t *testing.T) {
	k := kerneltest.New()
	s := cardScene(t, k)

	meshes, err := s.Tessellate(context.Background(), k, 2)
	require.NoError(t, err)
	require.Len(t, meshes, 3)
	for i, m := range meshes {
		assert.Equal(t, s.Parts[i].Name, m.PartName)
		assert.Equal(t, 12, m.TriangleCount())
	}
	assert.Equal(t, 3, k.Count(kerneltest.OpToMesh))

	k.Fail(kerneltest.OpToMesh, errors.New(errors.ErrCodeKernelFailure, "render failed"))
	_, err = s.Tessellate(context.Background(), k, 0)
	assert.True(t, errors.Is(err, errors.ErrCodeKernelFailure))
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#784e97")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x78, G: 0x4e, B: 0x97, A: 0xff}, c)

	c, err = ParseColor("fff")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, c)

	for _, bad := range []string{"", "#12345", "#gggggg"} {
		_, err := ParseColor(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Format3MF, f)
	assert.Equal(t, "model/3mf", f.ContentType())

	f, err = ParseFormat("STL")
	require.NoError(t, err)
	assert.Equal(t, FormatSTL, f)
	assert.Equal(t, ".stl", f.Extension())

	_, err = ParseFormat("obj")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestExport3MF(t *testing.T) {
	k := kerneltest.New()
	var buf bytes.Buffer
	require.NoError(t, Export(context.Background(), k, cardScene(t, k), Format3MF, &buf))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")), "3MF is a zip package")

	var model go3mf.Model
	data := buf.Bytes()
	require.NoError(t, go3mf.NewDecoder(bytes.NewReader(data), int64(len(data))).Decode(&model))
	require.Len(t, model.Resources.Objects, 3)

	names := make([]string, 0, 3)
	for _, o := range model.Resources.Objects {
		names = append(names, o.Name)
		assert.Len(t, o.Mesh.Triangles.Triangle, 12)
	}
	assert.Equal(t, []string{BodyName, "text_name", "qr_code"}, names)
	assert.Len(t, model.Build.Items, 3)
}

func TestExportSTL(t *testing.T) {
	k := kerneltest.New()
	var buf bytes.Buffer
	require.NoError(t, Export(context.Background(), k, cardScene(t, k), FormatSTL, &buf))

	// Binary STL: 80-byte header, count, 50 bytes per triangle.
	assert.Equal(t, 84+50*36, buf.Len())

	solid, err := stl.ReadAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, solid.Triangles, 36)
}

func TestWriteSTLNormals(t *testing.T) {
	m := &kernel.Mesh{}
	m.AppendTriangle([3]float32{0, 0, 0}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}, [3]float32{})
	var buf bytes.Buffer
	require.NoError(t, WriteSTL(&buf, []*kernel.Mesh{m}))

	solid, err := stl.ReadAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, solid.Triangles, 1)
	assert.Equal(t, stl.Vec3{0, 0, 1}, solid.Triangles[0].Normal)
}
