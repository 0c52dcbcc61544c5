package design

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/matrix"
)

const sampleJSON = `{
  "metadata": {"source": "editor"},
  "design": {
    "filletRadius": 3,
    "thickness": 1.6,
    "dimensions": {"width": 84.5, "height": 54},
    "color": "#784e97",
    "fontColor": "#FFFFFF"
  },
  "content": {
    "name": "Ada Lovelace",
    "email": "ada@example.com",
    "jobTitle": "Analyst",
    "phoneNumber": "",
    "qrUrl": "https://example.com/"
  },
  "positions": {
    "name": {"x": -38, "y": 20, "face": "front"},
    "jobTitle": {"x": -38, "y": 14},
    "phone": {"x": -38, "y": -14},
    "email": {"x": -38, "y": -20},
    "github": {"x": 0, "y": 0},
    "linkedin": {"x": 0, "y": 0},
    "qrCode": {"x": 0, "y": 0, "face": "back"}
  },
  "extra": true
}`

const sampleYAML = `
design:
  filletRadius: 3
  thickness: 1.6
  dimensions: {width: 84.5, height: 54}
content:
  name: Ada Lovelace
  email: ada@example.com
  jobTitle: Analyst
  qrUrl: https://example.com/
positions:
  name: {x: -38, y: 20}
  jobTitle: {x: -38, y: 14}
  email: {x: -38, y: -20}
  qrCode: {x: 0, y: 0, face: bottom}
`

func sample(t *testing.T) *CardRequest {
	t.Helper()
	r, err := Decode([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	return r
}

var codeDefaults = CodeSettings{CellSize: 1.2, Border: 2, Level: matrix.LevelMedium}

func TestDecodeJSON(t *testing.T) {
	r := sample(t)
	assert.Equal(t, geom.Extents{Width: 84.5, Depth: 54, Thickness: 1.6}, r.Design.Extents())
	assert.Equal(t, "Ada Lovelace", r.Content.Name)
	assert.Equal(t, "back", r.Positions.QRCode.Face)
	assert.Equal(t, "editor", r.Metadata["source"])

	fields := r.TextFields()
	require.Len(t, fields, 6)
	assert.Equal(t, "name", fields[0].Key)
	assert.Equal(t, "text_name", fields[0].PartName())
	assert.Equal(t, -38.0, fields[0].Position.X)
	assert.Empty(t, fields[3].Text, "phone is empty")
}

func TestDecodeYAMLMatchesJSON(t *testing.T) {
	r, err := Decode([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, sample(t).Design.Extents(), r.Design.Extents())
	assert.Equal(t, "bottom", r.Positions.QRCode.Face)
	assert.Nil(t, r.Positions.Phone)
	assert.True(t, ValidateAll(r, codeDefaults).OK())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"design": `), FormatJSON)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	_, err = Decode([]byte("design: [1, 2"), FormatYAML)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "card.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Analyst", r.Content.JobTitle)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, FormatJSON, FormatForPath("x.JSON"))
	assert.Equal(t, FormatYAML, FormatForPath("x.YAML"))
}

func TestCanonicalIsStable(t *testing.T) {
	a, err := sample(t).Canonical()
	require.NoError(t, err)
	b, err := sample(t).Canonical()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestValidateSample(t *testing.T) {
	res := ValidateAll(sample(t), codeDefaults)
	assert.True(t, res.OK(), "%v", res.Errors)
	assert.Empty(t, res.Warnings)
	assert.NoError(t, res.Err())
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CardRequest)
		field  string
	}{
		{"zero width", func(r *CardRequest) { r.Design.Dimensions.Width = 0 }, "design.dimensions.width"},
		{"negative height", func(r *CardRequest) { r.Design.Dimensions.Height = -1 }, "design.dimensions.height"},
		{"flat", func(r *CardRequest) { r.Design.Thickness = 0 }, "design.thickness"},
		{"negative fillet", func(r *CardRequest) { r.Design.FilletRadius = -1 }, "design.filletRadius"},
		{"fillet too large", func(r *CardRequest) { r.Design.FilletRadius = 27 }, "design.filletRadius"},
		{"no payload", func(r *CardRequest) { r.Content.QRURL = " " }, "content.qrUrl"},
		{"no code position", func(r *CardRequest) { r.Positions.QRCode = nil }, "positions.qrCode"},
		{"bad code face", func(r *CardRequest) { r.Positions.QRCode.Face = "left" }, "positions.qrCode.face"},
		{"missing text position", func(r *CardRequest) { r.Positions.Name = nil }, "positions.name"},
		{"bad text face", func(r *CardRequest) { r.Positions.Email.Face = "side" }, "positions.email.face"},
		{"bad colour", func(r *CardRequest) { r.Design.FontColor = "white" }, "design.fontColor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sample(t)
			tt.mutate(r)
			res := ValidateAll(r, codeDefaults)
			require.False(t, res.OK())
			assert.Equal(t, tt.field, res.Errors[0].Field)
			assert.Equal(t, SeverityError, res.Errors[0].Severity)

			err := res.Err()
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestEmptyTextNeedsNoPosition(t *testing.T) {
	r := sample(t)
	r.Positions.Phone = nil
	r.Positions.Github = nil
	assert.Empty(t, Validate(r))
}

func TestBlankTextIsUnset(t *testing.T) {
	r := sample(t)
	r.Content.PhoneNumber = " \t "
	r.Positions.Phone = nil
	r.Content.Github = "  "
	r.Positions.Github = &Position{X: 0, Y: 0, Face: "side"}
	r.Content.Linkedin = "\n"
	r.Positions.Linkedin = &Position{X: -90, Y: 0}

	res := ValidateAll(r, codeDefaults)
	assert.True(t, res.OK(), "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)

	set := lo.FilterMap(r.TextFields(), func(f TextField, _ int) (string, bool) { return f.Key, f.IsSet() })
	assert.Equal(t, []string{"name", "jobTitle", "email"}, set)
}

func TestValidateWarnings(t *testing.T) {
	r := sample(t)
	r.Positions.Name.X = -60
	r.Positions.QRCode.X = 30

	res := ValidateAll(r, codeDefaults)
	require.True(t, res.OK())
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "positions.name", res.Warnings[0].Field)
	assert.Equal(t, "positions.qrCode", res.Warnings[1].Field)
	assert.Contains(t, res.Warnings[1].Message, "extends past the card edge")
	assert.Equal(t, SeverityWarning, res.Warnings[0].Severity)
	assert.Contains(t, res.Warnings[0].Error(), "[warning]")
}
