// Package design defines the card-design payload accepted by the CLI and
// the HTTP service, and its validation.
//
// A CardRequest carries the blank's dimensions and colours, the text
// content, and one position per feature. Decoding accepts JSON or YAML.
package design

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
)

// Dimensions is the card outline in millimetres.
type Dimensions struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Design is the physical blank.
type Design struct {
	FilletRadius float64    `json:"filletRadius" yaml:"filletRadius"`
	Thickness    float64    `json:"thickness" yaml:"thickness"`
	Dimensions   Dimensions `json:"dimensions" yaml:"dimensions"`
	Color        string     `json:"color,omitempty" yaml:"color,omitempty"`
	FontColor    string     `json:"fontColor,omitempty" yaml:"fontColor,omitempty"`
}

// Extents returns the blank as width x height x thickness.
func (d Design) Extents() geom.Extents {
	return geom.Extents{Width: d.Dimensions.Width, Depth: d.Dimensions.Height, Thickness: d.Thickness}
}

// Content is the text printed on the card and the code payload.
type Content struct {
	Name        string `json:"name" yaml:"name"`
	Email       string `json:"email" yaml:"email"`
	JobTitle    string `json:"jobTitle" yaml:"jobTitle"`
	PhoneNumber string `json:"phoneNumber,omitempty" yaml:"phoneNumber,omitempty"`
	Github      string `json:"github,omitempty" yaml:"github,omitempty"`
	Linkedin    string `json:"linkedin,omitempty" yaml:"linkedin,omitempty"`
	QRURL       string `json:"qrUrl" yaml:"qrUrl"`
}

// Position anchors one feature. Face is "top"/"front" or "bottom"/"back";
// empty means top.
type Position struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	Face string  `json:"face,omitempty" yaml:"face,omitempty"`
}

// Positions holds one position per feature.
type Positions struct {
	Name     *Position `json:"name,omitempty" yaml:"name,omitempty"`
	JobTitle *Position `json:"jobTitle,omitempty" yaml:"jobTitle,omitempty"`
	Phone    *Position `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email    *Position `json:"email,omitempty" yaml:"email,omitempty"`
	Github   *Position `json:"github,omitempty" yaml:"github,omitempty"`
	Linkedin *Position `json:"linkedin,omitempty" yaml:"linkedin,omitempty"`
	QRCode   *Position `json:"qrCode,omitempty" yaml:"qrCode,omitempty"`
}

// CardRequest is one card design.
type CardRequest struct {
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Design    Design         `json:"design" yaml:"design"`
	Content   Content        `json:"content" yaml:"content"`
	Positions Positions      `json:"positions" yaml:"positions"`
}

// TextField is one text feature of a request.
type TextField struct {
	Key      string // content key, also used in part names
	Text     string
	Position *Position
}

// IsSet reports whether the field has text to carve. Blank text counts
// as unset.
func (f TextField) IsSet() bool {
	return strings.TrimSpace(f.Text) != ""
}

// PartName returns the scene name of the field's filler.
func (f TextField) PartName() string {
	return "text_" + f.Key
}

// TextFields returns every text field in carving order, including empty
// ones.
func (r *CardRequest) TextFields() []TextField {
	c, p := r.Content, r.Positions
	return []TextField{
		{Key: "name", Text: c.Name, Position: p.Name},
		{Key: "jobTitle", Text: c.JobTitle, Position: p.JobTitle},
		{Key: "email", Text: c.Email, Position: p.Email},
		{Key: "phone", Text: c.PhoneNumber, Position: p.Phone},
		{Key: "github", Text: c.Github, Position: p.Github},
		{Key: "linkedin", Text: c.Linkedin, Position: p.Linkedin},
	}
}

// Canonical returns a stable JSON encoding, used as a cache key input.
func (r *CardRequest) Canonical() ([]byte, error) {
	// encoding/json sorts map keys and keeps struct field order.
	return json.Marshal(r)
}

// Format is a payload encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatForPath picks the encoding from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses a request. Unknown fields are ignored.
func Decode(data []byte, f Format) (*CardRequest, error) {
	var r CardRequest
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode yaml design")
		}
	default:
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode json design")
		}
	}
	return &r, nil
}

// Load reads and decodes a design file.
func Load(path string) (*CardRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read design %s", path)
	}
	return Decode(data, FormatForPath(path))
}
