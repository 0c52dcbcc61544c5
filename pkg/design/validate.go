package design

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/layout"
	"github.com/chazu/printmycard/pkg/matrix"
	"github.com/chazu/printmycard/pkg/scene"
)

// Severity indicates whether a finding blocks generation or is advisory.
type Severity int

const (
	SeverityError   Severity = iota // blocks generation
	SeverityWarning                 // informational
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Finding is a single validation result.
type Finding struct {
	Field    string   `json:"field,omitempty"` // dotted path into the request
	Message  string   `json:"message"`
	Severity Severity `json:"-"`
}

func (f Finding) Error() string {
	if f.Field == "" {
		return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Field, f.Message)
}

// Result bundles blocking errors and advisory warnings.
type Result struct {
	Errors   []Finding `json:"errors,omitempty"`
	Warnings []Finding `json:"warnings,omitempty"`
}

// OK reports whether there are no blocking errors.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Err returns the blocking errors as one INVALID_INPUT error, or nil.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	msgs := lo.Map(r.Errors, func(f Finding, _ int) string {
		if f.Field == "" {
			return f.Message
		}
		return f.Field + ": " + f.Message
	})
	return errors.New(errors.ErrCodeInvalidInput, "invalid design: %s", strings.Join(msgs, "; "))
}

// CodeSettings are the matrix-code settings geometric checks assume.
type CodeSettings struct {
	CellSize float64
	Border   int
	Level    matrix.Level
}

// Validate runs the structural checks only. An empty slice means the
// request can be generated.
func Validate(r *CardRequest) []Finding {
	var out []Finding
	out = append(out, validateBlank(r)...)
	out = append(out, validateContent(r)...)
	out = append(out, validateColors(r)...)
	return out
}

// ValidateAll runs structural checks (errors) and geometric checks
// (warnings). Geometric checks only run on a structurally valid request.
func ValidateAll(r *CardRequest, code CodeSettings) Result {
	var res Result
	res.Errors = Validate(r)
	if len(res.Errors) > 0 {
		return res
	}
	res.Warnings = validateGeometry(r, code)
	return res
}

func errorf(field, format string, args ...any) Finding {
	return Finding{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

func warnf(field, format string, args ...any) Finding {
	return Finding{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func validateBlank(r *CardRequest) []Finding {
	var out []Finding
	d := r.Design
	if !positive(d.Dimensions.Width) {
		out = append(out, errorf("design.dimensions.width", "must be positive, got %g", d.Dimensions.Width))
	}
	if !positive(d.Dimensions.Height) {
		out = append(out, errorf("design.dimensions.height", "must be positive, got %g", d.Dimensions.Height))
	}
	if !positive(d.Thickness) {
		out = append(out, errorf("design.thickness", "must be positive, got %g", d.Thickness))
	}
	if d.FilletRadius < 0 || math.IsNaN(d.FilletRadius) {
		out = append(out, errorf("design.filletRadius", "must be non-negative, got %g", d.FilletRadius))
	} else if len(out) == 0 && 2*d.FilletRadius >= math.Min(d.Dimensions.Width, d.Dimensions.Height) {
		out = append(out, errorf("design.filletRadius", "%g does not fit a %g x %g card", d.FilletRadius, d.Dimensions.Width, d.Dimensions.Height))
	}
	return out
}

func validateContent(r *CardRequest) []Finding {
	var out []Finding
	if strings.TrimSpace(r.Content.QRURL) == "" {
		out = append(out, errorf("content.qrUrl", "must not be empty"))
	}
	if r.Positions.QRCode == nil {
		out = append(out, errorf("positions.qrCode", "is required"))
	} else if _, err := geom.ParseFace(r.Positions.QRCode.Face); err != nil {
		out = append(out, errorf("positions.qrCode.face", "unsupported face %q", r.Positions.QRCode.Face))
	}
	for _, f := range r.TextFields() {
		if !f.IsSet() {
			continue
		}
		field := "positions." + f.Key
		if f.Position == nil {
			out = append(out, errorf(field, "is required when content is set"))
			continue
		}
		if _, err := geom.ParseFace(f.Position.Face); err != nil {
			out = append(out, errorf(field+".face", "unsupported face %q", f.Position.Face))
		}
	}
	return out
}

func validateColors(r *CardRequest) []Finding {
	var out []Finding
	for _, fc := range [][2]string{{"design.color", r.Design.Color}, {"design.fontColor", r.Design.FontColor}} {
		field, c := fc[0], fc[1]
		if c == "" {
			continue
		}
		if _, err := scene.ParseColor(c); err != nil {
			out = append(out, errorf(field, "invalid colour %q", c))
		}
	}
	return out
}

// validateGeometry checks that features land on the card.
func validateGeometry(r *CardRequest, code CodeSettings) []Finding {
	var out []Finding
	halfW := r.Design.Dimensions.Width / 2
	halfH := r.Design.Dimensions.Height / 2
	inside := func(p *Position) bool {
		return math.Abs(p.X) <= halfW && math.Abs(p.Y) <= halfH
	}

	for _, f := range r.TextFields() {
		if !f.IsSet() || f.Position == nil {
			continue
		}
		if !inside(f.Position) {
			out = append(out, warnf("positions."+f.Key, "anchor (%g, %g) lies outside the card", f.Position.X, f.Position.Y))
		}
	}

	p := r.Positions.QRCode
	if !inside(p) {
		out = append(out, warnf("positions.qrCode", "anchor (%g, %g) lies outside the card", p.X, p.Y))
	}
	if code.CellSize <= 0 {
		return out
	}
	// Encoding errors are reported when the card is generated.
	m, err := matrix.Encoder{Level: code.Level}.Encode(r.Content.QRURL, code.Border)
	if err != nil {
		return out
	}
	half := layout.Footprint(m, code.CellSize) / 2
	if math.Abs(p.X)+half > halfW || math.Abs(p.Y)+half > halfH {
		out = append(out, warnf("positions.qrCode", "%.1f mm code at (%g, %g) extends past the card edge", 2*half, p.X, p.Y))
	}
	return out
}
