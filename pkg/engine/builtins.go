package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/samber/lo"

	"github.com/chazu/printmycard/pkg/carve"
	"github.com/chazu/printmycard/pkg/geom"
)

// DefaultRaise is the height raised-text stands proud of the face when
// :extra is not given.
const DefaultRaise = 0.4

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms design-script source before passing it to
// zygomys. It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: carve-text -> carve_text
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		switch {
		case b[i] == '"':
			j := skipQuoted(b, i)
			result = append(result, b[i:j]...)
			i = j
		case b[i] == '`':
			j := i + 1
			for j < len(b) && b[j] != '`' {
				j++
			}
			if j < len(b) {
				j++
			}
			result = append(result, b[i:j]...)
			i = j
		case b[i] == ';':
			// zygomys uses // for line comments, not the traditional Lisp ;.
			result = append(result, '/', '/')
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
		case b[i] == ':' && i+1 < len(b) && b[i+1] == '=':
			result = append(result, b[i], b[i+1])
			i += 2
		case b[i] == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			result = append(result, '"')
			result = append(result, kwPrefix...)
			result = append(result, b[i+1:j]...)
			result = append(result, '"')
			i = j
		case b[i] == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			// Only a hyphen between identifier characters; a minus sign
			// before a number is left alone.
			result = append(result, '_')
			i++
		default:
			result = append(result, b[i])
			i++
		}
	}
	return string(result)
}

// skipQuoted returns the index just past the double-quoted literal that
// starts at i.
func skipQuoted(b []byte, i int) int {
	j := i + 1
	for j < len(b) && b[j] != '"' {
		if b[j] == '\\' && j+1 < len(b) {
			j += 2
			continue
		}
		j++
	}
	if j < len(b) {
		j++
	}
	return j
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpOp wraps an Op so it can be returned from an op builtin and
// consumed by `batch` and `card`.
type sexpOp struct {
	op Op
}

func (o *sexpOp) SexpString(ps *zygo.PrintState) string {
	switch {
	case o.op.Text != nil:
		return fmt.Sprintf("(%s %g %g %q)", o.op.Kind, o.op.Text.X, o.op.Text.Y, o.op.Text.Text)
	case o.op.Code != nil:
		return fmt.Sprintf("(%s %g %g %q)", o.op.Kind, o.op.Code.X, o.op.Code.Y, o.op.Code.Payload)
	}
	return fmt.Sprintf("(%s %d ops)", o.op.Kind, len(o.op.Batch))
}
func (o *sexpOp) Type() *zygo.RegisteredType { return nil }

// sexpCard is the value of the `card` form.
type sexpCard struct {
	extents geom.Extents
}

func (c *sexpCard) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(card %s)", c.extents)
}
func (c *sexpCard) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		if name, ok := isKW(args[i]); ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				result.kw[name] = zygo.SexpNull
				i++
			}
			continue
		}
		result.positional = append(result.positional, args[i])
		i++
	}
	return result
}

// only rejects keywords outside allowed.
func (a kwArgs) only(allowed ...string) error {
	var unknown []string
	for k := range a.kw {
		if !lo.Contains(allowed, k) {
			unknown = append(unknown, ":"+k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unknown keyword %s", strings.Join(unknown, ", "))
}

func (a kwArgs) float(name string, def float64) (float64, error) {
	v, ok := a.kw[name]
	if !ok {
		return def, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

func (a kwArgs) str(name string) (string, error) {
	v, ok := a.kw[name]
	if !ok {
		return "", nil
	}
	s, err := toString(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

func (a kwArgs) face() (geom.Face, error) {
	v, ok := a.kw["face"]
	if !ok {
		return geom.FaceTop, nil
	}
	name, err := toKeywordString(v)
	if err != nil {
		return geom.FaceTop, fmt.Errorf("face: %w", err)
	}
	return geom.ParseFace(name)
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// toOps flattens op values, lists and arrays of op values into ops.
func toOps(args []zygo.Sexp) ([]Op, error) {
	var ops []Op
	for i, a := range args {
		if o, ok := a.(*sexpOp); ok {
			ops = append(ops, o.op)
			continue
		}
		items, err := sexpListToSlice(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: expected operation, got %T (%s)", i+1, a, a.SexpString(nil))
		}
		nested, err := toOps(items)
		if err != nil {
			return nil, err
		}
		ops = append(ops, nested...)
	}
	return ops, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// builder collects the program while a script runs.
type builder struct {
	program *Program
	counts  map[string]int
}

// defaultName names a filler that has no :name.
func (b *builder) defaultName(k OpKind) string {
	if b.counts == nil {
		b.counts = make(map[string]int)
	}
	prefix := "text"
	if k == OpFillCode {
		prefix = "code"
	}
	b.counts[prefix]++
	return fmt.Sprintf("%s_%d", prefix, b.counts[prefix])
}

type builtin = func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error)

// registerBuiltins installs the design-script builtins into a zygomys
// environment. Source must be preprocessed with preprocessSource() so that
// :keyword tokens and kebab-case names are recognizable.
func registerBuiltins(env *zygo.Zlisp, b *builder) {
	// (carve-text x y "text" :size 4 :face :bottom)
	env.AddFunction("carve_text", b.textOp(OpCarveText))
	// (fill-text x y "text" :name "label" :color "#000")
	env.AddFunction("fill_text", b.textOp(OpFillText))
	// (raised-text x y "text" :extra 0.4)
	env.AddFunction("raised_text", b.textOp(OpRaisedText))
	// (carve-code x y "payload" :face :bottom :cell 1.2 :border 2)
	env.AddFunction("carve_code", b.codeOp(OpCarveCode))
	// (fill-code x y "payload" :name "qr")
	env.AddFunction("fill_code", b.codeOp(OpFillCode))

	// (batch (carve-text ...) (carve-code ...))
	env.AddFunction("batch", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		ops, err := toOps(args)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("batch: %w", err)
		}
		for _, op := range ops {
			if op.Kind != OpCarveText && op.Kind != OpCarveCode {
				return zygo.SexpNull, fmt.Errorf("batch: only carve-text and carve-code can be batched, got %s", op.Kind)
			}
		}
		return &sexpOp{op: Op{Kind: OpBatch, Batch: ops}}, nil
	})

	// (card :width 84.5 :height 54 :thickness 1.6 :radius 3 :color "#fff" ops...)
	env.AddFunction("card", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if b.program != nil {
			return zygo.SexpNull, fmt.Errorf("card: a script defines exactly one card")
		}
		pa := parseArgs(args)
		if err := pa.only("width", "height", "thickness", "radius", "color"); err != nil {
			return zygo.SexpNull, fmt.Errorf("card: %w", err)
		}
		p := &Program{}
		for _, f := range []struct {
			kw  string
			dst *float64
		}{
			{"width", &p.Extents.Width},
			{"height", &p.Extents.Depth},
			{"thickness", &p.Extents.Thickness},
			{"radius", &p.Radius},
		} {
			v, err := pa.float(f.kw, 0)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("card: %w", err)
			}
			*f.dst = v
		}
		if err := p.Extents.Validate(); err != nil {
			return zygo.SexpNull, fmt.Errorf("card: %w", err)
		}
		if p.Radius < 0 {
			return zygo.SexpNull, fmt.Errorf("card: radius must be non-negative, got %g", p.Radius)
		}
		color, err := pa.str("color")
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("card: %w", err)
		}
		p.Color = color

		ops, err := toOps(pa.positional)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("card: %w", err)
		}
		seen := make(map[string]bool)
		for _, op := range ops {
			if !op.IsFiller() {
				continue
			}
			if seen[op.Name] {
				return zygo.SexpNull, fmt.Errorf("card: duplicate part name %q", op.Name)
			}
			seen[op.Name] = true
		}
		p.Ops = ops
		p.Warnings = anchorWarnings(p)
		b.program = p
		return &sexpCard{extents: p.Extents}, nil
	})
}

func (b *builder) textOp(kind OpKind) builtin {
	return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		op, err := b.parseTextOp(kind, args)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %w", kind, err)
		}
		return &sexpOp{op: op}, nil
	}
}

func (b *builder) parseTextOp(kind OpKind, args []zygo.Sexp) (Op, error) {
	pa := parseArgs(args)
	allowed := []string{"size", "face"}
	switch kind {
	case OpFillText:
		allowed = append(allowed, "name", "color")
	case OpRaisedText:
		allowed = append(allowed, "name", "color", "extra")
	}
	if err := pa.only(allowed...); err != nil {
		return Op{}, err
	}
	x, y, s, err := anchor(pa.positional)
	if err != nil {
		return Op{}, err
	}
	size, err := pa.float("size", carve.DefaultTextHeight)
	if err != nil {
		return Op{}, err
	}
	face, err := pa.face()
	if err != nil {
		return Op{}, err
	}
	op := Op{Kind: kind, Text: &carve.TextFeature{X: x, Y: y, Text: s, Size: size, Face: face}}
	if kind == OpRaisedText {
		if op.Extra, err = pa.float("extra", DefaultRaise); err != nil {
			return Op{}, err
		}
	}
	if op.IsFiller() {
		if err := b.nameFiller(&op, pa); err != nil {
			return Op{}, err
		}
	}
	return op, nil
}

func (b *builder) codeOp(kind OpKind) builtin {
	return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		op, err := b.parseCodeOp(kind, args)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %w", kind, err)
		}
		return &sexpOp{op: op}, nil
	}
}

func (b *builder) parseCodeOp(kind OpKind, args []zygo.Sexp) (Op, error) {
	pa := parseArgs(args)
	allowed := []string{"face", "cell", "border"}
	if kind == OpFillCode {
		allowed = append(allowed, "name", "color")
	}
	if err := pa.only(allowed...); err != nil {
		return Op{}, err
	}
	x, y, payload, err := anchor(pa.positional)
	if err != nil {
		return Op{}, err
	}
	face, err := pa.face()
	if err != nil {
		return Op{}, err
	}
	cell, err := pa.float("cell", 0)
	if err != nil {
		return Op{}, err
	}
	f := &carve.CodeFeature{X: x, Y: y, Payload: payload, Face: face, CellSize: cell}
	if _, ok := pa.kw["border"]; ok {
		n, err := pa.float("border", 0)
		if err != nil {
			return Op{}, err
		}
		if n != math.Trunc(n) {
			return Op{}, fmt.Errorf("border: expected a whole number of modules, got %g", n)
		}
		f.Border = carve.Border(int(n))
	}
	op := Op{Kind: kind, Code: f}
	if op.IsFiller() {
		if err := b.nameFiller(&op, pa); err != nil {
			return Op{}, err
		}
	}
	return op, nil
}

func (b *builder) nameFiller(op *Op, pa kwArgs) error {
	name, err := pa.str("name")
	if err != nil {
		return err
	}
	if name == "" {
		name = b.defaultName(op.Kind)
	}
	color, err := pa.str("color")
	if err != nil {
		return err
	}
	op.Name, op.Color = name, color
	return nil
}

// anchor reads the positional (x y string) triple of a feature op.
func anchor(args []zygo.Sexp) (x, y float64, s string, err error) {
	if len(args) != 3 {
		return 0, 0, "", fmt.Errorf("expected x, y and a string, got %d positional arguments", len(args))
	}
	if x, err = toFloat64(args[0]); err != nil {
		return 0, 0, "", fmt.Errorf("x: %w", err)
	}
	if y, err = toFloat64(args[1]); err != nil {
		return 0, 0, "", fmt.Errorf("y: %w", err)
	}
	if s, err = toString(args[2]); err != nil {
		return 0, 0, "", err
	}
	return x, y, s, nil
}

// anchorWarnings flags feature anchors that lie outside the card outline.
func anchorWarnings(p *Program) []EvalWarning {
	halfW, halfH := p.Extents.Width/2, p.Extents.Depth/2
	var out []EvalWarning
	var visit func(op Op)
	visit = func(op Op) {
		var x, y float64
		switch {
		case op.Text != nil:
			x, y = op.Text.X, op.Text.Y
		case op.Code != nil:
			x, y = op.Code.X, op.Code.Y
		default:
			for _, c := range op.Batch {
				visit(c)
			}
			return
		}
		if math.Abs(x) > halfW || math.Abs(y) > halfH {
			out = append(out, EvalWarning{
				Message: fmt.Sprintf("%s anchor (%g, %g) lies outside the card", op.Kind, x, y),
				Part:    op.Name,
			})
		}
	}
	for _, op := range p.Ops {
		visit(op)
	}
	return out
}
