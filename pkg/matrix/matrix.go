// Package matrix turns payload strings into square code matrices.
//
// Encoding and error correction are delegated to a Bitmapper; this package
// only owns the quiet-zone framing around the encoded bitmap.
package matrix

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/chazu/printmycard/pkg/errors"
)

// Level is an error-correction level, from maximum capacity (Low) to
// maximum recoverability (High).
type Level int

const (
	LevelLow      Level = iota // ~7% recovery
	LevelMedium                // ~15% recovery
	LevelQuartile              // ~25% recovery
	LevelHigh                  // ~30% recovery
)

// DefaultLevel is the middle level used when none is configured.
const DefaultLevel = LevelMedium

var levelNames = map[Level]string{
	LevelLow:      "L",
	LevelMedium:   "M",
	LevelQuartile: "Q",
	LevelHigh:     "H",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "?"
}

// ParseLevel accepts L, M, Q, H (any case) and the long names low, medium,
// quartile, high. An empty string yields DefaultLevel.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultLevel, nil
	case "l", "low":
		return LevelLow, nil
	case "m", "medium":
		return LevelMedium, nil
	case "q", "quartile":
		return LevelQuartile, nil
	case "h", "high":
		return LevelHigh, nil
	}
	return 0, errors.New(errors.ErrCodeConfiguration, "unknown error-correction level %q (want L, M, Q or H)", s)
}

// Matrix is a square row-major grid; true marks a filled cell. Row 0 is
// the top row.
type Matrix [][]bool

// Size returns the side length.
func (m Matrix) Size() int {
	return len(m)
}

// At reports whether the cell at (row, col) is filled. Out-of-range cells
// are empty.
func (m Matrix) At(row, col int) bool {
	if row < 0 || row >= len(m) || col < 0 || col >= len(m[row]) {
		return false
	}
	return m[row][col]
}

// Filled returns the number of filled cells.
func (m Matrix) Filled() int {
	n := 0
	for _, row := range m {
		for _, v := range row {
			if v {
				n++
			}
		}
	}
	return n
}

// String renders the matrix with two characters per cell.
func (m Matrix) String() string {
	var b strings.Builder
	for _, row := range m {
		for _, v := range row {
			if v {
				b.WriteString("██")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Bitmapper encodes a payload into a square bitmap without any quiet zone.
type Bitmapper interface {
	Bitmap(payload string, level Level) (Matrix, error)
}

// QR encodes payloads as QR codes.
type QR struct{}

var qrLevels = map[Level]qrcode.RecoveryLevel{
	LevelLow:      qrcode.Low,
	LevelMedium:   qrcode.Medium,
	LevelQuartile: qrcode.High,
	LevelHigh:     qrcode.Highest,
}

// Bitmap implements Bitmapper.
func (QR) Bitmap(payload string, level Level) (Matrix, error) {
	rl, ok := qrLevels[level]
	if !ok {
		return nil, errors.New(errors.ErrCodeConfiguration, "unknown error-correction level %d", level)
	}
	q, err := qrcode.New(payload, rl)
	if err != nil {
		return nil, err
	}
	q.DisableBorder = true
	return Matrix(q.Bitmap()), nil
}

// Encoder produces framed code matrices.
type Encoder struct {
	Source Bitmapper // defaults to QR
	Level  Level
}

// Encode encodes payload and frames it with border empty cells on every
// side. Encoding failures are returned as ENCODING_FAILURE and are never
// retried.
func (e Encoder) Encode(payload string, border int) (Matrix, error) {
	if border < 0 {
		return nil, errors.New(errors.ErrCodeConfiguration, "border must be non-negative, got %d", border)
	}
	src := e.Source
	if src == nil {
		src = QR{}
	}
	m, err := src.Bitmap(payload, e.Level)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeConfiguration {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrCodeEncodingFailure, err, "encode %d-byte payload", len(payload))
	}
	if err := checkSquare(m); err != nil {
		return nil, err
	}
	return Frame(m, border), nil
}

func checkSquare(m Matrix) error {
	for i, row := range m {
		if len(row) != len(m) {
			return errors.New(errors.ErrCodeEncodingFailure, "encoder returned a non-square bitmap (row %d has %d cells, want %d)", i, len(row), len(m))
		}
	}
	return nil
}

// Frame surrounds m with border empty cells on every side. A zero border
// returns m itself.
func Frame(m Matrix, border int) Matrix {
	if border <= 0 {
		return m
	}
	size := len(m) + 2*border
	out := make(Matrix, size)
	for r := range out {
		out[r] = make([]bool, size)
	}
	for r, row := range m {
		copy(out[r+border][border:], row)
	}
	return out
}
