// Package carve implements the Workpiece: the single working solid of a
// card session and the feature operations that carve into it or produce
// filler solids alongside it.
//
// A Workpiece moves through three states. It starts Uninitialized; the
// first initializer or feature operation materializes the blank and moves
// it to Ready; Finish hands the final solid to the caller and moves it to
// Consumed, after which every operation fails. Destructive operations are
// all-or-nothing: on failure the current solid is left as it was.
//
// A Workpiece is not safe for concurrent use. Its operations depend on each
// other's results and must run in order. Distinct Workpieces share nothing
// and may run in parallel.
package carve

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/geom"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/matrix"
)

// State is the lifecycle state of a Workpiece.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateConsumed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults used by DefaultConfig.
const (
	DefaultDepth      = 0.4
	DefaultTextHeight = 4.0
	DefaultCellSize   = 1.2
	DefaultBorder     = 2
	DefaultFont       = "DejaVu Sans"
)

// CodeDefaults are the matrix-code settings used when a feature leaves
// them unset.
type CodeDefaults struct {
	CellSize float64
	Border   int
	Level    matrix.Level
}

// Config is the per-session configuration of a Workpiece.
type Config struct {
	Extents  geom.Extents
	Depth    float64 // carve depth, > 0
	Font     string  // font family name
	FontPath string  // optional font file
	Code     CodeDefaults

	// Epsilon extends subtraction volumes beyond the face they open onto,
	// so carves never leave a coplanar skin. Fillers ignore it.
	Epsilon float64
}

// DefaultConfig returns a Config for the given extents with the standard
// card settings.
func DefaultConfig(e geom.Extents) Config {
	return Config{
		Extents: e,
		Depth:   DefaultDepth,
		Font:    DefaultFont,
		Code: CodeDefaults{
			CellSize: DefaultCellSize,
			Border:   DefaultBorder,
			Level:    matrix.DefaultLevel,
		},
	}
}

// Validate checks the configuration. Every violation is a
// CONFIGURATION_ERROR.
func (c Config) Validate() error {
	if err := c.Extents.Validate(); err != nil {
		return err
	}
	if !(c.Depth > 0) || math.IsInf(c.Depth, 0) {
		return errors.New(errors.ErrCodeConfiguration, "carve depth must be positive, got %g", c.Depth)
	}
	if c.Depth > c.Extents.Thickness {
		return errors.New(errors.ErrCodeConfiguration, "carve depth %g exceeds blank thickness %g", c.Depth, c.Extents.Thickness)
	}
	if !(c.Code.CellSize > 0) {
		return errors.New(errors.ErrCodeConfiguration, "code cell size must be positive, got %g", c.Code.CellSize)
	}
	if c.Code.Border < 0 {
		return errors.New(errors.ErrCodeConfiguration, "code border must be non-negative, got %d", c.Code.Border)
	}
	if c.Epsilon < 0 {
		return errors.New(errors.ErrCodeConfiguration, "epsilon must be non-negative, got %g", c.Epsilon)
	}
	return nil
}

// Option configures a Workpiece.
type Option func(*Workpiece)

// WithLogger sets the logger for state transitions and kernel timings.
func WithLogger(l *log.Logger) Option {
	return func(w *Workpiece) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBitmapper replaces the QR encoder used for matrix codes.
func WithBitmapper(b matrix.Bitmapper) Option {
	return func(w *Workpiece) { w.enc.Source = b }
}

// Workpiece owns the working solid of one card session.
type Workpiece struct {
	id     string
	k      kernel.Kernel
	cfg    Config
	enc    matrix.Encoder
	logger *log.Logger

	state State
	solid kernel.Solid
}

// New returns an Uninitialized Workpiece.
func New(k kernel.Kernel, cfg Config, opts ...Option) (*Workpiece, error) {
	if k == nil {
		return nil, errors.New(errors.ErrCodeInternal, "workpiece needs a geometry kernel")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Workpiece{
		id:     uuid.NewString(),
		k:      k,
		cfg:    cfg,
		enc:    matrix.Encoder{Level: cfg.Code.Level},
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("workpiece", w.id[:8])
	return w, nil
}

// ID identifies the session in logs.
func (w *Workpiece) ID() string { return w.id }

// State returns the lifecycle state.
func (w *Workpiece) State() State { return w.state }

// Config returns the session configuration.
func (w *Workpiece) Config() Config { return w.cfg }

// Extents returns the blank's extents.
func (w *Workpiece) Extents() geom.Extents { return w.cfg.Extents }

// SetExtents changes the blank's extents. Once the blank is materialized
// only the same extents are accepted; anything else is a
// CONFIGURATION_ERROR and leaves the Workpiece untouched.
func (w *Workpiece) SetExtents(e geom.Extents) error {
	if err := w.checkNotConsumed(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if w.state == StateReady {
		if !e.Equal(w.cfg.Extents) {
			return errors.New(errors.ErrCodeConfiguration, "blank is fixed at %v, cannot change to %v", w.cfg.Extents, e)
		}
		return nil
	}
	if w.cfg.Depth > e.Thickness {
		return errors.New(errors.ErrCodeConfiguration, "carve depth %g exceeds blank thickness %g", w.cfg.Depth, e.Thickness)
	}
	w.cfg.Extents = e
	return nil
}

// InitializePlainBox materializes the blank as a plain box.
func (w *Workpiece) InitializePlainBox() error {
	return w.initialize("plain", func(e geom.Extents) (kernel.Solid, error) {
		return w.k.Box(e.Width, e.Depth, e.Thickness)
	})
}

// InitializeRoundedBox materializes the blank with its vertical edges
// rounded by radius. It is centered on the origin like the plain box.
func (w *Workpiece) InitializeRoundedBox(radius float64) error {
	if radius < 0 {
		return errors.New(errors.ErrCodeConfiguration, "corner radius must be non-negative, got %g", radius)
	}
	return w.initialize("rounded", func(e geom.Extents) (kernel.Solid, error) {
		return w.k.RoundedBox(e.Width, e.Depth, e.Thickness, radius)
	})
}

func (w *Workpiece) initialize(kind string, build func(geom.Extents) (kernel.Solid, error)) error {
	if err := w.checkNotConsumed(); err != nil {
		return err
	}
	if w.state != StateUninitialized {
		return errors.New(errors.ErrCodeConfiguration, "blank already materialized; a workpiece cannot be reset")
	}
	s, err := build(w.cfg.Extents)
	if err != nil {
		return fmt.Errorf("materialize %s blank: %w", kind, err)
	}
	w.commit(s)
	w.logger.Debug("blank materialized", "kind", kind, "extents", w.cfg.Extents)
	return nil
}

// Solid returns the current solid, materializing a plain blank if needed.
func (w *Workpiece) Solid() (kernel.Solid, error) {
	if err := w.checkNotConsumed(); err != nil {
		return nil, err
	}
	base, err := w.base()
	if err != nil {
		return nil, err
	}
	w.commit(base)
	return base, nil
}

// Finish returns the final solid and consumes the Workpiece.
func (w *Workpiece) Finish() (kernel.Solid, error) {
	s, err := w.Solid()
	if err != nil {
		return nil, err
	}
	w.state = StateConsumed
	w.solid = nil
	w.logger.Debug("workpiece consumed")
	return s, nil
}

// BatchSubtract subtracts the union of solids from the current solid in a
// single boolean pass. An empty batch returns the current solid unchanged.
func (w *Workpiece) BatchSubtract(ctx context.Context, solids ...kernel.Solid) (kernel.Solid, error) {
	if err := w.checkNotConsumed(); err != nil {
		return nil, err
	}
	base, err := w.base()
	if err != nil {
		return nil, err
	}
	if len(solids) == 0 {
		w.commit(base)
		return base, nil
	}
	return w.subtract(ctx, "batch", base, solids...)
}

// subtract replaces the current solid with base minus cut. The
// replacement only happens when the kernel succeeds.
func (w *Workpiece) subtract(ctx context.Context, op string, base kernel.Solid, cut ...kernel.Solid) (kernel.Solid, error) {
	start := time.Now()
	out, err := w.k.Difference(ctx, base, cut...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	w.commit(out)
	w.logger.Debug("subtracted", "op", op, "solids", len(cut), "elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

// base returns the current solid or, before materialization, a new plain
// blank that is not yet committed.
func (w *Workpiece) base() (kernel.Solid, error) {
	if w.solid != nil {
		return w.solid, nil
	}
	e := w.cfg.Extents
	s, err := w.k.Box(e.Width, e.Depth, e.Thickness)
	if err != nil {
		return nil, fmt.Errorf("materialize plain blank: %w", err)
	}
	return s, nil
}

// materialize commits a plain blank if none exists yet. Non-destructive
// operations call it once they have succeeded.
func (w *Workpiece) materialize() error {
	if w.state != StateUninitialized {
		return nil
	}
	s, err := w.base()
	if err != nil {
		return err
	}
	w.commit(s)
	return nil
}

func (w *Workpiece) commit(s kernel.Solid) {
	if w.state == StateUninitialized {
		w.logger.Debug("state", "from", w.state, "to", StateReady)
		w.state = StateReady
	}
	w.solid = s
}

func (w *Workpiece) checkNotConsumed() error {
	if w.state == StateConsumed {
		return errors.New(errors.ErrCodeConfiguration, "workpiece %s is consumed", w.id)
	}
	return nil
}
