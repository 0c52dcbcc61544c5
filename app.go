package main

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/chazu/printmycard/internal/config"
	"github.com/chazu/printmycard/internal/server"
	"github.com/chazu/printmycard/pkg/cache"
	"github.com/chazu/printmycard/pkg/card"
	"github.com/chazu/printmycard/pkg/carve"
	"github.com/chazu/printmycard/pkg/engine"
	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/kernel"
	"github.com/chazu/printmycard/pkg/kernel/openscad"
	"github.com/chazu/printmycard/pkg/kernel/sdfx"
	"github.com/chazu/printmycard/pkg/scene"
)

// colorPalette assigns distinct preview colors to parts without one.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// kernelFactory builds the geometry kernel for a configuration.
type kernelFactory func(cfg *config.Config, logger *log.Logger) kernel.Kernel

// newKernel returns the configured backend.
func newKernel(cfg *config.Config, logger *log.Logger) kernel.Kernel {
	if cfg.Kernel.Backend == config.BackendSDFX {
		opts := []sdfx.Option{sdfx.WithMeshCells(cfg.Kernel.MeshCells), sdfx.WithLogger(logger)}
		if cfg.Font.Path != "" {
			opts = append(opts, sdfx.WithFontFile(cfg.Font.Path))
		}
		return sdfx.New(opts...)
	}
	return openscad.New(
		openscad.WithBinary(cfg.Kernel.OpenSCADBin),
		openscad.WithTempDir(cfg.Kernel.TempDir),
		openscad.WithFont(cfg.Font.Name),
		openscad.WithLogger(logger),
	)
}

// App ties configuration, the geometry kernel and the card pipeline
// together for the CLI and the HTTP server.
type App struct {
	cfg    *config.Config
	kernel kernel.Kernel
	logger *log.Logger
}

// NewApp creates an App on the given kernel.
func NewApp(cfg *config.Config, k kernel.Kernel, logger *log.Logger) *App {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &App{cfg: cfg, kernel: k, logger: logger}
}

// Check reports whether the kernel's external dependencies are usable.
func (a *App) Check(ctx context.Context) error {
	if c, ok := a.kernel.(kernel.Checker); ok {
		return c.Check(ctx)
	}
	return nil
}

// Builder returns a card session builder using the configured settings.
func (a *App) Builder() *card.Builder {
	return &card.Builder{Kernel: a.kernel, Settings: a.cfg.CardSettings(), Logger: a.logger}
}

// Service opens the configured artifact cache and returns a card service
// on top of it. The caller closes the returned cache.
func (a *App) Service(ctx context.Context) (*card.Service, cache.Cache, error) {
	c, err := cache.Open(ctx, a.cfg.CacheOptions())
	if err != nil {
		return nil, nil, err
	}
	return card.NewService(a.Builder(), c, a.cfg.Cache.TTL), c, nil
}

// evaluate runs a design script. Each call uses its own Engine so
// concurrent requests never supersede one another.
func (a *App) evaluate(source string) (*engine.Program, []engine.EvalError, error) {
	return engine.NewEngine().Evaluate(source)
}

// RunScript evaluates source and carves it into a scene.
func (a *App) RunScript(ctx context.Context, source string) (*scene.Scene, []engine.EvalWarning, error) {
	p, evalErrs, err := a.evaluate(source)
	if err != nil {
		return nil, nil, err
	}
	if len(evalErrs) > 0 {
		msgs := lo.Map(evalErrs, func(e engine.EvalError, _ int) string { return e.Error() })
		return nil, nil, errors.New(errors.ErrCodeInvalidInput, "script: %s", strings.Join(msgs, "; "))
	}
	for _, w := range p.Warnings {
		a.logger.Warn("script", "part", w.Part, "warning", w.Message)
	}

	w, err := carve.New(a.kernel, p.Config(a.cfg.CarveConfig()), carve.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}
	sc, err := engine.Run(ctx, p, w)
	if err != nil {
		return nil, nil, err
	}
	return sc, p.Warnings, nil
}

// Evaluate takes design-script source and returns preview meshes and
// errors. It never fails; problems are reported in the result.
func (a *App) Evaluate(ctx context.Context, source string) server.EvalResult {
	result := server.EvalResult{
		Meshes:   []server.MeshData{},
		Errors:   []server.EvalErrorData{},
		Warnings: []server.EvalErrorData{},
	}
	fail := func(msg string) server.EvalResult {
		result.Errors = append(result.Errors, server.EvalErrorData{Message: msg})
		return result
	}

	// Step 1: Evaluate the script into a program.
	p, evalErrs, err := a.evaluate(source)
	if err != nil {
		a.logger.Error("evaluate", "err", err)
		return fail(err.Error())
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, server.EvalErrorData{Line: e.Line, Col: e.Col, Message: e.Message})
		}
		return result
	}
	for _, w := range p.Warnings {
		result.Warnings = append(result.Warnings, server.EvalErrorData{Line: w.Line, Col: w.Col, Message: w.Message})
	}

	// Step 2: Carve it.
	w, err := carve.New(a.kernel, p.Config(a.cfg.CarveConfig()), carve.WithLogger(a.logger))
	if err != nil {
		return fail(err.Error())
	}
	sc, err := engine.Run(ctx, p, w)
	if err != nil {
		a.logger.Error("run", "err", err)
		return fail(err.Error())
	}

	// Step 3: Tessellate every part.
	meshes, err := sc.Tessellate(ctx, a.kernel, 0)
	if err != nil {
		a.logger.Error("tessellate", "err", err)
		return fail("tessellation failed: " + err.Error())
	}

	// Step 4: Convert kernel meshes to preview meshes.
	for i, m := range meshes {
		color := sc.Parts[i].Color
		if color == "" {
			color = colorPalette[i%len(colorPalette)]
		}
		result.Meshes = append(result.Meshes, server.MeshData{
			Vertices: m.Vertices,
			Normals:  m.Normals,
			Indices:  m.Indices,
			PartName: m.PartName,
			Color:    color,
		})
	}
	return result
}
