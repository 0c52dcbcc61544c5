package card

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/chazu/printmycard/pkg/cache"
	"github.com/chazu/printmycard/pkg/design"
	"github.com/chazu/printmycard/pkg/scene"
)

// Artifact is an exported card.
type Artifact struct {
	Data     []byte
	Format   scene.Format
	Warnings []design.Finding
	Cached   bool
}

// Service builds and exports cards, reusing cached artifacts.
type Service struct {
	builder *Builder
	cache   cache.Cache
	ttl     time.Duration
}

// NewService returns a Service. A nil cache disables caching.
func NewService(b *Builder, c cache.Cache, ttl time.Duration) *Service {
	if c == nil {
		c = cache.NewNullCache()
	}
	return &Service{builder: b, cache: c, ttl: ttl}
}

// Builder returns the session builder.
func (s *Service) Builder() *Builder { return s.builder }

// Generate builds req and exports it in format f. Cache failures are
// logged and otherwise ignored.
func (s *Service) Generate(ctx context.Context, req *design.CardRequest, f scene.Format) (*Artifact, error) {
	logger := s.builder.Logger
	if logger == nil {
		logger = log.Default()
	}

	canonical, err := req.Canonical()
	if err != nil {
		return nil, fmt.Errorf("canonical request: %w", err)
	}
	key := cache.ArtifactKey(canonical, s.builder.Settings, string(f))

	if data, hit, err := s.cache.Get(ctx, key); err != nil {
		logger.Warn("artifact cache read failed", "err", err)
	} else if hit {
		logger.Debug("artifact cache hit", "key", key)
		// Only requests that passed validation are cached, so this yields
		// the warnings of the original build.
		check := design.ValidateAll(req, s.builder.Settings.CodeSettings())
		return &Artifact{Data: data, Format: f, Warnings: check.Warnings, Cached: true}, nil
	}

	res, err := s.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := scene.Export(ctx, s.builder.Kernel, res.Scene, f, &buf); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, buf.Bytes(), s.ttl); err != nil {
		logger.Warn("artifact cache write failed", "err", err)
	}
	return &Artifact{Data: buf.Bytes(), Format: f, Warnings: res.Warnings}, nil
}
