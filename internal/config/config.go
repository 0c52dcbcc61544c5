// Package config loads service and CLI settings from defaults, an optional
// config file and PRINTMYCARD_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chazu/printmycard/pkg/cache"
	"github.com/chazu/printmycard/pkg/card"
	"github.com/chazu/printmycard/pkg/carve"
	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/matrix"
)

// EnvPrefix prefixes every environment variable, with dots in keys
// replaced by underscores (PRINTMYCARD_CARVE_DEPTH).
const EnvPrefix = "PRINTMYCARD"

// Kernel backends.
const (
	BackendOpenSCAD = "openscad"
	BackendSDFX     = "sdfx"
)

type KernelConfig struct {
	Backend     string `mapstructure:"backend"`
	OpenSCADBin string `mapstructure:"openscad_bin"`
	TempDir     string `mapstructure:"temp_dir"`
	MeshCells   int    `mapstructure:"mesh_cells"`
}

type FontConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

type CarveConfig struct {
	Depth        float64 `mapstructure:"depth"`
	Epsilon      float64 `mapstructure:"epsilon"`
	TextHeight   float64 `mapstructure:"text_height"`
	RaisedHeight float64 `mapstructure:"raised_height"`
}

type CodeConfig struct {
	CellSize float64 `mapstructure:"cell_size"`
	Border   int     `mapstructure:"border"`
	Level    string  `mapstructure:"level"`
}

type CacheConfig struct {
	Backend   string        `mapstructure:"backend"`
	Dir       string        `mapstructure:"dir"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Config is the complete configuration.
type Config struct {
	Listen         string        `mapstructure:"listen"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Kernel         KernelConfig  `mapstructure:"kernel"`
	Font           FontConfig    `mapstructure:"font"`
	Carve          CarveConfig   `mapstructure:"carve"`
	Code           CodeConfig    `mapstructure:"code"`
	Cache          CacheConfig   `mapstructure:"cache"`
}

// New returns a viper instance with every default set and the
// environment bound. CARD_FONT is accepted for font.name.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("listen", ":8000")
	v.SetDefault("request_timeout", "2m")
	v.SetDefault("kernel.backend", BackendOpenSCAD)
	v.SetDefault("kernel.openscad_bin", "openscad")
	v.SetDefault("kernel.temp_dir", "")
	v.SetDefault("kernel.mesh_cells", 400)
	v.SetDefault("font.name", carve.DefaultFont)
	v.SetDefault("font.path", "")
	v.SetDefault("carve.depth", carve.DefaultDepth)
	v.SetDefault("carve.epsilon", 0.0)
	v.SetDefault("carve.text_height", carve.DefaultTextHeight)
	v.SetDefault("carve.raised_height", 0.0)
	v.SetDefault("code.cell_size", carve.DefaultCellSize)
	v.SetDefault("code.border", carve.DefaultBorder)
	v.SetDefault("code.level", "M")
	v.SetDefault("cache.backend", cache.BackendNone)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", "24h")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("font.name", EnvPrefix+"_FONT_NAME", "CARD_FONT")
	return v
}

// Load reads file into v when it is not empty, then decodes and validates.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "read config %s", file)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration with nothing but defaults and the
// environment applied.
func Default() (*Config, error) {
	return Load(New(), "")
}

// Validate checks every setting. Violations are CONFIGURATION_ERROR.
func (c *Config) Validate() error {
	switch {
	case c.Carve.Depth <= 0:
		return errors.New(errors.ErrCodeConfiguration, "carve.depth must be positive, got %g", c.Carve.Depth)
	case c.Carve.Epsilon < 0:
		return errors.New(errors.ErrCodeConfiguration, "carve.epsilon must be non-negative, got %g", c.Carve.Epsilon)
	case c.Carve.TextHeight <= 0:
		return errors.New(errors.ErrCodeConfiguration, "carve.text_height must be positive, got %g", c.Carve.TextHeight)
	case c.Carve.RaisedHeight < 0:
		return errors.New(errors.ErrCodeConfiguration, "carve.raised_height must be non-negative, got %g", c.Carve.RaisedHeight)
	case c.Code.CellSize <= 0:
		return errors.New(errors.ErrCodeConfiguration, "code.cell_size must be positive, got %g", c.Code.CellSize)
	case c.Code.Border < 0:
		return errors.New(errors.ErrCodeConfiguration, "code.border must be non-negative, got %d", c.Code.Border)
	case c.Kernel.MeshCells <= 0:
		return errors.New(errors.ErrCodeConfiguration, "kernel.mesh_cells must be positive, got %d", c.Kernel.MeshCells)
	case c.RequestTimeout < 0:
		return errors.New(errors.ErrCodeConfiguration, "request_timeout must be non-negative, got %s", c.RequestTimeout)
	}
	if _, err := matrix.ParseLevel(c.Code.Level); err != nil {
		return err
	}
	switch c.Kernel.Backend {
	case BackendOpenSCAD, BackendSDFX:
	default:
		return errors.New(errors.ErrCodeConfiguration, "unknown kernel backend %q (want %s or %s)", c.Kernel.Backend, BackendOpenSCAD, BackendSDFX)
	}
	switch c.Cache.Backend {
	case "", cache.BackendNone, cache.BackendRedis:
	case cache.BackendFile:
		if c.Cache.Dir == "" {
			return errors.New(errors.ErrCodeConfiguration, "cache.dir is required for the file cache")
		}
	default:
		return errors.New(errors.ErrCodeConfiguration, "unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// CardSettings returns the session settings for pkg/card.
func (c *Config) CardSettings() card.Settings {
	level, _ := matrix.ParseLevel(c.Code.Level) // checked by Validate
	return card.Settings{
		Depth:        c.Carve.Depth,
		Epsilon:      c.Carve.Epsilon,
		TextHeight:   c.Carve.TextHeight,
		RaisedHeight: c.Carve.RaisedHeight,
		Font:         c.Font.Name,
		FontPath:     c.Font.Path,
		Code: carve.CodeDefaults{
			CellSize: c.Code.CellSize,
			Border:   c.Code.Border,
			Level:    level,
		},
	}
}

// CarveConfig returns the workpiece configuration for design scripts. The
// extents are set by the script.
func (c *Config) CarveConfig() carve.Config {
	s := c.CardSettings()
	return carve.Config{
		Depth:    s.Depth,
		Font:     s.Font,
		FontPath: s.FontPath,
		Code:     s.Code,
		Epsilon:  s.Epsilon,
	}
}

// CacheOptions returns the artifact cache settings.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{Backend: c.Cache.Backend, Dir: c.Cache.Dir, RedisAddr: c.Cache.RedisAddr}
}
