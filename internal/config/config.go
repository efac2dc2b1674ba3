// Package config handles configuration loading for the fragment server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/gtav-tiles/server/internal/render"
)

// DefaultMapID names the map used when the config declares none.
const DefaultMapID = "default"

// Environment overrides, applied after the file is read.
const (
	EnvTilesDir = "GTAV_TILES_DIR"
	EnvPort     = "GTAV_PORT"
	EnvLogLevel = "GTAV_LOG_LEVEL"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Maps   MapsConfig   `yaml:"maps"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
}

// MapConfig describes one tile set.
type MapConfig struct {
	TilesDir string `yaml:"tiles_dir"`
	TileExt  string `yaml:"tile_ext"`
	TileSize int    `yaml:"tile_size"`
	// Calibration overrides the default world-to-pixel mapping when set.
	Calibration *render.Calibration `yaml:"calibration"`
}

// MapsConfig holds the configured maps in declaration order. The first map
// is the default.
type MapsConfig struct {
	Entries map[string]MapConfig
	Default string
	order   []string
}

// CacheConfig contains caching settings. A negative FragmentSizeMB disables
// the encoded fragment cache.
type CacheConfig struct {
	TileCapacity       int `yaml:"tile_capacity"`
	FragmentSizeMB     int `yaml:"fragment_size_mb"`
	FragmentTTLMinutes int `yaml:"fragment_ttl_minutes"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	DefaultWidth  int    `yaml:"default_width"`
	DefaultHeight int    `yaml:"default_height"`
	MaxSize       int    `yaml:"max_size"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
	DefaultColor  string `yaml:"default_color"`
}

// UnmarshalYAML accepts either a mapping of map IDs to map settings or, for
// single-map setups, the settings of one map directly.
func (m *MapsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("maps: expected a mapping, got line %d", value.Line)
	}

	if isSingleMap(value) {
		var mc MapConfig
		if err := value.Decode(&mc); err != nil {
			return fmt.Errorf("maps: %w", err)
		}
		m.set(DefaultMapID, mc)
		return nil
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		id := value.Content[i].Value
		var mc MapConfig
		if err := value.Content[i+1].Decode(&mc); err != nil {
			return fmt.Errorf("maps.%s: %w", id, err)
		}
		m.set(id, mc)
	}
	return nil
}

func isSingleMap(node *yaml.Node) bool {
	for i := 0; i < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "tiles_dir", "tile_ext", "tile_size", "calibration":
			return true
		}
	}
	return false
}

func (m *MapsConfig) set(id string, mc MapConfig) {
	if m.Entries == nil {
		m.Entries = make(map[string]MapConfig)
	}
	if _, exists := m.Entries[id]; !exists {
		m.order = append(m.order, id)
	}
	m.Entries[id] = mc
	if m.Default == "" {
		m.Default = id
	}
}

// IDs returns the map IDs in declaration order.
func (m MapsConfig) IDs() []string {
	return append([]string(nil), m.order...)
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// Apply defaults for missing values
	applyDefaults(cfg)

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
			LogLevel:    "info",
		},
		Cache: CacheConfig{
			TileCapacity:       50,
			FragmentSizeMB:     64,
			FragmentTTLMinutes: 10,
		},
		Render: RenderConfig{
			DefaultWidth:  700,
			DefaultHeight: 700,
			MaxSize:       4096,
			JPEGQuality:   100,
			DefaultColor:  "green",
		},
	}
	cfg.Maps.set(DefaultMapID, MapConfig{
		TilesDir: "./tiles",
		TileExt:  "jpg",
		TileSize: 256,
	})
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.Server.LogLevel
	}

	if len(cfg.Maps.Entries) == 0 {
		cfg.Maps = defaults.Maps
	}
	fallback := defaults.Maps.Entries[DefaultMapID]
	for id, mc := range cfg.Maps.Entries {
		if mc.TileExt == "" {
			mc.TileExt = fallback.TileExt
		}
		if mc.TileSize == 0 {
			mc.TileSize = fallback.TileSize
		}
		cfg.Maps.Entries[id] = mc
	}

	if cfg.Cache.TileCapacity == 0 {
		cfg.Cache.TileCapacity = defaults.Cache.TileCapacity
	}
	if cfg.Cache.FragmentSizeMB == 0 {
		cfg.Cache.FragmentSizeMB = defaults.Cache.FragmentSizeMB
	}
	if cfg.Cache.FragmentTTLMinutes == 0 {
		cfg.Cache.FragmentTTLMinutes = defaults.Cache.FragmentTTLMinutes
	}

	if cfg.Render.DefaultWidth == 0 {
		cfg.Render.DefaultWidth = defaults.Render.DefaultWidth
	}
	if cfg.Render.DefaultHeight == 0 {
		cfg.Render.DefaultHeight = defaults.Render.DefaultHeight
	}
	if cfg.Render.MaxSize == 0 {
		cfg.Render.MaxSize = defaults.Render.MaxSize
	}
	if cfg.Render.JPEGQuality == 0 {
		cfg.Render.JPEGQuality = defaults.Render.JPEGQuality
	}
	if cfg.Render.DefaultColor == "" {
		cfg.Render.DefaultColor = defaults.Render.DefaultColor
	}
}

func applyEnv(cfg *Config) error {
	if dir := os.Getenv(EnvTilesDir); dir != "" {
		mc := cfg.Maps.Entries[cfg.Maps.Default]
		mc.TilesDir = dir
		cfg.Maps.Entries[cfg.Maps.Default] = mc
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	if len(c.Maps.Entries) == 0 {
		errs = multierr.Append(errs, errors.New("no maps configured"))
	}
	for _, id := range c.Maps.order {
		mc := c.Maps.Entries[id]
		if strings.TrimSpace(id) == "" {
			errs = multierr.Append(errs, errors.New("maps: empty map id"))
		}
		if mc.TilesDir == "" {
			errs = multierr.Append(errs, fmt.Errorf("maps.%s.tiles_dir is required", id))
		}
		if mc.TileSize <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("maps.%s.tile_size must be positive", id))
		}
		if cal := mc.Calibration; cal != nil && (cal.ScaleX == 0 || cal.ScaleY == 0) {
			errs = multierr.Append(errs, fmt.Errorf("maps.%s.calibration scales must be non-zero", id))
		}
	}

	if c.Cache.TileCapacity < 0 {
		errs = multierr.Append(errs, fmt.Errorf("cache.tile_capacity %d is negative", c.Cache.TileCapacity))
	}
	if c.Cache.FragmentTTLMinutes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("cache.fragment_ttl_minutes %d is negative", c.Cache.FragmentTTLMinutes))
	}

	if c.Render.MaxSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("render.max_size %d must be positive", c.Render.MaxSize))
	}
	if c.Render.DefaultWidth <= 0 || c.Render.DefaultWidth > c.Render.MaxSize {
		errs = multierr.Append(errs, fmt.Errorf("render.default_width %d outside 1..%d", c.Render.DefaultWidth, c.Render.MaxSize))
	}
	if c.Render.DefaultHeight <= 0 || c.Render.DefaultHeight > c.Render.MaxSize {
		errs = multierr.Append(errs, fmt.Errorf("render.default_height %d outside 1..%d", c.Render.DefaultHeight, c.Render.MaxSize))
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		errs = multierr.Append(errs, fmt.Errorf("render.jpeg_quality %d outside 1..100", c.Render.JPEGQuality))
	}

	if errs != nil {
		return fmt.Errorf("invalid config: %w", errs)
	}
	return nil
}
