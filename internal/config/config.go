package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/menta2k/cell-tiler/pkg/detection"
	"github.com/menta2k/cell-tiler/pkg/processing"
	"github.com/menta2k/cell-tiler/pkg/tiling"
	"github.com/menta2k/cell-tiler/pkg/types"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// CELLTILER_TILING_TARGET_PATCH_PIXELS.
const EnvPrefix = "CELLTILER"

// Config holds the application configuration
type Config struct {
	Tiling    TilingConfig    `json:"tiling" mapstructure:"tiling"`
	Detection DetectionConfig `json:"detection" mapstructure:"detection"`
	Output    OutputConfig    `json:"output" mapstructure:"output"`
	Report    ReportConfig    `json:"report" mapstructure:"report"`
}

// TilingConfig holds the tile geometry
type TilingConfig struct {
	TargetPatchPixels         int     `json:"target_patch_pixels" mapstructure:"target_patch_pixels"`
	DesiredMagnification      float64 `json:"desired_magnification" mapstructure:"desired_magnification"`
	FallbackBaseMagnification float64 `json:"fallback_base_magnification" mapstructure:"fallback_base_magnification"`
}

// DetectionConfig names the columns of tabular detection exports. Empty
// values use the built-in aliases.
type DetectionConfig struct {
	IDColumn string `json:"id_column" mapstructure:"id_column"`
	XColumn  string `json:"x_column" mapstructure:"x_column"`
	YColumn  string `json:"y_column" mapstructure:"y_column"`
}

// OutputConfig holds configuration for tile output
type OutputConfig struct {
	Format   string `json:"format" mapstructure:"format"`
	Quality  int    `json:"quality" mapstructure:"quality"`
	Lossless bool   `json:"lossless" mapstructure:"lossless"`
	Dir      string `json:"dir" mapstructure:"dir"`
	Workers  int    `json:"workers" mapstructure:"workers"`
}

// ReportConfig selects which run artifacts are written
type ReportConfig struct {
	Summary     bool `json:"summary" mapstructure:"summary"`
	Manifest    bool `json:"manifest" mapstructure:"manifest"`
	Chart       bool `json:"chart" mapstructure:"chart"`
	Plot        bool `json:"plot" mapstructure:"plot"`
	Overlay     bool `json:"overlay" mapstructure:"overlay"`
	OverlaySize int  `json:"overlay_size" mapstructure:"overlay_size"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Tiling: TilingConfig{
			TargetPatchPixels:         tiling.DefaultTargetPatchPixels,
			DesiredMagnification:      tiling.DefaultDesiredMagnification,
			FallbackBaseMagnification: tiling.DefaultFallbackBaseMagnification,
		},
		Output: OutputConfig{
			Format:  "jpg",
			Quality: 90,
			Dir:     "./tiles",
			Workers: 4,
		},
		Report: ReportConfig{
			Summary:     true,
			Manifest:    true,
			OverlaySize: 2048,
		},
	}
}

// LoadFromFile loads configuration from a JSON, TOML or YAML file on top of
// the defaults, then applies CELLTILER_* environment overrides. An empty
// filename loads defaults and environment only.
func LoadFromFile(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// setDefaults registers every key so env overrides and partial files work.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("tiling.target_patch_pixels", d.Tiling.TargetPatchPixels)
	v.SetDefault("tiling.desired_magnification", d.Tiling.DesiredMagnification)
	v.SetDefault("tiling.fallback_base_magnification", d.Tiling.FallbackBaseMagnification)
	v.SetDefault("detection.id_column", d.Detection.IDColumn)
	v.SetDefault("detection.x_column", d.Detection.XColumn)
	v.SetDefault("detection.y_column", d.Detection.YColumn)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.quality", d.Output.Quality)
	v.SetDefault("output.lossless", d.Output.Lossless)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.workers", d.Output.Workers)
	v.SetDefault("report.summary", d.Report.Summary)
	v.SetDefault("report.manifest", d.Report.Manifest)
	v.SetDefault("report.chart", d.Report.Chart)
	v.SetDefault("report.plot", d.Report.Plot)
	v.SetDefault("report.overlay", d.Report.Overlay)
	v.SetDefault("report.overlay_size", d.Report.OverlaySize)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid. Geometry problems are
// reported as *tiling.ConfigurationError.
func (c *Config) Validate() error {
	if err := c.PlannerConfig().Validate(); err != nil {
		return err
	}

	if _, err := processing.NormalizeFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Output.Workers < 0 {
		return fmt.Errorf("output.workers must not be negative")
	}

	if c.Report.Overlay && c.Report.OverlaySize < 1 {
		return fmt.Errorf("report.overlay_size must be positive")
	}

	return nil
}

// PlannerConfig returns the tiling geometry for the planner.
func (c *Config) PlannerConfig() tiling.Config {
	return tiling.Config{
		TargetPatchPixels:         c.Tiling.TargetPatchPixels,
		DesiredMagnification:      c.Tiling.DesiredMagnification,
		FallbackBaseMagnification: c.Tiling.FallbackBaseMagnification,
	}
}

// TileConfig returns the tile encoding settings.
func (c *Config) TileConfig() types.TileConfig {
	return types.TileConfig{
		Format:   c.Output.Format,
		Quality:  c.Output.Quality,
		Lossless: c.Output.Lossless,
	}
}

// DetectionColumns returns the column overrides for the detection loader.
func (c *Config) DetectionColumns() detection.Columns {
	return detection.Columns{
		ID: c.Detection.IDColumn,
		X:  c.Detection.XColumn,
		Y:  c.Detection.YColumn,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "cell-tiler", "config.json")
}
