// Package celltiler extracts cell-centred tiles from whole-slide images.
//
// Given the centroids of cells detected on a slide, celltiler places one
// square window around each centroid at a requested magnification, drops
// windows that would cross the slide edge, and writes the rest as image
// tiles ready for a feature-extraction model.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		celltiler "github.com/menta2k/cell-tiler"
//	)
//
//	func main() {
//		tiler := celltiler.New()
//
//		summary, err := tiler.ProcessSlide(context.Background(), "slides/case-01.tif", "cells/case-01.csv", "tiles", nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		fmt.Printf("%d of %d cells tiled\n", summary.Written, summary.Detections)
//	}
//
// The package wires together:
//
// 1. Detection (pkg/detection): reads CSV, TSV, GeoJSON and JSON cell exports
// 2. Slide (pkg/slide): slide metadata and region reads
// 3. Tiling (pkg/tiling): window placement, boundary policy and tile naming
// 4. Extract (pkg/extract): parallel tile writing
// 5. Report (pkg/report): run summary, manifest and centroid charts
//
// Tile names have the form {slide}_{cx}_{cy}_{counter}, where the counter
// runs over accepted windows only, in detection order.
package celltiler

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/menta2k/cell-tiler/internal/utils"
	"github.com/menta2k/cell-tiler/pkg/detection"
	"github.com/menta2k/cell-tiler/pkg/extract"
	"github.com/menta2k/cell-tiler/pkg/processing"
	"github.com/menta2k/cell-tiler/pkg/report"
	"github.com/menta2k/cell-tiler/pkg/slide"
	"github.com/menta2k/cell-tiler/pkg/tiling"
	"github.com/menta2k/cell-tiler/pkg/types"
)

// Version of the cell tiler library
const Version = "1.0.0"

// Artifact file names written next to the tiles
const (
	SummaryFile  = "summary.json"
	ManifestFile = "manifest.csv"
	ChartFile    = "centroids.html"
	PlotFile     = "centroids.png"
	OverlayFile  = "overlay.png"
)

// Artifacts selects the per-slide run artifacts
type Artifacts struct {
	Summary     bool
	Manifest    bool
	Chart       bool
	Plot        bool
	Overlay     bool
	OverlaySize int
}

// DefaultArtifacts writes the summary and manifest only.
func DefaultArtifacts() Artifacts {
	return Artifacts{Summary: true, Manifest: true, OverlaySize: 2048}
}

// Tiler provides a high-level interface for tiling slides
type Tiler struct {
	planner   *tiling.Planner
	loader    *detection.Loader
	processor *processing.Processor
	tile      types.TileConfig
	artifacts Artifacts
	workers   int
	verbose   bool
	logger    *log.Logger
}

// New creates a Tiler with default geometry, JPEG tiles and default artifacts
func New() *Tiler {
	return &Tiler{
		planner:   tiling.New(),
		loader:    detection.NewLoader(),
		processor: processing.NewProcessor(),
		tile:      types.TileConfig{Format: "jpg", Quality: 90},
		artifacts: DefaultArtifacts(),
		logger:    log.Default(),
	}
}

// NewWithConfig creates a Tiler with custom configuration. It fails with a
// *tiling.ConfigurationError when the geometry cannot produce tiles.
func NewWithConfig(geometry tiling.Config, columns detection.Columns, tile types.TileConfig, artifacts Artifacts) (*Tiler, error) {
	planner, err := tiling.NewWithConfig(geometry)
	if err != nil {
		return nil, err
	}
	if _, err := processing.NormalizeFormat(tile.Format); err != nil {
		return nil, err
	}
	return &Tiler{
		planner:   planner,
		loader:    detection.NewLoaderWithColumns(columns),
		processor: processing.NewProcessor(),
		tile:      tile,
		artifacts: artifacts,
		logger:    log.Default(),
	}, nil
}

// SetLogger replaces the logger used for run output
func (t *Tiler) SetLogger(logger *log.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// SetWorkers bounds concurrent tile writes; <= 0 uses GOMAXPROCS
func (t *Tiler) SetWorkers(n int) {
	t.workers = n
}

// SetVerbose enables one log line per rejected window
func (t *Tiler) SetVerbose(v bool) {
	t.verbose = v
}

// LoadDetections reads a detection export
func (t *Tiler) LoadDetections(path string) ([]types.DetectedObject, error) {
	return t.loader.Load(path)
}

// OpenSlide opens a slide raster; magnification overrides the sidecar when non-nil
func (t *Tiler) OpenSlide(path string, magnification *float64) (*slide.Slide, error) {
	return slide.Open(path, magnification)
}

// Plan computes the tiling plan for a slide without writing anything
func (t *Tiler) Plan(s *slide.Slide, detections []types.DetectedObject) tiling.Plan {
	return t.planner.Plan(s.Name(), detections, s.Metadata())
}

// SourceName is the tile-name prefix of the slide at path, the same value
// Slide.Name reports once it is opened.
func SourceName(path string) string {
	return utils.SanitizeFilename(utils.BaseName(path))
}

// namedSource tiles a slide under a name other than its own.
type namedSource struct {
	*slide.Slide
	name string
}

func (n namedSource) Name() string { return n.name }

// ProcessSlide tiles one slide into outDir/<slide name>/ and writes the
// configured artifacts there.
func (t *Tiler) ProcessSlide(ctx context.Context, slidePath, detectionsPath, outDir string, magnification *float64) (report.Summary, error) {
	return t.ProcessSlideAs(ctx, "", slidePath, detectionsPath, outDir, magnification)
}

// ProcessSlideAs is ProcessSlide with an explicit source name, used for the
// tile ids and the output directory. An empty name uses the slide's own.
func (t *Tiler) ProcessSlideAs(ctx context.Context, name, slidePath, detectionsPath, outDir string, magnification *float64) (report.Summary, error) {
	s, err := t.OpenSlide(slidePath, magnification)
	if err != nil {
		return report.Summary{}, err
	}
	detections, err := t.LoadDetections(detectionsPath)
	if err != nil {
		return report.Summary{}, fmt.Errorf("failed to load detections for %s: %w", slidePath, err)
	}
	return t.process(ctx, s, name, detections, outDir)
}

// ProcessDetections tiles an opened slide with already loaded detections.
func (t *Tiler) ProcessDetections(ctx context.Context, s *slide.Slide, detections []types.DetectedObject, outDir string) (report.Summary, error) {
	return t.process(ctx, s, "", detections, outDir)
}

func (t *Tiler) process(ctx context.Context, s *slide.Slide, name string, detections []types.DetectedObject, outDir string) (report.Summary, error) {
	var src extract.Source = s
	if name == "" {
		name = s.Name()
	} else {
		src = namedSource{Slide: s, name: name}
	}
	dir := filepath.Join(outDir, name)
	if err := utils.EnsureDir(dir); err != nil {
		return report.Summary{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	writer, err := extract.NewFileWriter(s, dir, t.tile)
	if err != nil {
		return report.Summary{}, err
	}
	ex := extract.New(t.planner, writer, extract.Options{Workers: t.workers, Verbose: t.verbose, Logger: t.logger})

	res, runErr := ex.Run(ctx, src, detections)
	if mpp, ok := s.MPP(); ok {
		res.Summary.MPP = &mpp
	}
	if err := t.writeArtifacts(s, dir, res); err != nil {
		if runErr != nil {
			return res.Summary, runErr
		}
		return res.Summary, err
	}
	return res.Summary, runErr
}

func (t *Tiler) writeArtifacts(s *slide.Slide, dir string, res extract.Result) error {
	a := t.artifacts
	if a.Summary {
		if err := res.Summary.WriteJSON(filepath.Join(dir, SummaryFile)); err != nil {
			return err
		}
	}
	if a.Manifest {
		if err := report.WriteManifest(filepath.Join(dir, ManifestFile), res.Manifest); err != nil {
			return err
		}
	}
	if a.Chart {
		if err := report.WriteCentroidChart(filepath.Join(dir, ChartFile), res.Plan); err != nil {
			return err
		}
	}
	if a.Plot {
		if err := report.WriteCentroidPlot(filepath.Join(dir, PlotFile), res.Plan); err != nil {
			return err
		}
	}
	if a.Overlay {
		img, err := s.Image()
		if err != nil {
			return fmt.Errorf("overlay: %w", err)
		}
		overlay := t.processor.CreateDebugOverlay(img, res.Plan, a.OverlaySize)
		path := filepath.Join(dir, OverlayFile)
		if err := t.processor.SaveImage(overlay, path, "png", 0, false); err != nil {
			return fmt.Errorf("overlay: %w", err)
		}
		t.logger.Printf("wrote %s", path)
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
