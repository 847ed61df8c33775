package extract

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/menta2k/cell-tiler/pkg/processing"
	"github.com/menta2k/cell-tiler/pkg/types"
)

// RegionReader serves base-resolution regions of a slide, scaled down by
// downsample.
type RegionReader interface {
	ReadRegion(downsample float64, rect image.Rectangle) (image.Image, error)
}

// WriteRequest asks a TileWriter to materialize one accepted window.
type WriteRequest struct {
	SourcePath string
	TileID     string
	Region     types.ExtractionRegion
}

// TileWriter materializes tiles. It returns the location the tile was
// written to.
type TileWriter interface {
	WriteTile(ctx context.Context, req WriteRequest) (string, error)
}

// FileWriter writes tiles as <outDir>/<tileID>.<ext>
type FileWriter struct {
	reader    RegionReader
	processor *processing.Processor
	outDir    string
	config    types.TileConfig
	ext       string
}

// NewFileWriter creates a writer reading pixels from reader.
func NewFileWriter(reader RegionReader, outDir string, config types.TileConfig) (*FileWriter, error) {
	ext, err := processing.NormalizeFormat(config.Format)
	if err != nil {
		return nil, err
	}
	if config.Quality <= 0 {
		config.Quality = 90
	}
	return &FileWriter{
		reader:    reader,
		processor: processing.NewProcessor(),
		outDir:    outDir,
		config:    config,
		ext:       ext,
	}, nil
}

// Filename returns the file name a tile id is written under.
func (w *FileWriter) Filename(tileID string) string {
	return tileID + "." + w.ext
}

// WriteTile reads the region, scales it to the output size and saves it.
func (w *FileWriter) WriteTile(ctx context.Context, req WriteRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img, err := w.reader.ReadRegion(req.Region.Downsample, req.Region.Rect())
	if err != nil {
		return "", fmt.Errorf("read region %s: %w", req.TileID, err)
	}
	img = w.processor.FitTile(img, req.Region.OutputSize())

	path := filepath.Join(w.outDir, w.Filename(req.TileID))
	if err := w.processor.SaveImage(img, path, w.ext, w.config.Quality, w.config.Lossless); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}
