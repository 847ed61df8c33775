package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// ManifestRow describes one written tile
type ManifestRow struct {
	TileID     string
	File       string
	ObjectID   string
	CentroidX  int
	CentroidY  int
	X          int
	Y          int
	Size       int
	Downsample float64
}

var manifestHeader = []string{"tile_id", "file", "object_id", "centroid_x", "centroid_y", "x", "y", "size", "downsample"}

// WriteManifest writes rows as CSV with a header line. The tile_id column
// matches the file stem the feature extractor reports, so the two tables
// join on it.
func WriteManifest(path string, rows []ManifestRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.TileID,
			r.File,
			r.ObjectID,
			strconv.Itoa(r.CentroidX),
			strconv.Itoa(r.CentroidY),
			strconv.Itoa(r.X),
			strconv.Itoa(r.Y),
			strconv.Itoa(r.Size),
			strconv.FormatFloat(r.Downsample, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return f.Close()
}
