package types

import "image"

// DetectedObject is a single detected cell with its centroid in
// base-resolution pixel space.
type DetectedObject struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// ImageMetadata describes a slide at base resolution. Magnification is nil
// when the slide does not report one.
type ImageMetadata struct {
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Magnification *float64 `json:"magnification,omitempty"`
}

// ExtractionRegion is a square window in base-resolution pixels
type ExtractionRegion struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Size       int     `json:"size"`
	Downsample float64 `json:"downsample"`
	SourceID   string  `json:"source_id"`
}

// Rect returns the region as an image rectangle in base-resolution pixels.
func (r ExtractionRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Size, r.Y+r.Size)
}

// OutputSize is the side length of the written tile after downsampling.
func (r ExtractionRegion) OutputSize() int {
	if r.Downsample <= 0 {
		return r.Size
	}
	n := int(float64(r.Size)/r.Downsample + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// TileConfig defines how tiles are encoded on disk
type TileConfig struct {
	Format   string
	Quality  int
	Lossless bool
}
