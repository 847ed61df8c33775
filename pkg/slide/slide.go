// Package slide opens slide rasters and serves base-resolution regions
// from them.
package slide

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/cell-tiler/internal/utils"
	"github.com/menta2k/cell-tiler/pkg/types"
)

// Sidecar holds slide properties stored next to the raster as
// <slide>.meta.json. Fields are optional.
type Sidecar struct {
	Magnification *float64 `json:"magnification,omitempty"`
	MPP           *float64 `json:"mpp,omitempty"`
}

// Slide is a raster slide. Metadata is read on Open; pixels are decoded on
// the first region read and shared by later readers.
type Slide struct {
	path string
	meta types.ImageMetadata
	mpp  *float64

	once   sync.Once
	img    image.Image
	imgErr error
}

// Open reads the slide header and its optional sidecar without decoding
// pixels. A non-nil magnification overrides whatever the sidecar says.
func Open(path string, magnification *float64) (*Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open slide: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read slide header %s: %w", path, err)
	}

	s := &Slide{
		path: path,
		meta: types.ImageMetadata{Width: cfg.Width, Height: cfg.Height},
	}

	sc, err := ReadSidecar(SidecarPath(path))
	if err != nil {
		return nil, err
	}
	if sc != nil {
		s.meta.Magnification = sc.Magnification
		s.mpp = sc.MPP
	}
	if magnification != nil {
		s.meta.Magnification = magnification
	}
	return s, nil
}

// FromImage wraps an already decoded image, mainly for tests and callers
// that produce rasters in memory.
func FromImage(name string, img image.Image, magnification *float64) *Slide {
	b := img.Bounds()
	s := &Slide{
		path: name,
		meta: types.ImageMetadata{Width: b.Dx(), Height: b.Dy(), Magnification: magnification},
		img:  img,
	}
	s.once.Do(func() {})
	return s
}

// Path returns the path the slide was opened from.
func (s *Slide) Path() string {
	return s.path
}

// Name returns the slide file name without directory or extension, with
// characters that are unsafe in file names replaced. Tile ids and the
// per-slide output directory use it.
func (s *Slide) Name() string {
	return utils.SanitizeFilename(utils.BaseName(s.path))
}

// Metadata returns the slide's dimensions and magnification.
func (s *Slide) Metadata() types.ImageMetadata {
	return s.meta
}

// MPP returns the microns-per-pixel value from the sidecar, if any.
func (s *Slide) MPP() (float64, bool) {
	if s.mpp == nil {
		return 0, false
	}
	return *s.mpp, true
}

// Image decodes the slide pixels once and returns them.
func (s *Slide) Image() (image.Image, error) {
	s.once.Do(func() {
		s.img, s.imgErr = decode(s.path)
	})
	return s.img, s.imgErr
}

// ReadRegion returns the base-resolution rectangle rect scaled down by
// downsample. The rectangle must lie inside the slide.
func (s *Slide) ReadRegion(downsample float64, rect image.Rectangle) (image.Image, error) {
	if downsample <= 0 {
		return nil, fmt.Errorf("invalid downsample %g", downsample)
	}
	img, err := s.Image()
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	abs := rect.Add(b.Min)
	if rect.Empty() || !abs.In(b) {
		return nil, fmt.Errorf("region %v outside slide %dx%d", rect, b.Dx(), b.Dy())
	}

	region := imaging.Crop(img, abs)
	if downsample == 1 {
		return region, nil
	}
	w := int(float64(rect.Dx())/downsample + 0.5)
	h := int(float64(rect.Dy())/downsample + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imaging.Resize(region, w, h, imaging.Lanczos), nil
}

// SidecarPath returns <slide>.meta.json for a slide path.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".meta.json"
}

// ReadSidecar loads a sidecar file. A missing file yields nil, nil.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", path, err)
	}
	return &sc, nil
}

// decode tries the registered decoders first and falls back to an explicit
// WebP decode.
func decode(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}
