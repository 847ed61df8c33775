package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/cell-tiler/pkg/tiling"
)

// Formats accepted by SaveImage, as listed in format errors
var Formats = []string{"jpg", "jpeg", "png", "webp"}

// Processor handles tile encoding and debug rendering
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// NormalizeFormat lower-cases a format name and maps jpeg to jpg. It
// returns an error for formats SaveImage cannot write.
func NormalizeFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	switch f {
	case "jpg", "jpeg":
		return "jpg", nil
	case "png", "webp":
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// FitTile resizes img to an exact size x size square when rounding left it
// a pixel off.
func (p *Processor) FitTile(img image.Image, size int) image.Image {
	b := img.Bounds()
	if size <= 0 || (b.Dx() == size && b.Dy() == size) {
		return img
	}
	return imaging.Resize(img, size, size, imaging.Lanczos)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	f, err := NormalizeFormat(format)
	if err != nil {
		return err
	}
	switch f {
	case "webp":
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		if err := webp.Encode(out, img, opts); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	case "png":
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// CreateDebugOverlay renders the slide scaled to fit maxSide with every
// planned window outlined: accepted in green, rejected in red, and each
// centroid marked with a small cross.
func (p *Processor) CreateDebugOverlay(img image.Image, plan tiling.Plan, maxSide int) *image.NRGBA {
	var canvas *image.NRGBA
	b := img.Bounds()
	scale := 1.0
	if maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		canvas = imaging.Fit(img, maxSide, maxSide, imaging.Box)
		scale = float64(canvas.Bounds().Dx()) / float64(b.Dx())
	} else {
		canvas = imaging.Clone(img)
	}
	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	gold := color.NRGBA{255, 204, 0, 255}
	stroke := int(math.Max(1, 0.002*float64(minInt(w, h))))
	cross := int(math.Max(2, 0.004*float64(minInt(w, h))))

	for _, d := range plan.Decisions {
		c := red
		if d.Accepted {
			c = green
		}
		r := d.Region.Rect()
		x0 := int(float64(r.Min.X)*scale + 0.5)
		y0 := int(float64(r.Min.Y)*scale + 0.5)
		x1 := int(float64(r.Max.X)*scale + 0.5)
		y1 := int(float64(r.Max.Y)*scale + 0.5)
		drawRect(canvas, x0, y0, x1, y1, c, stroke)

		px := int(float64(d.CentroidX)*scale + 0.5)
		py := int(float64(d.CentroidY)*scale + 0.5)
		drawHLine(canvas, py, px-cross, px+cross, gold)
		drawVLine(canvas, px, py-cross, py+cross, gold)
	}
	return canvas
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
