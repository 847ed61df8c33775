// Package tiling maps detected cell centroids to square extraction windows
// on a slide.
//
// A Planner resolves the slide's base magnification, derives the downsample
// factor needed to reach the requested magnification, and places one window
// of TargetPatchPixels*downsample base pixels around every centroid. Windows
// that would cross an image edge are rejected. Accepted windows are numbered
// in input order and named {source}_{cx}_{cy}_{counter}.
package tiling

import (
	"fmt"
	"math"

	"github.com/menta2k/cell-tiler/pkg/types"
)

// Defaults used when a Config field is left at its zero value.
const (
	DefaultTargetPatchPixels         = 224
	DefaultDesiredMagnification      = 40.0
	DefaultFallbackBaseMagnification = 40.0
)

// Config holds the tiling geometry parameters
type Config struct {
	TargetPatchPixels         int
	DesiredMagnification      float64
	FallbackBaseMagnification float64
}

// DefaultConfig returns the standard 224px at 40x geometry.
func DefaultConfig() Config {
	return Config{
		TargetPatchPixels:         DefaultTargetPatchPixels,
		DesiredMagnification:      DefaultDesiredMagnification,
		FallbackBaseMagnification: DefaultFallbackBaseMagnification,
	}
}

// ConfigurationError reports a geometry parameter that makes planning
// impossible. It is returned before any detection is looked at.
type ConfigurationError struct {
	Field string
	Value interface{}
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Msg)
}

// Validate checks that the configuration can produce tiles.
func (c Config) Validate() error {
	if c.TargetPatchPixels <= 0 {
		return &ConfigurationError{Field: "target_patch_pixels", Value: c.TargetPatchPixels, Msg: "must be positive"}
	}
	return nil
}

// MagnificationSource tells whether a base magnification came from the
// slide or from the configured fallback.
type MagnificationSource int

const (
	MagnificationReported MagnificationSource = iota
	MagnificationFallback
)

func (s MagnificationSource) String() string {
	if s == MagnificationFallback {
		return "fallback"
	}
	return "reported"
}

// Magnification is the resolved base magnification of a slide. When Source
// is MagnificationFallback, Reason says why the reported value was unusable.
type Magnification struct {
	Value  float64
	Source MagnificationSource
	Reason string
}

// FallbackUsed reports whether the configured fallback was substituted.
func (m Magnification) FallbackUsed() bool {
	return m.Source == MagnificationFallback
}

// ResolveMagnification picks the slide's reported magnification when it is
// finite and positive and the fallback otherwise.
func ResolveMagnification(reported *float64, fallback float64) Magnification {
	switch {
	case reported == nil:
		return Magnification{Value: fallback, Source: MagnificationFallback, Reason: "missing"}
	case math.IsNaN(*reported):
		return Magnification{Value: fallback, Source: MagnificationFallback, Reason: "not a number"}
	case math.IsInf(*reported, 0):
		return Magnification{Value: fallback, Source: MagnificationFallback, Reason: "infinite"}
	case *reported <= 0:
		return Magnification{Value: fallback, Source: MagnificationFallback, Reason: fmt.Sprintf("non-positive value %g", *reported)}
	}
	return Magnification{Value: *reported, Source: MagnificationReported}
}

// Downsample returns base/desired, or 1.0 when that ratio is not a finite
// positive number. The second result is true when the clamp was applied.
func Downsample(base, desired float64) (float64, bool) {
	d := base / desired
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 1.0, true
	}
	return d, false
}

// Edge identifies why a window was rejected: the image boundary it
// crossed, checked left, top, right, bottom, or EdgeEmpty for a window
// smaller than one pixel.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeLeft
	EdgeTop
	EdgeRight
	EdgeBottom
	EdgeEmpty
)

func (e Edge) String() string {
	switch e {
	case EdgeLeft:
		return "left"
	case EdgeTop:
		return "top"
	case EdgeRight:
		return "right"
	case EdgeBottom:
		return "bottom"
	case EdgeEmpty:
		return "empty"
	}
	return "none"
}

// Decision is the planner's verdict for one detection. Index and TileID are
// only set for accepted windows; Index is -1 otherwise.
type Decision struct {
	Detection types.DetectedObject
	Region    types.ExtractionRegion
	CentroidX int
	CentroidY int
	Accepted  bool
	Crossed   Edge
	Index     int
	TileID    string
}

// Plan is the full outcome of planning one slide.
type Plan struct {
	Source        string
	Image         types.ImageMetadata
	Magnification Magnification
	Downsample    float64
	Clamped       bool
	HalfPatch     int
	PatchSize     int
	Decisions     []Decision
	Accepted      int
	Rejected      int
}

// Total is the number of detections considered.
func (p Plan) Total() int {
	return len(p.Decisions)
}

// AcceptedDecisions returns the accepted decisions in counter order.
func (p Plan) AcceptedDecisions() []Decision {
	out := make([]Decision, 0, p.Accepted)
	for _, d := range p.Decisions {
		if d.Accepted {
			out = append(out, d)
		}
	}
	return out
}

// Planner computes extraction windows for a fixed geometry
type Planner struct {
	config Config
}

// New creates a Planner with the default geometry
func New() *Planner {
	return &Planner{config: DefaultConfig()}
}

// NewWithConfig creates a Planner, rejecting configurations that cannot
// produce any tile.
func NewWithConfig(config Config) (*Planner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Planner{config: config}, nil
}

// Config returns the planner's geometry.
func (p *Planner) Config() Config {
	return p.config
}

// Plan places a window around every detection of one slide. The result
// depends only on its arguments.
func (p *Planner) Plan(source string, detections []types.DetectedObject, img types.ImageMetadata) Plan {
	mag := ResolveMagnification(img.Magnification, p.config.FallbackBaseMagnification)
	ds, clamped := Downsample(mag.Value, p.config.DesiredMagnification)

	target := float64(p.config.TargetPatchPixels)
	half := floorInt(0.5 * target * ds)
	size := floorInt(target * ds)

	plan := Plan{
		Source:        source,
		Image:         img,
		Magnification: mag,
		Downsample:    ds,
		Clamped:       clamped,
		HalfPatch:     half,
		PatchSize:     size,
		Decisions:     make([]Decision, 0, len(detections)),
	}

	next := 0
	for _, det := range detections {
		d := placeWindow(det, half, size, ds, img.Width, img.Height)
		if d.Accepted {
			d.Index = next
			d.TileID = TileID(source, d.CentroidX, d.CentroidY, next)
			next++
			plan.Accepted++
		} else {
			plan.Rejected++
		}
		plan.Decisions = append(plan.Decisions, d)
	}
	return plan
}

// placeWindow is the per-detection transform; it never touches the counter.
func placeWindow(det types.DetectedObject, half, size int, ds float64, width, height int) Decision {
	cx := floorInt(det.X)
	cy := floorInt(det.Y)
	region := types.ExtractionRegion{
		X:          cx - half,
		Y:          cy - half,
		Size:       size,
		Downsample: ds,
		SourceID:   det.ID,
	}
	crossed := crossedEdge(region, width, height)
	return Decision{
		Detection: det,
		Region:    region,
		CentroidX: cx,
		CentroidY: cy,
		Accepted:  crossed == EdgeNone,
		Crossed:   crossed,
		Index:     -1,
	}
}

func crossedEdge(r types.ExtractionRegion, width, height int) Edge {
	switch {
	case r.Size < 1:
		return EdgeEmpty
	case r.X < 0:
		return EdgeLeft
	case r.Y < 0:
		return EdgeTop
	case r.X+r.Size > width:
		return EdgeRight
	case r.Y+r.Size > height:
		return EdgeBottom
	}
	return EdgeNone
}

// floorInt floors v, saturating at the int32 range for out-of-range or NaN
// input. Saturated centroids and window sizes always end up rejected.
func floorInt(v float64) int {
	f := math.Floor(v)
	switch {
	case math.IsNaN(f):
		return math.MinInt32
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

// TileID builds the output identifier {source}_{cx}_{cy}_{counter:06d}.
func TileID(source string, cx, cy, counter int) string {
	return fmt.Sprintf("%s_%d_%d_%06d", source, cx, cy, counter)
}
