package tiling

import (
	"errors"
	"fmt"
	"image"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/cell-tiler/pkg/types"
)

func mag(v float64) *float64 { return &v }

func square(side int, m *float64) types.ImageMetadata {
	return types.ImageMetadata{Width: side, Height: side, Magnification: m}
}

func TestNew(t *testing.T) {
	p := New()
	require.NotNil(t, p)
	assert.Equal(t, 224, p.Config().TargetPatchPixels)
	assert.Equal(t, 40.0, p.Config().DesiredMagnification)
	assert.Equal(t, 40.0, p.Config().FallbackBaseMagnification)
}

func TestNewWithConfigRejectsNonPositivePatch(t *testing.T) {
	for _, px := range []int{0, -1, -224} {
		_, err := NewWithConfig(Config{TargetPatchPixels: px, DesiredMagnification: 40, FallbackBaseMagnification: 40})
		require.Error(t, err)

		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %T", err)
		assert.Equal(t, "target_patch_pixels", cfgErr.Field)
	}
}

func TestPlanCentreAccepted(t *testing.T) {
	p := New()
	plan := p.Plan("slide", []types.DetectedObject{{ID: "c1", X: 500, Y: 500}}, square(1000, mag(40)))

	require.Len(t, plan.Decisions, 1)
	d := plan.Decisions[0]
	assert.True(t, d.Accepted)
	assert.Equal(t, types.ExtractionRegion{X: 388, Y: 388, Size: 224, Downsample: 1.0, SourceID: "c1"}, d.Region)
	assert.Equal(t, 0, d.Index)
	assert.Equal(t, "slide_500_500_000000", d.TileID)
	assert.Equal(t, 1, plan.Accepted)
	assert.Equal(t, 0, plan.Rejected)
}

func TestPlanNearCornerRejected(t *testing.T) {
	plan := New().Plan("slide", []types.DetectedObject{{ID: "c1", X: 10, Y: 10}}, square(1000, mag(40)))

	d := plan.Decisions[0]
	assert.False(t, d.Accepted)
	assert.Equal(t, -102, d.Region.X)
	assert.Equal(t, EdgeLeft, d.Crossed)
	assert.Equal(t, -1, d.Index)
	assert.Empty(t, d.TileID)
	assert.Equal(t, 1, plan.Rejected)
}

func TestPlanMissingMagnificationFallsBack(t *testing.T) {
	plan := New().Plan("slide", []types.DetectedObject{{X: 500, Y: 500}}, square(1000, nil))

	assert.True(t, plan.Magnification.FallbackUsed())
	assert.Equal(t, "missing", plan.Magnification.Reason)
	assert.Equal(t, 40.0, plan.Magnification.Value)
	assert.Equal(t, 1.0, plan.Downsample)
	assert.True(t, plan.Decisions[0].Accepted)
}

func TestResolveMagnification(t *testing.T) {
	tests := []struct {
		name     string
		reported *float64
		want     float64
		fallback bool
	}{
		{"reported", mag(20), 20, false},
		{"nil", nil, 40, true},
		{"zero", mag(0), 40, true},
		{"negative", mag(-10), 40, true},
		{"nan", mag(math.NaN()), 40, true},
		{"inf", mag(math.Inf(1)), 40, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ResolveMagnification(tt.reported, 40)
			assert.Equal(t, tt.want, m.Value)
			assert.Equal(t, tt.fallback, m.FallbackUsed())
		})
	}
}

func TestDownsampleNeverInvalid(t *testing.T) {
	tests := []struct {
		base, desired float64
		want          float64
		clamped       bool
	}{
		{40, 40, 1, false},
		{40, 20, 2, false},
		{20, 40, 0.5, false},
		{40, 0, 1, true},
		{0, 40, 1, true},
		{-40, 40, 1, true},
		{math.NaN(), 40, 1, true},
		{40, math.NaN(), 1, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%g/%g", tt.base, tt.desired), func(t *testing.T) {
			got, clamped := Downsample(tt.base, tt.desired)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.clamped, clamped)
		})
	}
}

func TestPlanInvalidFallbackClampsToOne(t *testing.T) {
	p, err := NewWithConfig(Config{TargetPatchPixels: 224, DesiredMagnification: 40, FallbackBaseMagnification: -1})
	require.NoError(t, err)

	plan := p.Plan("s", []types.DetectedObject{{X: 500, Y: 500}}, square(1000, mag(math.NaN())))
	assert.Equal(t, 1.0, plan.Downsample)
	assert.True(t, plan.Clamped)
	assert.Equal(t, 224, plan.PatchSize)
}

func TestPlanDownsampleScalesWindow(t *testing.T) {
	p, err := NewWithConfig(Config{TargetPatchPixels: 224, DesiredMagnification: 20, FallbackBaseMagnification: 40})
	require.NoError(t, err)

	plan := p.Plan("s", []types.DetectedObject{{ID: "a", X: 500.9, Y: 600.2}}, square(2000, mag(40)))
	d := plan.Decisions[0]
	assert.Equal(t, 2.0, plan.Downsample)
	assert.Equal(t, 224, plan.HalfPatch)
	assert.Equal(t, 448, plan.PatchSize)
	assert.Equal(t, 500-224, d.Region.X)
	assert.Equal(t, 600-224, d.Region.Y)
	assert.Equal(t, 224, d.Region.OutputSize())
	assert.Equal(t, "s_500_600_000000", d.TileID)
}

func TestPlanEmptyDetections(t *testing.T) {
	plan := New().Plan("s", nil, square(1000, mag(40)))
	assert.Empty(t, plan.Decisions)
	assert.Equal(t, 0, plan.Total())
	assert.Empty(t, plan.AcceptedDecisions())
}

func TestPlanCounterGaplessAcrossRejections(t *testing.T) {
	dets := []types.DetectedObject{
		{ID: "1", X: 500, Y: 500},
		{ID: "2", X: 5, Y: 500},
		{ID: "3", X: 600, Y: 600},
		{ID: "4", X: 999, Y: 999},
		{ID: "5", X: 500, Y: 5},
		{ID: "6", X: 300, Y: 700},
	}
	plan := New().Plan("s", dets, square(1000, mag(40)))

	assert.Equal(t, len(dets), plan.Accepted+plan.Rejected)
	accepted := plan.AcceptedDecisions()
	require.Len(t, accepted, 3)
	for i, d := range accepted {
		assert.Equal(t, i, d.Index)
	}
	assert.Equal(t, []string{"1", "3", "6"}, []string{accepted[0].Detection.ID, accepted[1].Detection.ID, accepted[2].Detection.ID})
	assert.Equal(t, "s_300_700_000002", accepted[2].TileID)
}

func TestPlanEdgeBoundaries(t *testing.T) {
	// 224px window, half 112, on a 1000px image: centroids in [112, 888]
	// keep x-112 >= 0 and x+112 <= 1000.
	p := New()
	img := square(1000, mag(40))

	tests := []struct {
		x, y float64
		ok   bool
		edge Edge
	}{
		{112, 500, true, EdgeNone},
		{111.9, 500, false, EdgeLeft},
		{888, 500, true, EdgeNone},
		{888.5, 500, true, EdgeNone},
		{889, 500, false, EdgeRight},
		{500, 111, false, EdgeTop},
		{500, 889, false, EdgeBottom},
		{-50, -50, false, EdgeLeft},
		{5000, 500, false, EdgeRight},
	}
	for _, tt := range tests {
		plan := p.Plan("s", []types.DetectedObject{{X: tt.x, Y: tt.y}}, img)
		d := plan.Decisions[0]
		assert.Equal(t, tt.ok, d.Accepted, "centroid (%g,%g)", tt.x, tt.y)
		assert.Equal(t, tt.edge, d.Crossed, "centroid (%g,%g)", tt.x, tt.y)
	}
}

func TestPlanAcceptedRegionsInsideImage(t *testing.T) {
	img := types.ImageMetadata{Width: 640, Height: 480, Magnification: mag(40)}
	var dets []types.DetectedObject
	for y := -20; y < 520; y += 7 {
		for x := -20; x < 680; x += 11 {
			dets = append(dets, types.DetectedObject{X: float64(x) + 0.5, Y: float64(y) + 0.25})
		}
	}
	plan := New().Plan("grid", dets, img)

	bounds := image.Rect(0, 0, img.Width, img.Height)
	for _, d := range plan.Decisions {
		if d.Accepted {
			assert.True(t, d.Region.Rect().In(bounds), "region %v escapes image", d.Region)
		}
		inside := d.CentroidX >= plan.HalfPatch && d.CentroidX < img.Width-plan.HalfPatch &&
			d.CentroidY >= plan.HalfPatch && d.CentroidY < img.Height-plan.HalfPatch
		if inside {
			assert.True(t, d.Accepted, "centroid (%d,%d) should be accepted", d.CentroidX, d.CentroidY)
		}
	}
	assert.Equal(t, len(dets), plan.Accepted+plan.Rejected)
}

func TestPlanIdempotent(t *testing.T) {
	dets := []types.DetectedObject{{ID: "a", X: 200, Y: 300}, {ID: "b", X: 3, Y: 3}, {ID: "c", X: 700, Y: 400}}
	img := square(1000, nil)
	p := New()

	if diff := cmp.Diff(p.Plan("s", dets, img), p.Plan("s", dets, img)); diff != "" {
		t.Errorf("plan changed between runs (-first +second):\n%s", diff)
	}
}

func TestPlanSubPixelWindowRejected(t *testing.T) {
	p, err := NewWithConfig(Config{TargetPatchPixels: 10, DesiredMagnification: 1000, FallbackBaseMagnification: 40})
	require.NoError(t, err)

	plan := p.Plan("s", []types.DetectedObject{{ID: "a", X: 500, Y: 500}, {ID: "b", X: 1000, Y: 1000}}, square(1000, mag(40)))
	assert.InDelta(t, 0.04, plan.Downsample, 1e-12)
	assert.Equal(t, 0, plan.PatchSize)
	assert.Equal(t, 0, plan.Accepted)
	assert.Equal(t, 2, plan.Rejected)
	for _, d := range plan.Decisions {
		assert.False(t, d.Accepted)
		assert.Equal(t, EdgeEmpty, d.Crossed)
		assert.Equal(t, -1, d.Index)
		assert.Empty(t, d.TileID)
	}
	assert.Equal(t, "empty", EdgeEmpty.String())
}

func TestPlanHugeMagnificationSaturates(t *testing.T) {
	plan := New().Plan("s", []types.DetectedObject{{ID: "a", X: 500, Y: 500}}, square(1000, mag(1e300)))

	assert.Equal(t, math.MaxInt32, plan.PatchSize)
	assert.Equal(t, math.MaxInt32, plan.HalfPatch)
	require.Len(t, plan.Decisions, 1)
	d := plan.Decisions[0]
	assert.False(t, d.Accepted)
	assert.Equal(t, EdgeLeft, d.Crossed)
	assert.Equal(t, 500-math.MaxInt32, d.Region.X)
}

func TestPlanNaNCentroidRejected(t *testing.T) {
	plan := New().Plan("s", []types.DetectedObject{{X: math.NaN(), Y: 500}}, square(1000, mag(40)))
	assert.False(t, plan.Decisions[0].Accepted)
}

func TestTileID(t *testing.T) {
	assert.Equal(t, "slide-01_12_34_000007", TileID("slide-01", 12, 34, 7))
	assert.Equal(t, "s_1_2_1234567", TileID("s", 1, 2, 1234567))
}

func BenchmarkPlan(b *testing.B) {
	dets := make([]types.DetectedObject, 0, 10000)
	for i := 0; i < 10000; i++ {
		dets = append(dets, types.DetectedObject{X: float64(i % 5000), Y: float64((i * 7) % 5000)})
	}
	img := square(5000, mag(40))
	p := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Plan("bench", dets, img)
	}
}
