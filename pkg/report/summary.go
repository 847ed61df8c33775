// Package report turns a tiling run into the artifacts written next to the
// tiles: a JSON summary, a CSV manifest and centroid charts.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/cell-tiler/pkg/tiling"
)

// CentroidStats summarizes where accepted tiles sit on the slide
type CentroidStats struct {
	MeanX float64 `json:"mean_x"`
	StdX  float64 `json:"std_x"`
	MeanY float64 `json:"mean_y"`
	StdY  float64 `json:"std_y"`
}

// Summary is the per-slide run record
type Summary struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	SourcePath string    `json:"source_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Width               int      `json:"width"`
	Height              int      `json:"height"`
	MPP                 *float64 `json:"mpp,omitempty"`
	Magnification       float64  `json:"magnification"`
	MagnificationSource string   `json:"magnification_source"`
	MagnificationReason string   `json:"magnification_reason,omitempty"`
	Downsample          float64  `json:"downsample"`
	PatchSize           int      `json:"patch_size"`
	OutputSize          int      `json:"output_size"`

	Detections     int            `json:"detections"`
	Accepted       int            `json:"accepted"`
	Rejected       int            `json:"rejected"`
	Written        int            `json:"written"`
	Failed         int            `json:"failed"`
	RejectedByEdge map[string]int `json:"rejected_by_edge,omitempty"`

	Centroids *CentroidStats `json:"centroids,omitempty"`
}

// NewSummary builds the planning part of a summary. Written and Failed are
// filled in by the caller once tiles have been dispatched.
func NewSummary(plan tiling.Plan, sourcePath string, startedAt time.Time) Summary {
	s := Summary{
		RunID:               uuid.NewString(),
		Source:              plan.Source,
		SourcePath:          sourcePath,
		StartedAt:           startedAt,
		Width:               plan.Image.Width,
		Height:              plan.Image.Height,
		Magnification:       plan.Magnification.Value,
		MagnificationSource: plan.Magnification.Source.String(),
		MagnificationReason: plan.Magnification.Reason,
		Downsample:          plan.Downsample,
		PatchSize:           plan.PatchSize,
		Detections:          plan.Total(),
		Accepted:            plan.Accepted,
		Rejected:            plan.Rejected,
	}
	if plan.Downsample > 0 {
		s.OutputSize = int(float64(plan.PatchSize)/plan.Downsample + 0.5)
	}

	var xs, ys []float64
	for _, d := range plan.Decisions {
		if d.Accepted {
			xs = append(xs, float64(d.CentroidX))
			ys = append(ys, float64(d.CentroidY))
			continue
		}
		if s.RejectedByEdge == nil {
			s.RejectedByEdge = make(map[string]int)
		}
		s.RejectedByEdge[d.Crossed.String()]++
	}
	if len(xs) > 0 {
		var c CentroidStats
		c.MeanX, c.StdX = meanStd(xs)
		c.MeanY, c.StdY = meanStd(ys)
		s.Centroids = &c
	}
	return s
}

// meanStd is stat.MeanStdDev with a zero deviation for single samples.
func meanStd(v []float64) (float64, float64) {
	if len(v) == 1 {
		return v[0], 0
	}
	return stat.MeanStdDev(v, nil)
}

// WriteJSON writes the summary as indented JSON
func (s Summary) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Totals accumulates summaries across a batch
type Totals struct {
	Slides     int `json:"slides"`
	Skipped    int `json:"skipped"`
	Detections int `json:"detections"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Written    int `json:"written"`
	Failed     int `json:"failed"`
}

// Add folds one slide's summary into the totals.
func (t *Totals) Add(s Summary) {
	t.Slides++
	t.Detections += s.Detections
	t.Accepted += s.Accepted
	t.Rejected += s.Rejected
	t.Written += s.Written
	t.Failed += s.Failed
}

func (t Totals) String() string {
	return fmt.Sprintf("slides=%d skipped=%d detections=%d accepted=%d rejected=%d written=%d failed=%d",
		t.Slides, t.Skipped, t.Detections, t.Accepted, t.Rejected, t.Written, t.Failed)
}
