// Package extract runs the tiling plan for a slide and hands every accepted
// window to a TileWriter.
package extract

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/cell-tiler/pkg/report"
	"github.com/menta2k/cell-tiler/pkg/tiling"
	"github.com/menta2k/cell-tiler/pkg/types"
)

// Source is the slide being tiled
type Source interface {
	Name() string
	Path() string
	Metadata() types.ImageMetadata
}

// Options controls dispatch and logging
type Options struct {
	// Workers bounds concurrent tile writes; <= 0 means GOMAXPROCS.
	Workers int
	// Verbose logs one line per rejected window.
	Verbose bool
	Logger  *log.Logger
}

// Extractor plans and writes tiles for one slide at a time
type Extractor struct {
	planner *tiling.Planner
	writer  TileWriter
	opts    Options
	logger  *log.Logger
}

// Result is what Run produced for one slide
type Result struct {
	Plan     tiling.Plan
	Summary  report.Summary
	Manifest []report.ManifestRow
}

// New creates an extractor
func New(planner *tiling.Planner, writer TileWriter, opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Extractor{planner: planner, writer: writer, opts: opts, logger: logger}
}

// Run plans src and writes every accepted tile. Tile write failures are
// logged and counted; only cancellation of ctx makes Run return an error,
// in which case the partial result is still returned.
func (e *Extractor) Run(ctx context.Context, src Source, detections []types.DetectedObject) (Result, error) {
	started := time.Now()
	plan := e.planner.Plan(src.Name(), detections, src.Metadata())

	if plan.Magnification.FallbackUsed() {
		e.logger.Printf("warning: %s: magnification %s, using fallback %gx",
			plan.Source, plan.Magnification.Reason, plan.Magnification.Value)
	}
	if plan.Clamped {
		e.logger.Printf("warning: %s: downsample %gx/%gx invalid, using 1.0",
			plan.Source, plan.Magnification.Value, e.planner.Config().DesiredMagnification)
	}
	if plan.PatchSize < 1 {
		e.logger.Printf("warning: %s: window of %d px at downsample %g is empty, every detection rejected",
			plan.Source, plan.PatchSize, plan.Downsample)
	}
	for _, d := range plan.Decisions {
		if d.Accepted || !e.opts.Verbose || d.Crossed == tiling.EdgeEmpty {
			continue
		}
		e.logger.Printf("rejected %s (%d,%d): window %d,%d %dpx crosses %s edge",
			d.Detection.ID, d.CentroidX, d.CentroidY, d.Region.X, d.Region.Y, d.Region.Size, d.Crossed)
	}

	accepted := plan.AcceptedDecisions()
	paths := make([]string, len(accepted))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, d := range accepted {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			req := WriteRequest{SourcePath: src.Path(), TileID: d.TileID, Region: d.Region}
			path, err := e.writer.WriteTile(gctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				e.logger.Printf("write %s failed: %v", d.TileID, err)
				return nil
			}
			paths[i] = path
			return nil
		})
	}
	waitErr := g.Wait()
	if waitErr == nil {
		waitErr = ctx.Err()
	}

	res := Result{Plan: plan}
	for i, d := range accepted {
		if paths[i] == "" {
			continue
		}
		res.Manifest = append(res.Manifest, report.ManifestRow{
			TileID:     d.TileID,
			File:       filepath.Base(paths[i]),
			ObjectID:   d.Detection.ID,
			CentroidX:  d.CentroidX,
			CentroidY:  d.CentroidY,
			X:          d.Region.X,
			Y:          d.Region.Y,
			Size:       d.Region.Size,
			Downsample: d.Region.Downsample,
		})
	}

	res.Summary = report.NewSummary(plan, src.Path(), started)
	res.Summary.Written = len(res.Manifest)
	res.Summary.Failed = int(failed.Load())
	res.Summary.FinishedAt = time.Now()

	e.logger.Printf("%s: detections=%d accepted=%d rejected=%d written=%d failed=%d downsample=%g",
		plan.Source, plan.Total(), plan.Accepted, plan.Rejected, res.Summary.Written, res.Summary.Failed, plan.Downsample)

	if waitErr != nil {
		return res, fmt.Errorf("extraction of %s interrupted: %w", plan.Source, waitErr)
	}
	return res, nil
}
