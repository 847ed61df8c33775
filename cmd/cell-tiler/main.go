package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	celltiler "github.com/menta2k/cell-tiler"
	"github.com/menta2k/cell-tiler/internal/config"
	"github.com/menta2k/cell-tiler/internal/utils"
	"github.com/menta2k/cell-tiler/pkg/detection"
	"github.com/menta2k/cell-tiler/pkg/report"
	"github.com/menta2k/cell-tiler/pkg/tiling"
)

func main() {
	var in, detections, outDir, configPath string
	var ext string
	var quality, patch, workers int
	var lossless bool
	var magDesired, magFallback, mag float64
	var verbose, debug, chart, plot, recursive bool

	flag.StringVar(&in, "in", "", "slide raster or directory of slides (tif/png/jpg/webp)")
	flag.StringVar(&detections, "detections", "", "detection export (csv/tsv/geojson/json) or directory holding <slide>.<ext> exports")
	flag.StringVar(&outDir, "out", "", "output directory (default from config: ./tiles)")
	flag.StringVar(&configPath, "config", "", "config file (json/toml/yaml, default ~/.config/cell-tiler/config.json if present); CELLTILER_* env vars also apply")

	flag.IntVar(&patch, "patch", tiling.DefaultTargetPatchPixels, "output tile size in pixels at the desired magnification")
	flag.Float64Var(&magDesired, "mag-desired", tiling.DefaultDesiredMagnification, "magnification tiles are extracted at")
	flag.Float64Var(&magFallback, "mag-fallback", tiling.DefaultFallbackBaseMagnification, "base magnification assumed when a slide reports none")
	flag.Float64Var(&mag, "mag", 0, "override the slide's base magnification (0 = use sidecar)")

	flag.StringVar(&ext, "ext", "jpg", "tile format: jpg|png|webp")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP tile quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP lossless tiles")
	flag.IntVar(&workers, "workers", 4, "concurrent tile writers (0 = GOMAXPROCS)")

	flag.BoolVar(&verbose, "verbose", false, "log every rejected window")
	flag.BoolVar(&debug, "debug", false, "write a debug overlay of accepted and rejected windows")
	flag.BoolVar(&chart, "chart", false, "write an interactive centroid chart (HTML)")
	flag.BoolVar(&plot, "plot", false, "write a centroid scatter plot (PNG)")
	flag.BoolVar(&recursive, "recursive", false, "descend into subdirectories of -in")

	flag.Parse()
	if in == "" || detections == "" {
		log.Fatalf("usage: %s -in slide.tif|dir -detections cells.csv|dir [-out dir] [-config file] [-patch 224] [-mag-desired 40] [-mag-fallback 40] [-mag 20] [-ext jpg|png|webp] [-debug]", filepath.Base(os.Args[0]))
	}

	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Explicit flags win over the config file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.Dir = outDir
		case "patch":
			cfg.Tiling.TargetPatchPixels = patch
		case "mag-desired":
			cfg.Tiling.DesiredMagnification = magDesired
		case "mag-fallback":
			cfg.Tiling.FallbackBaseMagnification = magFallback
		case "ext":
			cfg.Output.Format = ext
		case "quality":
			cfg.Output.Quality = quality
		case "lossless":
			cfg.Output.Lossless = lossless
		case "workers":
			cfg.Output.Workers = workers
		case "debug":
			cfg.Report.Overlay = debug
		case "chart":
			cfg.Report.Chart = chart
		case "plot":
			cfg.Report.Plot = plot
		}
	})

	if err := cfg.Validate(); err != nil {
		var cfgErr *tiling.ConfigurationError
		if errors.As(err, &cfgErr) {
			log.Fatalf("configuration error: %v", cfgErr)
		}
		log.Fatal(err)
	}

	tiler, err := celltiler.NewWithConfig(cfg.PlannerConfig(), cfg.DetectionColumns(), cfg.TileConfig(), celltiler.Artifacts{
		Summary:     cfg.Report.Summary,
		Manifest:    cfg.Report.Manifest,
		Chart:       cfg.Report.Chart,
		Plot:        cfg.Report.Plot,
		Overlay:     cfg.Report.Overlay,
		OverlaySize: cfg.Report.OverlaySize,
	})
	if err != nil {
		log.Fatal(err)
	}
	tiler.SetWorkers(cfg.Output.Workers)
	tiler.SetVerbose(verbose)

	var override *float64
	if mag > 0 {
		override = &mag
	}

	if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !utils.DirExists(in) {
		detPath := detections
		if utils.DirExists(detections) {
			p, ok := detection.Find(detections, utils.BaseName(in))
			if !ok {
				log.Fatalf("no detections for %s in %s", in, detections)
			}
			detPath = p
		}
		if _, err := tiler.ProcessSlide(ctx, in, detPath, cfg.Output.Dir, override); err != nil {
			log.Fatal(err)
		}
		return
	}

	if !utils.DirExists(detections) {
		log.Fatalf("-detections must be a directory when -in is a directory")
	}

	slides, err := utils.ListSlideFiles(in, recursive)
	if err != nil {
		log.Fatal(err)
	}
	if len(slides) == 0 {
		log.Fatalf("no slides found in %s", in)
	}

	entries, skipped := celltiler.PlanBatch(in, detections, slides)
	var totals report.Totals
	for _, sk := range skipped {
		log.Printf("skip %s: %s", sk.Slide, sk.Reason)
		totals.Skipped++
	}

	failed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		summary, err := tiler.ProcessSlideAs(ctx, e.Name, e.Slide, e.Detections, cfg.Output.Dir, override)
		if err != nil {
			log.Printf("%s failed: %v", e.Slide, err)
			failed++
			continue
		}
		totals.Add(summary)
	}

	log.Printf("batch: %s", totals)
	if ctx.Err() != nil {
		log.Fatalf("interrupted: %v", ctx.Err())
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d slide(s) failed\n", failed)
		os.Exit(1)
	}
}
