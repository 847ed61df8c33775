package report

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/menta2k/cell-tiler/pkg/tiling"
)

// maxChartPoints bounds the HTML payload; larger plans are strided.
const maxChartPoints = 20000

// WriteCentroidChart renders an interactive scatter of accepted and
// rejected centroids as a standalone HTML page.
func WriteCentroidChart(path string, plan tiling.Plan) error {
	stride := 1
	if n := plan.Total(); n > maxChartPoints {
		stride = int(math.Ceil(float64(n) / float64(maxChartPoints)))
	}

	var accepted, rejected []opts.ScatterData
	for i := 0; i < len(plan.Decisions); i += stride {
		d := plan.Decisions[i]
		pt := opts.ScatterData{Name: d.Detection.ID, Value: []interface{}{d.CentroidX, d.CentroidY}}
		if d.Accepted {
			accepted = append(accepted, pt)
		} else {
			rejected = append(rejected, pt)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tile centroids", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    plan.Source,
			Subtitle: fmt.Sprintf("accepted=%d rejected=%d downsample=%g stride=%d", plan.Accepted, plan.Rejected, plan.Downsample, stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: plan.Image.Width, Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: plan.Image.Height, Name: "y (px)", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("accepted", accepted, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("rejected", rejected, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart: %w", err)
	}
	defer f.Close()
	if err := scatter.Render(f); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return f.Close()
}

// WriteCentroidPlot saves a static PNG scatter of the same data. The y axis
// is inverted so the plot reads like the slide.
func WriteCentroidPlot(path string, plan tiling.Plan) error {
	var accepted, rejected plotter.XYs
	for _, d := range plan.Decisions {
		pt := plotter.XY{X: float64(d.CentroidX), Y: float64(d.CentroidY)}
		if d.Accepted {
			accepted = append(accepted, pt)
		} else {
			rejected = append(rejected, pt)
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %d accepted, %d rejected", plan.Source, plan.Accepted, plan.Rejected)
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.X.Min, p.X.Max = 0, float64(plan.Image.Width)
	p.Y.Min, p.Y.Max = 0, float64(plan.Image.Height)
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}

	series := []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"accepted", accepted, color.RGBA{R: 0, G: 160, B: 0, A: 255}},
		{"rejected", rejected, color.RGBA{R: 220, G: 0, B: 0, A: 255}},
	}
	for _, s := range series {
		if len(s.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(s.pts)
		if err != nil {
			return fmt.Errorf("failed to build %s series: %w", s.name, err)
		}
		sc.GlyphStyle.Color = s.c
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(s.name, sc)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
