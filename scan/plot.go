package scan

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// CompletionChart plots completion rate and model size per iteration with
// the completion threshold as a dashed line. Iterations that never reached
// the checking phase are skipped.
func CompletionChart(reports []IterationReport, threshold float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Scan completion"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Completion (%)"
	p.Y.Min = 0
	p.Y.Max = 100

	pts := make(plotter.XYs, 0, len(reports))
	for _, r := range reports {
		if r.Completion == nil {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(r.Iteration), Y: r.Completion.Rate * 100})
	}
	if len(pts) == 0 {
		return nil, dataErr("chart", "no iteration reached the completion check")
	}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{0, 0, 139, 255}
	line.Width = vg.Points(1.5)
	points.GlyphStyle.Color = line.Color
	p.Add(line, points)
	p.Legend.Add("completion", line, points)

	target := plotter.NewFunction(func(float64) float64 { return threshold * 100 })
	target.Color = color.RGBA{220, 20, 60, 255}
	target.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	target.Width = vg.Points(1)
	p.Add(target)
	p.Legend.Add(fmt.Sprintf("threshold %.0f%%", threshold*100), target)

	p.X.Min = 0.5
	p.X.Max = pts[len(pts)-1].X + 0.5
	p.Legend.Top = false
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = 10
	p.Add(plotter.NewGrid())
	return p, nil
}

// WriteCompletionChart encodes the chart as PNG
func WriteCompletionChart(w io.Writer, reports []IterationReport, threshold float64) error {
	p, err := CompletionChart(reports, threshold)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("encoding chart: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveCompletionChart writes the chart to path; the extension picks the format
func SaveCompletionChart(path string, reports []IterationReport, threshold float64) error {
	p, err := CompletionChart(reports, threshold)
	if err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
