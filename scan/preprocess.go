package scan

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PreprocessConfig controls the cleaning pipeline
type PreprocessConfig struct {
	OutlierSigma float64 `yaml:"outlierSigma" json:"outlierSigma"` // keep points within mean + k*std of centroid distance
	SmoothWindow int     `yaml:"smoothWindow" json:"smoothWindow"` // median window; <= 1 disables smoothing
}

// DefaultPreprocessConfig returns the standard pipeline settings
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		OutlierSigma: 2,
		SmoothWindow: 5,
	}
}

// Pipeline is the default Preprocessor
type Pipeline struct {
	config PreprocessConfig
	Logf   Logf
}

// NewPipeline creates a preprocessing pipeline
func NewPipeline(config PreprocessConfig) *Pipeline {
	return &Pipeline{config: config}
}

// ConvertToCartesian converts range/azimuth/elevation samples to points.
// Azimuth is measured in the xy plane from +x, elevation up from that plane:
// x = r cos(v) cos(h), y = r cos(v) sin(h), z = r sin(v).
func (p *Pipeline) ConvertToCartesian(samples []RawSample) []Point {
	points := make([]Point, 0, len(samples))
	for _, s := range samples {
		h := s.AngleH * math.Pi / 180
		v := s.AngleV * math.Pi / 180
		points = append(points, Point{
			X:         s.Distance * math.Cos(v) * math.Cos(h),
			Y:         s.Distance * math.Cos(v) * math.Sin(h),
			Z:         s.Distance * math.Sin(v),
			Timestamp: s.Timestamp,
		})
	}
	return points
}

// RemoveOutliers drops points whose distance to the centroid exceeds the mean
// distance by more than OutlierSigma population standard deviations.
func (p *Pipeline) RemoveOutliers(points []Point) []Point {
	if len(points) < 3 || p.config.OutlierSigma <= 0 {
		return points
	}
	c := Centroid(Vectors(points))
	dist := make([]float64, len(points))
	for i, pt := range points {
		dist[i] = pt.Vec().Distance(c)
	}
	mean, std := stat.PopMeanStdDev(dist, nil)
	limit := mean + p.config.OutlierSigma*std

	kept := make([]Point, 0, len(points))
	for i, pt := range points {
		if dist[i] <= limit {
			kept = append(kept, pt)
		}
	}
	if removed := len(points) - len(kept); removed > 0 {
		p.Logf.printf("[PREP] removed %d outlier points", removed)
	}
	return kept
}

// Smooth applies a sliding median to each axis independently. The window is
// truncated at the ends of the sequence. Timestamps are preserved.
func (p *Pipeline) Smooth(points []Point) []Point {
	w := p.config.SmoothWindow
	if w <= 1 || len(points) < 2 {
		return points
	}
	half := w / 2
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, pt := range points {
		xs[i], ys[i], zs[i] = pt.X, pt.Y, pt.Z
	}

	out := make([]Point, len(points))
	buf := make([]float64, 0, w)
	for i, pt := range points {
		lo := max(0, i-half)
		hi := min(len(points), i+half+1)
		out[i] = Point{
			X:         median(xs[lo:hi], &buf),
			Y:         median(ys[lo:hi], &buf),
			Z:         median(zs[lo:hi], &buf),
			Timestamp: pt.Timestamp,
		}
	}
	return out
}

func median(window []float64, buf *[]float64) float64 {
	b := append((*buf)[:0], window...)
	*buf = b
	sort.Float64s(b)
	n := len(b)
	if n%2 == 1 {
		return b[n/2]
	}
	return (b[n/2-1] + b[n/2]) / 2
}

// Process runs conversion, outlier removal and smoothing in order
func Process(p Preprocessor, samples []RawSample) []Point {
	return p.Smooth(p.RemoveOutliers(p.ConvertToCartesian(samples)))
}
