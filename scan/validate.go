package scan

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics compares a reconstructed cloud against a reference cloud
type Metrics struct {
	Coverage     float64 `json:"coverage"`     // fraction of reference points with a scanned point within tolerance
	Hausdorff    float64 `json:"hausdorff"`    // symmetric Hausdorff distance
	MeanDistance float64 `json:"meanDistance"` // mean nearest-reference distance of scanned points
	StdDistance  float64 `json:"stdDistance"`
}

// nearestDistances returns, for each point in from, the distance to its
// nearest neighbour in idx.
func nearestDistances(from []Point, idx *Index) []float64 {
	out := make([]float64, 0, len(from))
	for _, p := range from {
		if nb, ok := idx.Nearest(p.Vec()); ok {
			out = append(out, nb.Distance)
		}
	}
	return out
}

// Coverage is the fraction of reference points that have a scanned point
// within tol.
func Coverage(scanned, reference []Point, tol float64) (float64, error) {
	if len(reference) == 0 {
		return 0, dataErr("coverage", "empty reference cloud")
	}
	if len(scanned) == 0 {
		return 0, nil
	}
	idx := NewIndex(Vectors(scanned))
	hit := 0
	for _, p := range reference {
		if idx.CountWithin(p.Vec(), tol) > 0 {
			hit++
		}
	}
	return float64(hit) / float64(len(reference)), nil
}

// Hausdorff is the larger of the two directed Hausdorff distances
func Hausdorff(a, b []Point) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, dataErr("hausdorff", "empty cloud (%d, %d points)", len(a), len(b))
	}
	ab := directedHausdorff(a, NewIndex(Vectors(b)))
	ba := directedHausdorff(b, NewIndex(Vectors(a)))
	return math.Max(ab, ba), nil
}

func directedHausdorff(from []Point, to *Index) float64 {
	var worst float64
	for _, d := range nearestDistances(from, to) {
		worst = math.Max(worst, d)
	}
	return worst
}

// MeanDistance is the mean distance from each scanned point to its nearest
// reference point, with the population standard deviation.
func MeanDistance(scanned, reference []Point) (mean, std float64, err error) {
	if len(scanned) == 0 || len(reference) == 0 {
		return 0, 0, dataErr("mean distance", "empty cloud (%d, %d points)", len(scanned), len(reference))
	}
	d := nearestDistances(scanned, NewIndex(Vectors(reference)))
	mean, std = stat.PopMeanStdDev(d, nil)
	return mean, std, nil
}

// CompareClouds computes all metrics of scanned against reference
func CompareClouds(scanned, reference []Point, tol float64) (Metrics, error) {
	var m Metrics
	var err error
	if m.Coverage, err = Coverage(scanned, reference, tol); err != nil {
		return m, err
	}
	if m.Hausdorff, err = Hausdorff(scanned, reference); err != nil {
		return m, err
	}
	if m.MeanDistance, m.StdDistance, err = MeanDistance(scanned, reference); err != nil {
		return m, err
	}
	return m, nil
}
