package scan

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ICPConfig holds configuration for point-to-point ICP.
// Distances are in the same units as the point clouds.
type ICPConfig struct {
	MaxIterations int     `yaml:"maxIterations" json:"maxIterations"` // Maximum number of iterations
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`         // Stop once the mean nearest-neighbor distance is below this
}

// DefaultICPConfig returns the standard ICP settings
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations: 50,
		Tolerance:     0.001,
	}
}

// ICPResult contains the result of an ICP alignment
type ICPResult struct {
	Transform  RigidTransform `json:"transform"`  // maps source into the target frame
	Error      float64        `json:"error"`      // final mean nearest-neighbor distance
	Iterations int            `json:"iterations"` // solve steps performed
	Converged  bool           `json:"converged"`  // error dropped below tolerance
}

// AlignICP registers source onto target with point-to-point ICP.
//
// Each iteration matches every source point to its nearest target point,
// solves the best rigid motion for the matches by SVD and applies it. The
// returned transform is the composition of all steps, so applying it to the
// original source reproduces the aligned cloud. ICP only refines: clouds that
// start far apart may settle in a local optimum.
func AlignICP(source, target []Point, config ICPConfig) (ICPResult, error) {
	const op = "icp"
	if len(source) == 0 || len(target) == 0 {
		return ICPResult{}, dataErr(op, "empty cloud (source %d, target %d points)", len(source), len(target))
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultICPConfig().MaxIterations
	}

	tgt := Vectors(target)
	src := Vectors(source)
	index := NewIndex(tgt)

	result := ICPResult{Transform: Identity()}
	matched := make([]r3.Vector, len(src))

	correspond := func() (float64, error) {
		sum := 0.0
		for i, p := range src {
			n, ok := index.Nearest(p)
			if !ok {
				return 0, numericalErr(op, "empty nearest-neighbor result")
			}
			matched[i] = tgt[n.Index]
			sum += n.Distance
		}
		return sum / float64(len(src)), nil
	}

	for {
		meanErr, err := correspond()
		if err != nil {
			return ICPResult{}, err
		}
		result.Error = meanErr
		if meanErr < config.Tolerance {
			result.Converged = true
			break
		}
		if result.Iterations >= config.MaxIterations {
			break
		}

		step, err := bestRigidTransform(src, matched)
		if err != nil {
			return ICPResult{}, err
		}
		for i := range src {
			src[i] = step.Apply(src[i])
		}
		result.Transform = step.Compose(result.Transform)
		result.Iterations++
	}

	if !result.Transform.IsFinite() {
		return ICPResult{}, numericalErr(op, "non-finite transform")
	}
	return result, nil
}

// bestRigidTransform solves for R, t minimizing sum |R*src_i + t - dst_i|^2
// (Kabsch). A reflection solution is corrected by flipping the last row of V^T.
func bestRigidTransform(src, dst []r3.Vector) (RigidTransform, error) {
	const op = "icp solve"
	sc := Centroid(src)
	dc := Centroid(dst)

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		a := src[i].Sub(sc)
		b := dst[i].Sub(dc)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+av[r]*bv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return RigidTransform{}, numericalErr(op, "SVD factorization failed")
	}
	values := svd.Values(nil)
	if sum := values[0] + values[1] + values[2]; sum < 1e-12 || math.IsNaN(sum) {
		return RigidTransform{}, numericalErr(op, "degenerate cross-covariance")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		// Vt's last row is V's last column
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
		rot.Mul(&v, u.T())
	}

	var m RigidTransform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.R[r][c] = rot.At(r, c)
		}
	}
	m.T = dc.Sub(m.Rotate(sc))
	if !m.IsFinite() {
		return RigidTransform{}, numericalErr(op, "non-finite solution")
	}
	return m, nil
}
