package scan

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/optimize"
)

// PlannerConfig holds the view-planning parameters
type PlannerConfig struct {
	Restarts       int        // independent random starts per hole
	MinScore       float64    // viewpoints must score strictly above this
	TargetDecimals int        // rounding used to deduplicate targets
	MaxEvaluations int        // score evaluations allowed per restart
	RNG            *rand.Rand // source of restart positions
}

// DefaultPlannerConfig returns the standard planner settings
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Restarts:       5,
		MinScore:       0.1,
		TargetDecimals: 3,
		MaxEvaluations: 2000,
		RNG:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Planner chooses viewpoints for hole clusters
type Planner struct {
	config PlannerConfig
	rng    *rand.Rand
	Logf   Logf
}

// NewPlanner creates a planner. A nil RNG gets a time-seeded source.
func NewPlanner(config PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if config.Restarts <= 0 {
		config.Restarts = def.Restarts
	}
	if config.MaxEvaluations <= 0 {
		config.MaxEvaluations = def.MaxEvaluations
	}
	if config.TargetDecimals < 0 {
		config.TargetDecimals = def.TargetDecimals
	}
	rng := config.RNG
	if rng == nil {
		rng = def.RNG
	}
	return &Planner{config: config, rng: rng}
}

// Score rates a viewpoint for observing target: 1/(1+d), scaled by the cosine
// between the viewing direction and the surface normal when one is given.
// A viewpoint on top of its target scores 0. The result lies in [0, 1).
func Score(viewpoint, target r3.Vector, normal *r3.Vector) float64 {
	dir := target.Sub(viewpoint)
	d := dir.Norm()
	if d == 0 || math.IsNaN(d) {
		return 0
	}
	s := 1 / (1 + d)
	if normal != nil {
		n := normal.Norm()
		if n == 0 {
			return s
		}
		cos := dir.Dot(*normal) / (d * n)
		s *= math.Max(0, cos)
	}
	return s
}

// boxMap maps an unconstrained vector u into the box so that a free
// optimizer can search bounded space: x = lo + (hi-lo)(1+tanh u)/2.
type boxMap struct {
	lo, hi [3]float64
}

func newBoxMap(b Bounds) boxMap {
	return boxMap{
		lo: [3]float64{b.Min.X, b.Min.Y, b.Min.Z},
		hi: [3]float64{b.Max.X, b.Max.Y, b.Max.Z},
	}
}

func (m boxMap) toBox(u []float64) r3.Vector {
	var x [3]float64
	for i := range x {
		x[i] = m.lo[i] + (m.hi[i]-m.lo[i])*(1+math.Tanh(u[i]))/2
	}
	return r3.Vector{X: x[0], Y: x[1], Z: x[2]}
}

// faceClamp keeps atanh finite on the box faces. A face coordinate comes
// back within about 1e-12 of the box width.
const faceClamp = 1 - 1e-12

// fromBox is the inverse of toBox, clamped away from the box faces
func (m boxMap) fromBox(v r3.Vector) []float64 {
	x := [3]float64{v.X, v.Y, v.Z}
	u := make([]float64, 3)
	for i := range u {
		w := m.hi[i] - m.lo[i]
		if w == 0 {
			continue
		}
		t := 2*(x[i]-m.lo[i])/w - 1
		t = math.Max(-faceClamp, math.Min(faceClamp, t))
		u[i] = math.Atanh(t)
	}
	return u
}

func (p *Planner) uniformIn(b Bounds) r3.Vector {
	return r3.Vector{
		X: b.Min.X + p.rng.Float64()*(b.Max.X-b.Min.X),
		Y: b.Min.Y + p.rng.Float64()*(b.Max.Y-b.Min.Y),
		Z: b.Min.Z + p.rng.Float64()*(b.Max.Z-b.Min.Z),
	}
}

// OptimizeViewpoint maximizes Score over positions inside bounds with a
// Nelder-Mead search restarted from random points. The best converged restart
// wins. When none converges the returned viewpoint has Score -Inf and the
// error is a NumericalFailure.
func (p *Planner) OptimizeViewpoint(target r3.Vector, bounds Bounds, normal *r3.Vector) (Viewpoint, error) {
	const op = "optimize viewpoint"
	failed := Viewpoint{Target: target, Score: math.Inf(-1)}
	if err := bounds.Validate(); err != nil {
		return failed, &Error{Kind: DataFault, Op: op, Err: err}
	}

	box := newBoxMap(bounds)
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			return -Score(box.toBox(u), target, normal)
		},
	}

	best := failed
	converged := 0
	for r := 0; r < p.config.Restarts; r++ {
		start := box.fromBox(p.uniformIn(bounds))
		settings := &optimize.Settings{
			FuncEvaluations: p.config.MaxEvaluations,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-10,
				Iterations: 50,
			},
		}
		result, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
		if err != nil || result == nil || result.Status.Early() {
			continue
		}
		converged++
		pos := box.toBox(result.X)
		score := Score(pos, target, normal)
		if score > best.Score {
			best = Viewpoint{Position: pos, Target: target, Score: score}
		}
	}

	if converged == 0 {
		return failed, numericalErr(op, "none of %d restarts converged", p.config.Restarts)
	}
	return best, nil
}

// PlanScanningPath optimizes one viewpoint per hole, keeps those scoring above
// the minimum, sorts them best first and drops any whose rounded target was
// already taken by a better viewpoint.
func (p *Planner) PlanScanningPath(holes []HoleCluster, bounds Bounds) ([]Viewpoint, error) {
	if err := bounds.Validate(); err != nil {
		return nil, &Error{Kind: DataFault, Op: "plan scanning path", Err: err}
	}

	var kept []Viewpoint
	for i, hole := range holes {
		vp, err := p.OptimizeViewpoint(hole.Center, bounds, nil)
		if err != nil {
			p.Logf.printf("[PLAN] hole %d at (%.1f, %.1f, %.1f): %v", i, hole.Center.X, hole.Center.Y, hole.Center.Z, err)
			continue
		}
		if vp.Score > p.config.MinScore {
			kept = append(kept, vp)
		}
	}

	sort.SliceStable(kept, func(a, b int) bool { return kept[a].Score > kept[b].Score })

	seen := make(map[PointKey]bool, len(kept))
	out := kept[:0]
	for _, vp := range kept {
		key := vectorKey(vp.Target, p.config.TargetDecimals)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, vp)
	}
	return out, nil
}

// GenerateScanningSequence orders viewpoints as a nearest-neighbor tour
// starting from the first one. It is a greedy heuristic: the tour is
// deterministic for a given input order but not guaranteed to be the shortest.
func GenerateScanningSequence(viewpoints []Viewpoint) []Viewpoint {
	if len(viewpoints) == 0 {
		return nil
	}
	visited := make([]bool, len(viewpoints))
	seq := make([]Viewpoint, 0, len(viewpoints))

	cur := 0
	visited[0] = true
	seq = append(seq, viewpoints[0])
	for len(seq) < len(viewpoints) {
		next := -1
		bestDist := math.Inf(1)
		for i, vp := range viewpoints {
			if visited[i] {
				continue
			}
			if d := viewpoints[cur].Position.Distance(vp.Position); d < bestDist || next == -1 {
				bestDist = d
				next = i
			}
		}
		visited[next] = true
		seq = append(seq, viewpoints[next])
		cur = next
	}
	return seq
}
