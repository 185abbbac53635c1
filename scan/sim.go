package scan

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/golang/geo/r3"
)

// Sphere is a simulated obstacle; rays hit its surface from inside or outside
type Sphere struct {
	Center r3.Vector
	Radius float64
}

func (s Sphere) intersect(o, d r3.Vector) (float64, bool) {
	oc := o.Sub(s.Center)
	b := d.Dot(oc)
	c := oc.Norm2() - s.Radius*s.Radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	for _, t := range []float64{-b - sq, -b + sq} {
		if t > 1e-9 {
			return t, true
		}
	}
	return 0, false
}

// Box is an axis-aligned simulated obstacle
type Box struct {
	Min, Max r3.Vector
}

func (bx Box) intersect(o, d r3.Vector) (float64, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	os := [3]float64{o.X, o.Y, o.Z}
	ds := [3]float64{d.X, d.Y, d.Z}
	lo := [3]float64{bx.Min.X, bx.Min.Y, bx.Min.Z}
	hi := [3]float64{bx.Max.X, bx.Max.Y, bx.Max.Z}
	for i := 0; i < 3; i++ {
		if ds[i] == 0 {
			if os[i] < lo[i] || os[i] > hi[i] {
				return 0, false
			}
			continue
		}
		t1 := (lo[i] - os[i]) / ds[i]
		t2 := (hi[i] - os[i]) / ds[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
	}
	if tmax < tmin || tmax <= 1e-9 {
		return 0, false
	}
	if tmin > 1e-9 {
		return tmin, true
	}
	return tmax, true
}

// Scene is a static set of obstacles around the sensor
type Scene struct {
	Spheres []Sphere
	Boxes   []Box
}

// DefaultScene is a dome of radius 200 with a block and a ball inside it
func DefaultScene() Scene {
	return Scene{
		Spheres: []Sphere{
			{Center: r3.Vector{}, Radius: 200},
			{Center: r3.Vector{X: -60, Y: 90, Z: 40}, Radius: 25},
		},
		Boxes: []Box{
			{Min: r3.Vector{X: 80, Y: 40, Z: 0}, Max: r3.Vector{X: 130, Y: 110, Z: 60}},
		},
	}
}

// Cast returns the distance along unit direction d from o to the nearest surface
func (s Scene) Cast(o, d r3.Vector) (float64, bool) {
	best := math.Inf(1)
	for _, sp := range s.Spheres {
		if t, ok := sp.intersect(o, d); ok && t < best {
			best = t
		}
	}
	for _, bx := range s.Boxes {
		if t, ok := bx.intersect(o, d); ok && t < best {
			best = t
		}
	}
	return best, !math.IsInf(best, 1)
}

// SimRig is a simulated pan/tilt range sensor sitting at Origin. It
// implements MotionDriver, Settler and SensorDriver.
type SimRig struct {
	Scene       Scene
	Origin      r3.Vector
	MinDistance float64
	MaxDistance float64
	Noise       float64 // standard deviation of range noise

	// failure injection for tests
	FailReset    bool
	FailMotionAt map[float64]bool // horizontal angles that fail to rotate

	mu     sync.Mutex
	h, v   float64
	rng    *rand.Rand
	resets int
	moves  int
	reads  int
}

// NewSimRig creates a simulated rig in scene with the given valid range
func NewSimRig(scene Scene, minDist, maxDist float64, seed int64) *SimRig {
	return &SimRig{
		Scene:       scene,
		MinDistance: minDist,
		MaxDistance: maxDist,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (r *SimRig) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailReset {
		return hardwareErr("reset", "simulated reset failure")
	}
	r.h, r.v = 0, 0
	r.resets++
	return nil
}

func (r *SimRig) RotateHorizontal(ctx context.Context, degrees float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailMotionAt[degrees] {
		return hardwareErr("rotate horizontal", "simulated stall at %.1f°", degrees)
	}
	r.h = degrees
	r.moves++
	return nil
}

func (r *SimRig) RotateVertical(ctx context.Context, degrees float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.v = degrees
	r.moves++
	return nil
}

// Settled returns immediately: simulated motion completes instantly
func (r *SimRig) Settled(ctx context.Context) error {
	return ctx.Err()
}

func (r *SimRig) Distance(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	h := r.h * math.Pi / 180
	v := r.v * math.Pi / 180
	dir := r3.Vector{X: math.Cos(v) * math.Cos(h), Y: math.Cos(v) * math.Sin(h), Z: math.Sin(v)}
	d, ok := r.Scene.Cast(r.Origin, dir)
	if !ok {
		return 0, hardwareErr("distance", "no echo")
	}
	if r.Noise > 0 {
		d += r.rng.NormFloat64() * r.Noise
	}
	if d < r.MinDistance || d > r.MaxDistance {
		return 0, hardwareErr("distance", "reading %.1f outside [%.0f, %.0f]", d, r.MinDistance, r.MaxDistance)
	}
	return d, nil
}

// Pose returns the current pan/tilt angles in degrees
func (r *SimRig) Pose() (h, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h, r.v
}

// Counters returns how many resets, moves and reads the rig has served
func (r *SimRig) Counters() (resets, moves, reads int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets, r.moves, r.reads
}
