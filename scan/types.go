package scan

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// Point is a single preprocessed measurement in Cartesian space.
// Distances are in millimeters, Timestamp is seconds since the Unix epoch.
type Point struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp float64 `json:"timestamp"`
}

// Vec returns the position of the point as a vector
func (p Point) Vec() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// WithVec returns a copy of p moved to v, keeping the timestamp
func (p Point) WithVec(v r3.Vector) Point {
	return Point{X: v.X, Y: v.Y, Z: v.Z, Timestamp: p.Timestamp}
}

// PointKey is a rounded position used to compare points for deduplication.
type PointKey struct {
	X, Y, Z float64
}

// Key rounds the position of p to the given number of decimal places.
// Timestamps are ignored: two samples of the same spot are the same point.
func (p Point) Key(decimals int) PointKey {
	return vectorKey(p.Vec(), decimals)
}

func vectorKey(v r3.Vector, decimals int) PointKey {
	scale := math.Pow(10, float64(decimals))
	round := func(f float64) float64 {
		r := math.Round(f*scale) / scale
		if r == 0 {
			return 0 // fold -0
		}
		return r
	}
	return PointKey{X: round(v.X), Y: round(v.Y), Z: round(v.Z)}
}

// Less orders points by x, then y, then z, then timestamp
func (p Point) Less(o Point) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	if p.Z != o.Z {
		return p.Z < o.Z
	}
	return p.Timestamp < o.Timestamp
}

// Vectors extracts the positions of points
func Vectors(points []Point) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = p.Vec()
	}
	return out
}

// Centroid returns the mean position of vs, or the zero vector when empty
func Centroid(vs []r3.Vector) r3.Vector {
	if len(vs) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, v := range vs {
		sum = sum.Add(v)
	}
	return sum.Mul(1 / float64(len(vs)))
}

// RawSample is one reading as it leaves the hardware: range plus pointing angles in degrees.
type RawSample struct {
	Distance  float64 `json:"distance"`
	AngleH    float64 `json:"angleH"`
	AngleV    float64 `json:"angleV"`
	Timestamp float64 `json:"timestamp"`
}

// VoxelKey identifies a cell of a VisibilityMap grid
type VoxelKey struct {
	I, J, K int
}

func (k VoxelKey) less(o VoxelKey) bool {
	if k.I != o.I {
		return k.I < o.I
	}
	if k.J != o.J {
		return k.J < o.J
	}
	return k.K < o.K
}

// VisibilityMap counts how many points fall near the center of each voxel.
// Every voxel of the grid has an entry, including empty ones.
type VisibilityMap struct {
	Origin     r3.Vector        // minimum corner of the bounding box
	Resolution float64          // voxel edge length
	Dims       [3]int           // voxels per axis
	Counts     map[VoxelKey]int // point count within 2*Resolution of each center
}

// Center returns the world position of a voxel's center
func (m *VisibilityMap) Center(k VoxelKey) r3.Vector {
	return r3.Vector{
		X: m.Origin.X + (float64(k.I)+0.5)*m.Resolution,
		Y: m.Origin.Y + (float64(k.J)+0.5)*m.Resolution,
		Z: m.Origin.Z + (float64(k.K)+0.5)*m.Resolution,
	}
}

// Len returns the total number of voxels
func (m *VisibilityMap) Len() int {
	return len(m.Counts)
}

// Covered returns the number of voxels with at least one point nearby
func (m *VisibilityMap) Covered() int {
	n := 0
	for _, c := range m.Counts {
		if c > 0 {
			n++
		}
	}
	return n
}

// HoleCluster is a group of under-sampled voxels
type HoleCluster struct {
	Center  r3.Vector   `json:"center"`
	Size    int         `json:"size"`
	Members []r3.Vector `json:"members"`
}

// Viewpoint is a candidate sensor position looking at a target
type Viewpoint struct {
	Position r3.Vector `json:"position"`
	Target   r3.Vector `json:"target"`
	Score    float64   `json:"score"`
}

// PointingAngles converts the direction from Position to Target into
// horizontal (azimuth) and vertical (elevation) angles in degrees.
func (v Viewpoint) PointingAngles() (h, vert float64) {
	d := v.Target.Sub(v.Position)
	h = math.Atan2(d.Y, d.X) * 180 / math.Pi
	vert = math.Atan2(d.Z, math.Hypot(d.X, d.Y)) * 180 / math.Pi
	return h, vert
}

// Bounds is an axis-aligned box constraining viewpoint positions
type Bounds struct {
	Min r3.Vector `yaml:"min" json:"min"`
	Max r3.Vector `yaml:"max" json:"max"`
}

// DefaultBounds returns the motion envelope of the scanner rig (mm)
func DefaultBounds() Bounds {
	return Bounds{
		Min: r3.Vector{X: -500, Y: -500, Z: 0},
		Max: r3.Vector{X: 500, Y: 500, Z: 500},
	}
}

// Validate checks that every axis has min <= max and finite limits
func (b Bounds) Validate() error {
	lo := []float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := []float64{b.Max.X, b.Max.Y, b.Max.Z}
	for i := range lo {
		if math.IsNaN(lo[i]) || math.IsNaN(hi[i]) || math.IsInf(lo[i], 0) || math.IsInf(hi[i], 0) {
			return fmt.Errorf("bounds axis %d is not finite", i)
		}
		if lo[i] > hi[i] {
			return fmt.Errorf("bounds axis %d: min %.3f > max %.3f", i, lo[i], hi[i])
		}
	}
	return nil
}

// Contains reports whether v lies inside the box (inclusive)
func (b Bounds) Contains(v r3.Vector) bool {
	return v.X >= b.Min.X && v.X <= b.Max.X &&
		v.Y >= b.Min.Y && v.Y <= b.Max.Y &&
		v.Z >= b.Min.Z && v.Z <= b.Max.Z
}

// Session is the state accumulated by one controller across a run.
// RawScans[i] is the preprocessed scan in its own frame; Transforms[i] maps it
// into the global frame, which the first scan defines.
type Session struct {
	ID               uuid.UUID        `json:"id"`
	Started          time.Time        `json:"started"`
	AccumulatedModel []Point          `json:"-"`
	RawScans         [][]Point        `json:"-"`
	Transforms       []RigidTransform `json:"transforms"`
}

// NewSession creates an empty session
func NewSession(started time.Time) *Session {
	return &Session{
		ID:      uuid.New(),
		Started: started,
	}
}

// Clone returns a deep copy so callers cannot mutate the controller's state
func (s *Session) Clone() *Session {
	c := &Session{
		ID:               s.ID,
		Started:          s.Started,
		AccumulatedModel: append([]Point(nil), s.AccumulatedModel...),
		Transforms:       append([]RigidTransform(nil), s.Transforms...),
		RawScans:         make([][]Point, len(s.RawScans)),
	}
	for i, scan := range s.RawScans {
		c.RawScans[i] = append([]Point(nil), scan...)
	}
	return c
}
