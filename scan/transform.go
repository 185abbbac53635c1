package scan

import (
	"math"

	"github.com/golang/geo/r3"
)

// RigidTransform is a rotation followed by a translation: p' = R*p + T
type RigidTransform struct {
	R [3][3]float64 `json:"r"`
	T r3.Vector     `json:"t"`
}

// Identity returns the transform that leaves points unchanged
func Identity() RigidTransform {
	return RigidTransform{
		R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

// Translation creates a translation-only transform
func Translation(t r3.Vector) RigidTransform {
	m := Identity()
	m.T = t
	return m
}

// RotationZ creates a rotation about the z axis (angle in radians)
func RotationZ(angle float64) RigidTransform {
	c, s := math.Cos(angle), math.Sin(angle)
	return RigidTransform{
		R: [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}},
	}
}

// RotationAxis creates a rotation of angle radians about an arbitrary axis (Rodrigues)
func RotationAxis(axis r3.Vector, angle float64) RigidTransform {
	if axis.Norm2() == 0 {
		return Identity()
	}
	k := axis.Normalize()
	c, s := math.Cos(angle), math.Sin(angle)
	v := 1 - c
	return RigidTransform{
		R: [3][3]float64{
			{c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s},
			{k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s},
			{k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v},
		},
	}
}

// Rotate applies only the rotation part to v
func (m RigidTransform) Rotate(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.R[0][0]*v.X + m.R[0][1]*v.Y + m.R[0][2]*v.Z,
		Y: m.R[1][0]*v.X + m.R[1][1]*v.Y + m.R[1][2]*v.Z,
		Z: m.R[2][0]*v.X + m.R[2][1]*v.Y + m.R[2][2]*v.Z,
	}
}

// Apply transforms a single position
func (m RigidTransform) Apply(v r3.Vector) r3.Vector {
	return m.Rotate(v).Add(m.T)
}

// TransformPoint applies m to a point, keeping its timestamp
func TransformPoint(p Point, m RigidTransform) Point {
	return p.WithVec(m.Apply(p.Vec()))
}

// TransformPoints applies m to every point and returns a new slice
func TransformPoints(points []Point, m RigidTransform) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// Compose returns the transform equivalent to applying other first, then m
func (m RigidTransform) Compose(other RigidTransform) RigidTransform {
	var out RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out.R[i][j] += m.R[i][k] * other.R[k][j]
			}
		}
	}
	out.T = m.Rotate(other.T).Add(m.T)
	return out
}

// Inverse returns the transform that undoes m. R is assumed orthonormal.
func (m RigidTransform) Inverse() RigidTransform {
	var out RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = m.R[j][i]
		}
	}
	out.T = out.Rotate(m.T).Mul(-1)
	return out
}

// Det returns the determinant of the rotation block
func (m RigidTransform) Det() float64 {
	r := m.R
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}

// IsRotation reports whether R is orthonormal with determinant +1 within tol
func (m RigidTransform) IsRotation(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot := 0.0
			for k := 0; k < 3; k++ {
				dot += m.R[k][i] * m.R[k][j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	return math.Abs(m.Det()-1) <= tol
}

// RotationAngle returns the magnitude of the rotation in radians
func (m RigidTransform) RotationAngle() float64 {
	c := (m.R[0][0] + m.R[1][1] + m.R[2][2] - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c)
}

// Matrix4 returns the homogeneous 4x4 form, row major
func (m RigidTransform) Matrix4() [4][4]float64 {
	var h [4][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.R[i][j]
		}
	}
	h[0][3], h[1][3], h[2][3] = m.T.X, m.T.Y, m.T.Z
	h[3][3] = 1
	return h
}

// IsFinite reports whether every component is a finite number
func (m RigidTransform) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(m.R[i][j]) || math.IsInf(m.R[i][j], 0) {
				return false
			}
		}
	}
	for _, f := range []float64{m.T.X, m.T.Y, m.T.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
