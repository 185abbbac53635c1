package scan

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridPoints fills [0,extent]^3 with points spaced step apart
func gridPoints(extent, step float64) []Point {
	var pts []Point
	for x := 0.0; x <= extent; x += step {
		for y := 0.0; y <= extent; y += step {
			for z := 0.0; z <= extent; z += step {
				pts = append(pts, Point{X: x, Y: y, Z: z})
			}
		}
	}
	return pts
}

// cornerPoints puts a small dense blob at the origin and another at far
func cornerPoints(far float64) []Point {
	var pts []Point
	for _, base := range []float64{0, far} {
		for i := 0.0; i < 3; i++ {
			for j := 0.0; j < 3; j++ {
				for k := 0.0; k < 3; k++ {
					pts = append(pts, Point{X: base + 2*i, Y: base + 2*j, Z: base + 2*k})
				}
			}
		}
	}
	return pts
}

func TestBuildVisibilityMap_Errors(t *testing.T) {
	tests := []struct {
		name       string
		points     []Point
		resolution float64
	}{
		{"no points", nil, 10},
		{"single point", []Point{{X: 1, Y: 2, Z: 3}}, 10},
		{"flat cloud", []Point{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 5, Y: 20}}, 10},
		{"zero resolution", gridPoints(20, 10), 0},
		{"negative resolution", gridPoints(20, 10), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, err := BuildVisibilityMap(tt.points, tt.resolution)
			assert.Nil(t, vm)
			assert.ErrorIs(t, err, ErrDataFault)
		})
	}
}

func TestBuildVisibilityMap_TooManyVoxels(t *testing.T) {
	_, err := buildVisibilityMap(gridPoints(100, 50), 1, 1000)
	assert.ErrorIs(t, err, ErrDataFault)
}

func TestBuildVisibilityMap_Dims(t *testing.T) {
	pts := []Point{{X: 0, Y: 0, Z: 0}, {X: 30, Y: 20, Z: 10}}
	vm, err := BuildVisibilityMap(pts, 10)
	require.NoError(t, err)

	assert.Equal(t, [3]int{3, 2, 1}, vm.Dims)
	assert.Equal(t, 6, vm.Len())
	assert.Equal(t, r3.Vector{}, vm.Origin)
	assert.Equal(t, r3.Vector{X: 5, Y: 5, Z: 5}, vm.Center(VoxelKey{}))
	assert.Equal(t, r3.Vector{X: 25, Y: 15, Z: 5}, vm.Center(VoxelKey{I: 2, J: 1}))

	// only the origin sample lies within 2*resolution of the first center
	assert.Equal(t, 1, vm.Counts[VoxelKey{}])
	for k, c := range vm.Counts {
		assert.GreaterOrEqual(t, c, 0, "voxel %v", k)
	}
}

func TestBuildVisibilityMap_DenseGridFullyCovered(t *testing.T) {
	vm, err := BuildVisibilityMap(gridPoints(100, 10), 10)
	require.NoError(t, err)
	assert.Equal(t, 1000, vm.Len())
	assert.Equal(t, vm.Len(), vm.Covered())
	assert.Empty(t, DetectHoles(vm, 3))
}

func TestDetectHolesWithin_FirstComeClustering(t *testing.T) {
	// a row of ten voxels: empty, empty, empty, full x3, empty x4
	vm := &VisibilityMap{
		Resolution: 10,
		Dims:       [3]int{10, 1, 1},
		Counts:     map[VoxelKey]int{},
	}
	for i := 0; i < 10; i++ {
		c := 0
		if i >= 3 && i <= 5 {
			c = 10
		}
		vm.Counts[VoxelKey{I: i}] = c
	}

	clusters := DetectHolesWithin(vm, 3, 15)
	require.Len(t, clusters, 2)

	// voxel 0 only reaches voxel 1, so voxel 1 seeds the first cluster
	assert.Equal(t, 3, clusters[0].Size)
	assert.InDelta(t, 15, clusters[0].Center.X, 1e-9)
	assert.Equal(t, []r3.Vector{{X: 5, Y: 5, Z: 5}, {X: 15, Y: 5, Z: 5}, {X: 25, Y: 5, Z: 5}}, clusters[0].Members)

	// voxels 6..8 cluster around 7; voxel 9 is left with nobody
	assert.Equal(t, 3, clusters[1].Size)
	assert.InDelta(t, 75, clusters[1].Center.X, 1e-9)
}

func TestDetectHoles_Properties(t *testing.T) {
	vm, err := BuildVisibilityMap(cornerPoints(100), 10)
	require.NoError(t, err)

	threshold := 3.0
	clusters := DetectHolesWithin(vm, threshold, 15)
	require.NotEmpty(t, clusters)

	holeCenters := map[r3.Vector]bool{}
	for k, c := range vm.Counts {
		if float64(c) < threshold {
			holeCenters[vm.Center(k)] = true
		}
	}

	seen := map[r3.Vector]bool{}
	for _, cl := range clusters {
		assert.GreaterOrEqual(t, cl.Size, minClusterSize)
		assert.Len(t, cl.Members, cl.Size)
		assert.InDelta(t, Centroid(cl.Members).X, cl.Center.X, 1e-9)
		for _, m := range cl.Members {
			assert.True(t, holeCenters[m], "member %v is not a hole voxel", m)
			assert.False(t, seen[m], "member %v appears in two clusters", m)
			seen[m] = true
		}
	}
	assert.LessOrEqual(t, len(seen), len(holeCenters))
}

func TestDetectHoles_NoCandidates(t *testing.T) {
	assert.Nil(t, DetectHoles(nil, 3))

	vm, err := BuildVisibilityMap(cornerPoints(100), 10)
	require.NoError(t, err)
	assert.Empty(t, DetectHoles(vm, 0), "no count is below zero")
}

func TestDetectHoles_DefaultRadiusTooSmallToGroup(t *testing.T) {
	vm, err := BuildVisibilityMap(cornerPoints(100), 10)
	require.NoError(t, err)
	// radius 0.3 at resolution 10 leaves every candidate alone
	assert.Empty(t, DetectHoles(vm, 3))
}
