package scan

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// DefaultMaxVoxels caps the grid size BuildVisibilityMap is willing to allocate
const DefaultMaxVoxels = 2_000_000

// minClusterSize is the smallest group of hole voxels reported as a cluster
const minClusterSize = 3

// CoverageConfig controls the voxel grid and hole clustering.
//
// ClusterRadius overrides the HoleThreshold*0.1 grouping radius that
// DetectHoles uses. That rule only applies when ClusterRadius is 0; at
// millimetre scale it is far smaller than a voxel and would group nothing.
type CoverageConfig struct {
	Resolution    float64 // voxel edge length
	HoleThreshold float64 // voxels with fewer nearby points are holes
	ClusterRadius float64 // grouping radius for hole voxels; 0 means HoleThreshold*0.1
	MaxVoxels     int     // 0 means DefaultMaxVoxels
}

// DefaultCoverageConfig returns settings sized for the millimeter-scale rig
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{
		Resolution:    10,
		HoleThreshold: 3,
		ClusterRadius: 15,
		MaxVoxels:     DefaultMaxVoxels,
	}
}

// BuildVisibilityMap grids the bounding box of points at the given resolution
// and counts, for every voxel center, the points within 2*resolution.
func BuildVisibilityMap(points []Point, resolution float64) (*VisibilityMap, error) {
	return buildVisibilityMap(points, resolution, DefaultMaxVoxels)
}

func buildVisibilityMap(points []Point, resolution float64, maxVoxels int) (*VisibilityMap, error) {
	const op = "build visibility map"
	if len(points) == 0 {
		return nil, dataErr(op, "no points")
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, dataErr(op, "resolution must be positive, got %v", resolution)
	}
	if maxVoxels <= 0 {
		maxVoxels = DefaultMaxVoxels
	}

	vs := Vectors(points)
	lo, hi := vs[0], vs[0]
	for _, v := range vs[1:] {
		lo = r3.Vector{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vector{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	extent := hi.Sub(lo)
	if extent.X <= 0 || extent.Y <= 0 || extent.Z <= 0 {
		return nil, dataErr(op, "degenerate bounding box %.3f x %.3f x %.3f", extent.X, extent.Y, extent.Z)
	}

	var dims [3]int
	total := 1
	for i, e := range []float64{extent.X, extent.Y, extent.Z} {
		n := math.Ceil(e / resolution)
		if n > float64(maxVoxels) {
			return nil, dataErr(op, "grid too large at resolution %v", resolution)
		}
		dims[i] = int(n)
		total *= dims[i]
		if total > maxVoxels {
			return nil, dataErr(op, "grid of more than %d voxels at resolution %v", maxVoxels, resolution)
		}
	}

	vm := &VisibilityMap{
		Origin:     lo,
		Resolution: resolution,
		Dims:       dims,
		Counts:     make(map[VoxelKey]int, total),
	}

	index := NewIndex(vs)
	radius := 2 * resolution
	for i := 0; i < dims[0]; i++ {
		for j := 0; j < dims[1]; j++ {
			for k := 0; k < dims[2]; k++ {
				key := VoxelKey{I: i, J: j, K: k}
				vm.Counts[key] = index.CountWithin(vm.Center(key), radius)
			}
		}
	}
	return vm, nil
}

// DetectHoles clusters voxels whose count is below threshold, grouping
// candidates within threshold*0.1 of each other.
func DetectHoles(vm *VisibilityMap, threshold float64) []HoleCluster {
	return DetectHolesWithin(vm, threshold, threshold*0.1)
}

// DetectHolesWithin clusters hole voxels using an explicit grouping radius.
//
// Candidates are visited in grid order. Each unassigned candidate gathers the
// unassigned candidates within radius of it; groups of at least three become a
// cluster and their members are never reconsidered. A voxel claimed by an early
// cluster is therefore unavailable to a later one even if it sits closer to the
// later cluster's seed.
func DetectHolesWithin(vm *VisibilityMap, threshold, radius float64) []HoleCluster {
	if vm == nil {
		return nil
	}

	keys := make([]VoxelKey, 0)
	for k, c := range vm.Counts {
		if float64(c) < threshold {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].less(keys[b]) })

	centers := make([]r3.Vector, len(keys))
	for i, k := range keys {
		centers[i] = vm.Center(k)
	}
	index := NewIndex(centers)

	assigned := make([]bool, len(keys))
	var clusters []HoleCluster
	for i := range keys {
		if assigned[i] {
			continue
		}
		var group []int
		for _, n := range index.Within(centers[i], radius) {
			if !assigned[n.Index] {
				group = append(group, n.Index)
			}
		}
		if len(group) < minClusterSize {
			continue
		}
		sort.Ints(group)
		members := make([]r3.Vector, len(group))
		for m, g := range group {
			members[m] = centers[g]
			assigned[g] = true
		}
		clusters = append(clusters, HoleCluster{
			Center:  Centroid(members),
			Size:    len(members),
			Members: members,
		})
	}
	return clusters
}
