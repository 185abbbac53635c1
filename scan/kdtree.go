package scan

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedVec is a kd-tree entry that remembers its position in the input slice.
// Distance is squared Euclidean, as kdtree keepers compare raw Distance values.
type indexedVec struct {
	v r3.Vector
	i int
}

func (p indexedVec) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.v.X
	case 1:
		return p.v.Y
	}
	return p.v.Z
}

func (p indexedVec) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(indexedVec).coord(d)
}

func (p indexedVec) Dims() int { return 3 }

func (p indexedVec) Distance(c kdtree.Comparable) float64 {
	return p.v.Sub(c.(indexedVec).v).Norm2()
}

type indexedVecs []indexedVec

func (s indexedVecs) Index(i int) kdtree.Comparable { return s[i] }
func (s indexedVecs) Len() int                      { return len(s) }
func (s indexedVecs) Pivot(d kdtree.Dim) int        { return axisPlane{Dim: d, indexedVecs: s}.Pivot() }
func (s indexedVecs) Slice(start, end int) kdtree.Interface {
	return s[start:end]
}

// axisPlane sorts entries along one dimension while the tree is built
type axisPlane struct {
	kdtree.Dim
	indexedVecs
}

func (p axisPlane) Less(i, j int) bool {
	return p.indexedVecs[i].coord(p.Dim) < p.indexedVecs[j].coord(p.Dim)
}
func (p axisPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p axisPlane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedVecs = p.indexedVecs[start:end]
	return p
}
func (p axisPlane) Swap(i, j int) {
	p.indexedVecs[i], p.indexedVecs[j] = p.indexedVecs[j], p.indexedVecs[i]
}

// Neighbor is a query result: the input index of a point and its Euclidean distance
type Neighbor struct {
	Index    int
	Distance float64
}

// Index is a static k-d tree over a point set. It is built once per call site
// and never updated; rebuild it when the points change.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// NewIndex builds a k-d tree over vs. vs itself is not modified.
func NewIndex(vs []r3.Vector) *Index {
	entries := make(indexedVecs, len(vs))
	for i, v := range vs {
		entries[i] = indexedVec{v: v, i: i}
	}
	ix := &Index{n: len(vs)}
	if len(entries) > 0 {
		ix.tree = kdtree.New(entries, false)
	}
	return ix
}

// Len returns the number of indexed points
func (ix *Index) Len() int {
	return ix.n
}

// Nearest returns the closest indexed point to q. ok is false for an empty index.
func (ix *Index) Nearest(q r3.Vector) (n Neighbor, ok bool) {
	if ix.tree == nil {
		return Neighbor{}, false
	}
	c, d := ix.tree.Nearest(indexedVec{v: q})
	if c == nil {
		return Neighbor{}, false
	}
	return Neighbor{Index: c.(indexedVec).i, Distance: math.Sqrt(d)}, true
}

// KNearest returns up to k points closest to q, nearest first
func (ix *Index) KNearest(q r3.Vector, k int) []Neighbor {
	if ix.tree == nil || k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keep, indexedVec{v: q})
	return collect(keep.Heap)
}

// Within returns every point at Euclidean distance <= r from q, nearest first
func (ix *Index) Within(q r3.Vector, r float64) []Neighbor {
	if ix.tree == nil || r < 0 {
		return nil
	}
	keep := kdtree.NewDistKeeper(r * r)
	ix.tree.NearestSet(keep, indexedVec{v: q})
	return collect(keep.Heap)
}

// CountWithin returns how many points lie within r of q
func (ix *Index) CountWithin(q r3.Vector, r float64) int {
	return len(ix.Within(q, r))
}

// collect drops the keeper sentinels (nil Comparable) and sorts by distance
func collect(h kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(h))
	for _, cd := range h {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{
			Index:    cd.Comparable.(indexedVec).i,
			Distance: math.Sqrt(cd.Dist),
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Distance != out[b].Distance {
			return out[a].Distance < out[b].Distance
		}
		return out[a].Index < out[b].Index
	})
	return out
}
