package scan

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n int, extent float64) []r3.Vector {
	vs := make([]r3.Vector, n)
	for i := range vs {
		vs[i] = r3.Vector{
			X: (rng.Float64() - 0.5) * extent,
			Y: (rng.Float64() - 0.5) * extent,
			Z: (rng.Float64() - 0.5) * extent,
		}
	}
	return vs
}

func bruteForce(vs []r3.Vector, q r3.Vector) []Neighbor {
	out := make([]Neighbor, len(vs))
	for i, v := range vs {
		out[i] = Neighbor{Index: i, Distance: v.Distance(q)}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Distance < out[b].Distance })
	return out
}

func TestIndex_Empty(t *testing.T) {
	ix := NewIndex(nil)
	assert.Equal(t, 0, ix.Len())
	_, ok := ix.Nearest(r3.Vector{})
	assert.False(t, ok)
	assert.Empty(t, ix.KNearest(r3.Vector{}, 3))
	assert.Empty(t, ix.Within(r3.Vector{}, 10))
	assert.Equal(t, 0, ix.CountWithin(r3.Vector{}, 10))
}

func TestIndex_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vs := randomVectors(rng, 500, 200)
	ix := NewIndex(vs)
	require.Equal(t, len(vs), ix.Len())

	for q := 0; q < 25; q++ {
		query := randomVectors(rng, 1, 250)[0]
		want := bruteForce(vs, query)

		n, ok := ix.Nearest(query)
		require.True(t, ok)
		assert.InDelta(t, want[0].Distance, n.Distance, 1e-9)
		assert.InDelta(t, want[0].Distance, vs[n.Index].Distance(query), 1e-9)

		k := ix.KNearest(query, 8)
		require.Len(t, k, 8)
		for i := range k {
			assert.InDelta(t, want[i].Distance, k[i].Distance, 1e-9, "rank %d", i)
		}

		radius := 40.0
		inside := 0
		for _, w := range want {
			if w.Distance <= radius {
				inside++
			}
		}
		within := ix.Within(query, radius)
		assert.Len(t, within, inside)
		for i := 1; i < len(within); i++ {
			assert.LessOrEqual(t, within[i-1].Distance, within[i].Distance)
		}
		assert.Equal(t, inside, ix.CountWithin(query, radius))
	}
}

func TestIndex_KNearestMoreThanAvailable(t *testing.T) {
	ix := NewIndex([]r3.Vector{{X: 1}, {X: 2}})
	got := ix.KNearest(r3.Vector{}, 5)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
}

func TestIndex_WithinIsInclusive(t *testing.T) {
	ix := NewIndex([]r3.Vector{{X: 3}, {X: 3.5}, {Y: -3}})
	got := ix.Within(r3.Vector{}, 3)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []int{0, 2}, []int{got[0].Index, got[1].Index})
	assert.Empty(t, ix.Within(r3.Vector{}, -1))
}

func TestIndex_DoesNotReorderInput(t *testing.T) {
	vs := []r3.Vector{{X: 5}, {X: 1}, {X: 3}}
	NewIndex(vs)
	assert.Equal(t, []r3.Vector{{X: 5}, {X: 1}, {X: 3}}, vs)
}
