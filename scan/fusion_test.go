package scan

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePointClouds(t *testing.T) {
	a := []Point{{X: 0}, {X: 10}, {X: 20}}
	b := []Point{{X: 0.001}, {X: 30}}
	shifted := []Point{{X: -1000}, {X: -990}}

	tests := []struct {
		name       string
		clouds     [][]Point
		transforms []RigidTransform
		dedup      float64
		want       []Point
	}{
		{
			name:       "single cloud unchanged",
			clouds:     [][]Point{a},
			transforms: []RigidTransform{Identity()},
			dedup:      0.01,
			want:       a,
		},
		{
			name:       "near duplicate pair is dropped entirely",
			clouds:     [][]Point{a, b},
			transforms: []RigidTransform{Identity(), Identity()},
			dedup:      0.01,
			want:       []Point{{X: 10}, {X: 20}, {X: 30}},
		},
		{
			name:       "zero distance keeps distinct points",
			clouds:     [][]Point{a, b},
			transforms: []RigidTransform{Identity(), Identity()},
			dedup:      0,
			want:       []Point{{X: 0}, {X: 10}, {X: 20}, {X: 0.001}, {X: 30}},
		},
		{
			name:       "transforms map into the global frame",
			clouds:     [][]Point{a, shifted},
			transforms: []RigidTransform{Identity(), Translation(r3.Vector{X: 1010})},
			dedup:      0.01,
			want:       []Point{{X: 0}},
		},
		{
			name:       "pair split across clouds",
			clouds:     [][]Point{{{}, {X: 5, Y: 5, Z: 5}}, {{X: 0.005}}},
			transforms: []RigidTransform{Identity(), Identity()},
			dedup:      0.01,
			want:       []Point{{X: 5, Y: 5, Z: 5}},
		},
		{
			name:       "three coincident points all dropped",
			clouds:     [][]Point{{{X: 1}, {X: 1}}, {{X: 1}, {X: 50}}},
			transforms: []RigidTransform{Identity(), Identity()},
			dedup:      0.01,
			want:       []Point{{X: 50}},
		},
		{
			name:       "separation equal to the threshold is a duplicate",
			clouds:     [][]Point{{{X: 0}}, {{X: 0.5}, {X: 9}}},
			transforms: []RigidTransform{Identity(), Identity()},
			dedup:      0.5,
			want:       []Point{{X: 9}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergePointClouds(tt.clouds, tt.transforms, tt.dedup)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assertVecNear(t, tt.want[i].Vec(), got[i].Vec(), 1e-9)
			}
		})
	}
}

func TestMergePointClouds_NeverGrows(t *testing.T) {
	cloud := lShape()
	clouds := [][]Point{cloud, cloud, cloud}
	transforms := []RigidTransform{Identity(), Identity(), Translation(r3.Vector{Z: 500})}

	got, err := MergePointClouds(clouds, transforms, 0.01)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), 3*len(cloud))
	// the two overlapping copies cancel out; only the lifted copy is unique
	require.Len(t, got, len(cloud))
	for _, p := range got {
		assert.GreaterOrEqual(t, p.Z, 500.0)
	}
}

func TestMergePointClouds_Errors(t *testing.T) {
	_, err := MergePointClouds([][]Point{{{X: 1}}}, nil, 0.01)
	assert.ErrorIs(t, err, ErrDataFault)

	_, err = MergePointClouds([][]Point{nil, {}}, []RigidTransform{Identity(), Identity()}, 0.01)
	assert.ErrorIs(t, err, ErrDataFault)
}
