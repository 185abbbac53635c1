package scan

import (
	"encoding/json"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featuresByKind(fc *geojson.FeatureCollection) map[string][]*geojson.Feature {
	out := make(map[string][]*geojson.Feature)
	for _, f := range fc.Features {
		kind, _ := f.Properties["kind"].(string)
		out[kind] = append(out[kind], f)
	}
	return out
}

func TestPlanGeoJSON(t *testing.T) {
	points := []Point{{X: 0, Y: 0}, {X: 40, Y: 0}, {X: 40, Y: 30}}
	plan := &ScanPlan{
		Holes: []HoleCluster{{Center: r3.Vector{X: 10, Y: 10}, Size: 3}},
		Viewpoints: []Viewpoint{
			{Position: r3.Vector{X: 0, Y: 0, Z: 100}, Target: r3.Vector{X: 10, Y: 10}},
			{Position: r3.Vector{X: 30, Y: 40, Z: 100}, Target: r3.Vector{X: 10, Y: 10}},
		},
	}

	kinds := featuresByKind(PlanGeoJSON(points, plan, ProjectTop))
	require.Len(t, kinds[FeatureModel], 1)
	require.Len(t, kinds[FeatureFootprint], 1)
	require.Len(t, kinds[FeatureHole], 1)
	require.Len(t, kinds[FeatureViewpoint], 2)
	require.Len(t, kinds[FeatureTour], 1)

	model := kinds[FeatureModel][0]
	assert.Len(t, model.Geometry.(orb.MultiPoint), 3)

	footprint := kinds[FeatureFootprint][0]
	assert.Equal(t, 40.0, footprint.Properties["width"])
	assert.Equal(t, 30.0, footprint.Properties["height"])
	assert.InDelta(t, 1200, footprint.Properties["area"].(float64), 1e-9)

	assert.Equal(t, orb.Point{10, 10}, kinds[FeatureHole][0].Geometry)
	assert.Equal(t, 2, kinds[FeatureViewpoint][1].Properties["order"])

	// tour from (0,0) to (30,40)
	assert.InDelta(t, 50, kinds[FeatureTour][0].Properties["length"].(float64), 1e-9)
}

func TestPlanGeoJSON_NoPlan(t *testing.T) {
	fc := PlanGeoJSON([]Point{{X: 1, Z: 2}}, nil, ProjectFront)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, orb.MultiPoint{{1, 2}}, fc.Features[0].Geometry)

	assert.Empty(t, PlanGeoJSON(nil, nil, ProjectTop).Features)
}

func TestPlanGeoJSON_SingleViewpointHasNoTour(t *testing.T) {
	plan := &ScanPlan{Viewpoints: []Viewpoint{{Position: r3.Vector{X: 1}}}}
	kinds := featuresByKind(PlanGeoJSON(nil, plan, ProjectTop))
	assert.Len(t, kinds[FeatureViewpoint], 1)
	assert.Empty(t, kinds[FeatureTour])
}

func TestPlanGeoJSON_Marshal(t *testing.T) {
	plan := &ScanPlan{Holes: []HoleCluster{{Center: r3.Vector{X: 1, Y: 2}, Size: 1}}}
	data, err := json.Marshal(PlanGeoJSON([]Point{{X: 1}}, plan, ProjectTop))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "FeatureCollection", decoded["type"])
	assert.Len(t, decoded["features"], 3)
}
