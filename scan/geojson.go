package scan

import (
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Feature kinds written to the "kind" property
const (
	FeatureModel     = "model"
	FeatureFootprint = "footprint"
	FeatureHole      = "hole"
	FeatureViewpoint = "viewpoint"
	FeatureTour      = "tour"
)

// PlanGeoJSON exports the projected model, holes and planned viewpoints as
// a FeatureCollection. Coordinates are model units in the chosen projection,
// not longitude/latitude.
func PlanGeoJSON(points []Point, plan *ScanPlan, proj Projection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(points) > 0 {
		mp := make(orb.MultiPoint, len(points))
		for i, p := range points {
			mp[i] = toOrb(proj, p.Vec())
		}
		model := geojson.NewFeature(mp)
		model.Properties["kind"] = FeatureModel
		model.Properties["points"] = len(points)
		fc.Append(model)

		bound := mp.Bound()
		footprint := geojson.NewFeature(bound.ToPolygon())
		footprint.Properties["kind"] = FeatureFootprint
		footprint.Properties["width"] = bound.Max[0] - bound.Min[0]
		footprint.Properties["height"] = bound.Max[1] - bound.Min[1]
		footprint.Properties["area"] = planar.Area(bound.ToPolygon())
		fc.Append(footprint)
	}

	if plan == nil {
		return fc
	}

	for i, h := range plan.Holes {
		f := geojson.NewFeature(toOrb(proj, h.Center))
		f.ID = i
		f.Properties["kind"] = FeatureHole
		f.Properties["size"] = h.Size
		f.Properties["center"] = []float64{h.Center.X, h.Center.Y, h.Center.Z}
		fc.Append(f)
	}

	tour := make(orb.LineString, 0, len(plan.Viewpoints))
	for i, vp := range plan.Viewpoints {
		pos := toOrb(proj, vp.Position)
		tour = append(tour, pos)

		h, v := vp.PointingAngles()
		f := geojson.NewFeature(pos)
		f.ID = i
		f.Properties["kind"] = FeatureViewpoint
		f.Properties["order"] = i + 1
		f.Properties["score"] = vp.Score
		f.Properties["pan"] = h
		f.Properties["tilt"] = v
		f.Properties["position"] = []float64{vp.Position.X, vp.Position.Y, vp.Position.Z}
		f.Properties["target"] = []float64{vp.Target.X, vp.Target.Y, vp.Target.Z}
		fc.Append(f)
	}
	if len(tour) >= 2 {
		f := geojson.NewFeature(tour)
		f.Properties["kind"] = FeatureTour
		f.Properties["length"] = planar.Length(tour)
		fc.Append(f)
	}
	return fc
}

func toOrb(proj Projection, v r3.Vector) orb.Point {
	x, y := proj.project(v)
	return orb.Point{x, y}
}
