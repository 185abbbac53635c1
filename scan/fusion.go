package scan

// DefaultDedupDistance is the distance under which two merged points are duplicates
const DefaultDedupDistance = 0.01

// MergePointClouds transforms each cloud into the global frame, concatenates
// them and removes near-duplicates.
//
// A point survives only when its nearest other point is farther than
// dedupDist. Both members of a near-coincident pair are therefore dropped;
// the test is evaluated per point against the full merged set, in one pass.
func MergePointClouds(clouds [][]Point, transforms []RigidTransform, dedupDist float64) ([]Point, error) {
	const op = "merge point clouds"
	if len(clouds) != len(transforms) {
		return nil, dataErr(op, "%d clouds but %d transforms", len(clouds), len(transforms))
	}
	if dedupDist < 0 {
		dedupDist = DefaultDedupDistance
	}

	var merged []Point
	for i, cloud := range clouds {
		merged = append(merged, TransformPoints(cloud, transforms[i])...)
	}
	if len(merged) == 0 {
		return nil, dataErr(op, "no points to merge")
	}

	index := NewIndex(Vectors(merged))
	out := make([]Point, 0, len(merged))
	for i, p := range merged {
		unique := true
		for _, n := range index.KNearest(p.Vec(), 2) {
			if n.Index == i {
				continue
			}
			unique = n.Distance > dedupDist
			break
		}
		if unique {
			out = append(out, p)
		}
	}
	return out, nil
}
