package scan

// CoverageReport is the result of AnalyzeCoverage
type CoverageReport struct {
	Map   *VisibilityMap
	Holes []HoleCluster
}

// ScanPlan is an ordered list of viewpoints plus the holes they target
type ScanPlan struct {
	Viewpoints []Viewpoint   `json:"viewpoints"`
	Holes      []HoleCluster `json:"holes"`
}

// Completion summarizes how much of the sampled region has been observed
type Completion struct {
	Rate             float64 `json:"completionRate"`
	IsComplete       bool    `json:"isComplete"`
	UncoveredRegions int     `json:"uncoveredRegions"`
	Voxels           int     `json:"voxels"`
	CoveredVoxels    int     `json:"coveredVoxels"`
}

// Optimizer answers "what should be scanned next" and "how complete are we"
type Optimizer struct {
	coverage CoverageConfig
	planner  *Planner
	Logf     Logf
}

// NewOptimizer combines coverage analysis with a view planner
func NewOptimizer(coverage CoverageConfig, planner *Planner) *Optimizer {
	if coverage.MaxVoxels <= 0 {
		coverage.MaxVoxels = DefaultMaxVoxels
	}
	return &Optimizer{coverage: coverage, planner: planner}
}

// AnalyzeCoverage builds the visibility map of points and clusters its holes
func (o *Optimizer) AnalyzeCoverage(points []Point) (*CoverageReport, error) {
	vm, err := buildVisibilityMap(points, o.coverage.Resolution, o.coverage.MaxVoxels)
	if err != nil {
		return nil, err
	}
	radius := o.coverage.ClusterRadius
	if radius <= 0 {
		radius = o.coverage.HoleThreshold * 0.1
	}
	return &CoverageReport{
		Map:   vm,
		Holes: DetectHolesWithin(vm, o.coverage.HoleThreshold, radius),
	}, nil
}

// GenerateNextScan plans the next set of viewpoints for points within bounds.
// It returns (nil, nil) when there are no holes or no viewpoint survives
// filtering, meaning there is nothing more to scan.
func (o *Optimizer) GenerateNextScan(points []Point, bounds Bounds) (*ScanPlan, error) {
	report, err := o.AnalyzeCoverage(points)
	if err != nil {
		return nil, err
	}
	if len(report.Holes) == 0 {
		o.Logf.printf("[PLAN] no holes in %d voxels", report.Map.Len())
		return nil, nil
	}

	viewpoints, err := o.planner.PlanScanningPath(report.Holes, bounds)
	if err != nil {
		return nil, err
	}
	if len(viewpoints) == 0 {
		o.Logf.printf("[PLAN] %d holes but no viewpoint passed filtering", len(report.Holes))
		return nil, nil
	}

	return &ScanPlan{
		Viewpoints: GenerateScanningSequence(viewpoints),
		Holes:      report.Holes,
	}, nil
}

// EstimateCompletion reports the fraction of voxels with at least one point
// nearby. Note that a voxel can count as covered here while still being
// below the hole threshold used by AnalyzeCoverage.
func (o *Optimizer) EstimateCompletion(points []Point, threshold float64) (Completion, error) {
	report, err := o.AnalyzeCoverage(points)
	if err != nil {
		return Completion{}, err
	}
	total := report.Map.Len()
	if total == 0 {
		return Completion{}, dataErr("estimate completion", "empty visibility map")
	}
	covered := report.Map.Covered()
	rate := float64(covered) / float64(total)
	return Completion{
		Rate:             rate,
		IsComplete:       rate >= threshold,
		UncoveredRegions: len(report.Holes),
		Voxels:           total,
		CoveredVoxels:    covered,
	}, nil
}
