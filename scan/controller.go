package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// State is a phase of the scan loop
type State int

const (
	StateInit State = iota
	StatePlanning
	StateExecuting
	StateFusing
	StateChecking
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePlanning:
		return "PLANNING"
	case StateExecuting:
		return "EXECUTING"
	case StateFusing:
		return "FUSING"
	case StateChecking:
		return "CHECKING"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText lets states appear by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the loop has stopped
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// SurveyPlan is the pan/tilt grid swept when there is no model to plan from yet
type SurveyPlan struct {
	HStart float64 `yaml:"hStart" json:"hStart"`
	HEnd   float64 `yaml:"hEnd" json:"hEnd"`
	HStep  float64 `yaml:"hStep" json:"hStep"`
	VStart float64 `yaml:"vStart" json:"vStart"`
	VEnd   float64 `yaml:"vEnd" json:"vEnd"`
	VStep  float64 `yaml:"vStep" json:"vStep"`
}

// DefaultSurveyPlan sweeps a half turn at 5° steps, from level to 45° up
func DefaultSurveyPlan() SurveyPlan {
	return SurveyPlan{HStart: 0, HEnd: 180, HStep: 5, VStart: 0, VEnd: 45, VStep: 5}
}

// Angles lists the (horizontal, vertical) stops of the sweep in visiting
// order. Rows alternate direction so the pan motor never swings back.
func (s SurveyPlan) Angles() [][2]float64 {
	if s.HStep <= 0 || s.VStep <= 0 || s.HEnd < s.HStart || s.VEnd < s.VStart {
		return nil
	}
	var hs []float64
	for h := s.HStart; h <= s.HEnd+1e-9; h += s.HStep {
		hs = append(hs, h)
	}
	var out [][2]float64
	row := 0
	for v := s.VStart; v <= s.VEnd+1e-9; v += s.VStep {
		for i := range hs {
			h := hs[i]
			if row%2 == 1 {
				h = hs[len(hs)-1-i]
			}
			out = append(out, [2]float64{h, v})
		}
		row++
	}
	return out
}

// ControllerConfig is fixed at construction
type ControllerConfig struct {
	Bounds        Bounds
	SettleDelay   time.Duration
	ScanSpeed     float64 // degrees per second; 0 leaves travel time out of the settle wait
	Survey        SurveyPlan
	ICP           ICPConfig
	DedupDistance float64
}

// DefaultControllerConfig returns the rig defaults
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Bounds:        DefaultBounds(),
		SettleDelay:   500 * time.Millisecond,
		Survey:        DefaultSurveyPlan(),
		ICP:           DefaultICPConfig(),
		DedupDistance: DefaultDedupDistance,
	}
}

// PhaseTimings records how long each phase of an iteration took
type PhaseTimings struct {
	Planning  time.Duration `json:"planning"`
	Executing time.Duration `json:"executing"`
	Fusing    time.Duration `json:"fusing"`
	Checking  time.Duration `json:"checking"`
}

// Total is the sum of all phases
func (t PhaseTimings) Total() time.Duration {
	return t.Planning + t.Executing + t.Fusing + t.Checking
}

// IterationReport describes what one pass of the loop did
type IterationReport struct {
	Iteration   int          `json:"iteration"`
	Survey      bool         `json:"survey"`
	Holes       int          `json:"holes"`
	Viewpoints  int          `json:"viewpoints"`
	Sampled     int          `json:"sampled"`
	Dropped     int          `json:"dropped"`
	Points      int          `json:"points"`
	Accepted    bool         `json:"accepted"`
	ICPError    float64      `json:"icpError"`
	ModelPoints int          `json:"modelPoints"`
	Completion  *Completion  `json:"completion,omitempty"`
	Err         string       `json:"error,omitempty"`
	Timings     PhaseTimings `json:"timings"`
}

// RunResult is what RunAutomatedScan hands back
type RunResult struct {
	SessionID  uuid.UUID         `json:"sessionId"`
	State      State             `json:"state"`
	Complete   bool              `json:"complete"`
	Iterations int               `json:"iterations"`
	Completion float64           `json:"completion"`
	Model      []Point           `json:"-"`
	Reports    []IterationReport `json:"reports"`
	Started    time.Time         `json:"started"`
	Finished   time.Time         `json:"finished"`
}

// Duration is the wall time of the run
func (r *RunResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Controller runs the active-scan loop. It owns exactly one Session and is
// not safe for concurrent use.
type Controller struct {
	hw        Hardware
	prep      Preprocessor
	optimizer *Optimizer
	config    ControllerConfig
	session   *Session
	state     State
	pose      [2]float64 // last commanded pan/tilt

	Clock    clock.Clock
	Observer Observer
	Logf     Logf
}

// NewController wires the loop to its collaborators
func NewController(hw Hardware, prep Preprocessor, optimizer *Optimizer, config ControllerConfig) (*Controller, error) {
	if hw.Motion == nil || hw.Sensor == nil {
		return nil, fmt.Errorf("motion and sensor drivers are required")
	}
	if prep == nil {
		return nil, fmt.Errorf("preprocessor is required")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if err := config.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bounds: %w", err)
	}
	return &Controller{
		hw:        hw,
		prep:      prep,
		optimizer: optimizer,
		config:    config,
		session:   NewSession(time.Time{}),
		state:     StateInit,
	}, nil
}

// State returns the current loop state
func (c *Controller) State() State {
	return c.state
}

// Session returns a copy of the session for reporting and persistence
func (c *Controller) Session() *Session {
	return c.session.Clone()
}

func (c *Controller) clock() clock.Clock {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c.Clock
}

func (c *Controller) setState(s State) {
	c.state = s
	if c.Observer != nil {
		c.Observer.StateChanged(s)
	}
}

// RunAutomatedScan resets the rig and then plans, scans, fuses and checks
// until the model is complete, the planner has nothing left, or maxIterations
// passes have run. Failures inside an iteration end that iteration only. The
// returned error is non-nil when initialization fails or ctx is cancelled
// between iterations; the result is returned in every case.
func (c *Controller) RunAutomatedScan(ctx context.Context, completionThreshold float64, maxIterations int) (*RunResult, error) {
	clk := c.clock()
	result := &RunResult{SessionID: c.session.ID, Started: clk.Now()}
	c.session.Started = result.Started

	c.setState(StateInit)
	c.Logf.printf("[SCAN] session %s starting (threshold %.2f, max %d iterations)", c.session.ID, completionThreshold, maxIterations)
	if err := c.hw.Motion.Reset(ctx); err != nil {
		c.Logf.printf("[SCAN] initialization failed: %v", err)
		c.finish(result, StateAborted)
		return result, fmt.Errorf("initializing scanner: %w", err)
	}
	c.pose = [2]float64{}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			c.Logf.printf("[SCAN] cancelled before iteration %d", iteration+1)
			c.finish(result, StateAborted)
			return result, err
		}

		report, done := c.iterate(ctx, iteration+1, completionThreshold)
		result.Iterations = iteration + 1
		result.Reports = append(result.Reports, report)
		if report.Completion != nil {
			result.Completion = report.Completion.Rate
			result.Complete = report.Completion.IsComplete
		}
		if c.Observer != nil {
			c.Observer.IterationDone(report)
		}
		if done {
			break
		}
	}

	c.finish(result, StateDone)
	return result, nil
}

func (c *Controller) finish(result *RunResult, s State) {
	c.setState(s)
	result.State = s
	result.Model = append([]Point(nil), c.session.AccumulatedModel...)
	result.Finished = c.clock().Now()
	c.Logf.printf("[SCAN] %s after %d iterations: %d points, completion %.1f%%",
		s, result.Iterations, len(result.Model), result.Completion*100)
	if c.Observer != nil {
		c.Observer.RunFinished(result)
	}
}

// iterate runs one pass of the loop. done is true when the loop should stop.
func (c *Controller) iterate(ctx context.Context, n int, threshold float64) (report IterationReport, done bool) {
	clk := c.clock()
	report.Iteration = n
	fail := func(phase string, err error) (IterationReport, bool) {
		report.Err = fmt.Sprintf("%s: %v", phase, err)
		c.Logf.printf("[SCAN] iteration %d: %s", n, report.Err)
		return report, false
	}

	c.setState(StatePlanning)
	start := clk.Now()
	var stops [][2]float64
	if len(c.session.AccumulatedModel) == 0 {
		report.Survey = true
		stops = c.config.Survey.Angles()
	} else {
		plan, err := c.optimizer.GenerateNextScan(c.session.AccumulatedModel, c.config.Bounds)
		if err != nil {
			report.Timings.Planning = clk.Since(start)
			return fail("planning", err)
		}
		if plan == nil {
			report.Timings.Planning = clk.Since(start)
			c.Logf.printf("[SCAN] iteration %d: no further gaps to scan", n)
			return report, true
		}
		report.Holes = len(plan.Holes)
		report.Viewpoints = len(plan.Viewpoints)
		if c.Observer != nil {
			c.Observer.PlanReady(n, plan)
		}
		for _, vp := range plan.Viewpoints {
			h, v := vp.PointingAngles()
			stops = append(stops, [2]float64{h, v})
		}
	}
	report.Timings.Planning = clk.Since(start)

	c.setState(StateExecuting)
	start = clk.Now()
	samples := c.execute(ctx, stops, &report)
	points := Process(c.prep, samples)
	report.Timings.Executing = clk.Since(start)
	report.Points = len(points)
	if len(samples) == 0 {
		return fail("executing", dataErr("execute", "no samples from %d stops", len(stops)))
	}
	if len(points) == 0 {
		return fail("preprocessing", dataErr("preprocess", "no points left from %d samples", len(samples)))
	}

	c.setState(StateFusing)
	start = clk.Now()
	err := c.fuse(points, &report)
	report.Timings.Fusing = clk.Since(start)
	report.ModelPoints = len(c.session.AccumulatedModel)
	if err != nil {
		return fail("fusing", err)
	}

	c.setState(StateChecking)
	start = clk.Now()
	completion, err := c.optimizer.EstimateCompletion(c.session.AccumulatedModel, threshold)
	report.Timings.Checking = clk.Since(start)
	if err != nil {
		return fail("checking", err)
	}
	report.Completion = &completion
	c.Logf.printf("[SCAN] iteration %d: %d points, completion %.1f%% (%d holes)",
		n, report.ModelPoints, completion.Rate*100, completion.UncoveredRegions)
	return report, completion.IsComplete
}

// execute points the rig at each stop and samples once. Failed moves and
// readings drop that stop only.
func (c *Controller) execute(ctx context.Context, stops [][2]float64, report *IterationReport) []RawSample {
	clk := c.clock()
	samples := make([]RawSample, 0, len(stops))
	for _, stop := range stops {
		h, v := stop[0], stop[1]
		if err := c.point(ctx, h, v); err != nil {
			report.Dropped++
			c.Logf.printf("[SCAN] skipping (%.1f°, %.1f°): %v", h, v, err)
			continue
		}
		d, err := c.hw.Sensor.Distance(ctx)
		if err != nil {
			report.Dropped++
			c.Logf.printf("[SCAN] no reading at (%.1f°, %.1f°): %v", h, v, err)
			continue
		}
		now := clk.Now()
		samples = append(samples, RawSample{
			Distance:  d,
			AngleH:    h,
			AngleV:    v,
			Timestamp: float64(now.UnixNano()) / 1e9,
		})
	}
	report.Sampled = len(samples)
	return samples
}

// point commands both axes. Drivers without a Settler are waited on for the
// settle delay plus the time the larger move takes at ScanSpeed.
func (c *Controller) point(ctx context.Context, h, v float64) error {
	travel := c.travelTime(h, v)
	if err := c.hw.Motion.RotateHorizontal(ctx, h); err != nil {
		return err
	}
	c.pose[0] = h
	if err := c.hw.Motion.RotateVertical(ctx, v); err != nil {
		return err
	}
	c.pose[1] = v
	if s, ok := c.hw.Motion.(Settler); ok {
		if err := s.Settled(ctx); err != nil {
			return &Error{Kind: HardwareFault, Op: "settle", Err: err}
		}
		return nil
	}
	if wait := c.config.SettleDelay + travel; wait > 0 {
		c.clock().Sleep(wait)
	}
	return nil
}

func (c *Controller) travelTime(h, v float64) time.Duration {
	if c.config.ScanSpeed <= 0 {
		return 0
	}
	deg := math.Max(math.Abs(h-c.pose[0]), math.Abs(v-c.pose[1]))
	return time.Duration(deg / c.config.ScanSpeed * float64(time.Second))
}

// fuse folds a new scan into the session. The session is only modified when
// registration and merging both succeed.
func (c *Controller) fuse(points []Point, report *IterationReport) error {
	s := c.session
	if len(s.RawScans) == 0 {
		s.RawScans = [][]Point{points}
		s.Transforms = []RigidTransform{Identity()}
		s.AccumulatedModel = append([]Point(nil), points...)
		report.Accepted = true
		return nil
	}

	reg, err := AlignICP(points, s.AccumulatedModel, c.config.ICP)
	if err != nil {
		return fmt.Errorf("registering scan: %w", err)
	}
	report.ICPError = reg.Error

	scans := append(append([][]Point(nil), s.RawScans...), points)
	transforms := append(append([]RigidTransform(nil), s.Transforms...), reg.Transform)
	model, err := MergePointClouds(scans, transforms, c.config.DedupDistance)
	if err != nil {
		return fmt.Errorf("merging scans: %w", err)
	}

	s.RawScans = scans
	s.Transforms = transforms
	s.AccumulatedModel = model
	report.Accepted = true
	return nil
}

// IsHardwareFault reports whether err came from the rig
func IsHardwareFault(err error) bool {
	return errors.Is(err, ErrHardwareFault)
}
