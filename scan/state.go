package scan

import (
	"log"
	"sync"
	"time"
)

// Status is a point-in-time view of the scan loop for HTTP endpoints
type Status struct {
	State       State             `json:"state"`
	Iteration   int               `json:"iteration"`
	ModelPoints int               `json:"modelPoints"`
	Completion  float64           `json:"completion"`
	Holes       int               `json:"holes"`
	Viewpoints  int               `json:"viewpoints"`
	Running     bool              `json:"running"`
	Updated     time.Time         `json:"updated"`
	Reports     []IterationReport `json:"reports"`
}

// StateTracker records loop progress so HTTP handlers can read it while a
// scan runs. It implements Observer.
type StateTracker struct {
	mu        sync.RWMutex
	state     State
	running   bool
	reports   []IterationReport
	plan      *ScanPlan
	result    *RunResult
	model     []Point
	updated   time.Time
	cachePath string // model file reloaded on start and rewritten after each run; empty disables
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// NewStateTrackerWithCache creates a state tracker that keeps the last model
// in an x,y,z file. If the file exists the model is loaded on creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := &StateTracker{cachePath: cachePath}
	if cachePath != "" {
		if pts, err := ReadXYZFile(cachePath); err == nil {
			st.model = pts
			st.state = StateDone
		}
	}
	return st
}

func (st *StateTracker) StateChanged(state State) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if state == StateInit {
		st.reports = nil
		st.plan = nil
		st.running = true
	}
	st.state = state
	st.updated = time.Now()
}

func (st *StateTracker) PlanReady(iteration int, plan *ScanPlan) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.plan = plan
	st.updated = time.Now()
}

func (st *StateTracker) IterationDone(report IterationReport) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reports = append(st.reports, report)
	st.updated = time.Now()
}

func (st *StateTracker) RunFinished(result *RunResult) {
	st.mu.Lock()
	st.result = result
	st.model = append([]Point(nil), result.Model...)
	st.running = false
	st.updated = time.Now()
	path := st.cachePath
	model := st.model
	st.mu.Unlock()

	if path != "" && len(model) > 0 {
		if err := WriteXYZFile(path, model); err != nil {
			log.Printf("Warning: failed to cache model to %s: %v", path, err)
		}
	}
}

// UpdateModel replaces the model directly, e.g. after loading a file
func (st *StateTracker) UpdateModel(points []Point) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.model = append([]Point(nil), points...)
	st.updated = time.Now()
}

// GetStatus returns a snapshot of the loop state
func (st *StateTracker) GetStatus() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s := Status{
		State:       st.state,
		ModelPoints: len(st.model),
		Running:     st.running,
		Updated:     st.updated,
		Reports:     append([]IterationReport(nil), st.reports...),
	}
	if n := len(st.reports); n > 0 {
		last := st.reports[n-1]
		s.Iteration = last.Iteration
		s.Holes = last.Holes
		s.Viewpoints = last.Viewpoints
		if last.Completion != nil {
			s.Completion = last.Completion.Rate
		}
	}
	if st.result != nil && s.Completion == 0 {
		s.Completion = st.result.Completion
	}
	return s
}

// GetModel returns a copy of the latest model
func (st *StateTracker) GetModel() []Point {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]Point(nil), st.model...)
}

// HasModel returns true once any model is available
func (st *StateTracker) HasModel() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.model) > 0
}

// GetPlan returns the most recent scan plan, or nil
func (st *StateTracker) GetPlan() *ScanPlan {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.plan
}

// GetResult returns the last finished run, or nil
func (st *StateTracker) GetResult() *RunResult {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result
}

// IsRunning reports whether a scan is in progress
func (st *StateTracker) IsRunning() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.running
}
