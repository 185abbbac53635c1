package scan

// Observer is notified as the scan loop progresses. Calls are made
// synchronously from the loop, so implementations should return quickly.
type Observer interface {
	StateChanged(state State)
	PlanReady(iteration int, plan *ScanPlan)
	IterationDone(report IterationReport)
	RunFinished(result *RunResult)
}

// MultiObserver fans notifications out to several observers in order
type MultiObserver []Observer

func (m MultiObserver) StateChanged(state State) {
	for _, o := range m {
		o.StateChanged(state)
	}
}

func (m MultiObserver) PlanReady(iteration int, plan *ScanPlan) {
	for _, o := range m {
		o.PlanReady(iteration, plan)
	}
}

func (m MultiObserver) IterationDone(report IterationReport) {
	for _, o := range m {
		o.IterationDone(report)
	}
}

func (m MultiObserver) RunFinished(result *RunResult) {
	for _, o := range m {
		o.RunFinished(result)
	}
}
