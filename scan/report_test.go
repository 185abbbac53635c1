package scan

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func sampleRun() (*RunResult, *Session) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.MustParse("6f1c1c7e-8b7a-4d0e-9c55-0b6a7f3b2a11")
	result := &RunResult{
		SessionID:  id,
		State:      StateDone,
		Complete:   true,
		Iterations: 2,
		Completion: 0.925,
		Model:      []Point{{X: 1}, {X: 2}, {X: 3}},
		Started:    started,
		Finished:   started.Add(90 * time.Second),
		Reports: []IterationReport{
			{
				Iteration: 1, Survey: true, Sampled: 40, Accepted: true,
				Completion: &Completion{Rate: 0.5},
				Timings:    PhaseTimings{Executing: 20 * time.Second, Checking: 200 * time.Millisecond},
			},
			{
				Iteration: 2, Holes: 4, Viewpoints: 3, Sampled: 2, Dropped: 1, Accepted: true, ICPError: 0.01234,
				Completion: &Completion{Rate: 0.925},
				Timings:    PhaseTimings{Planning: time.Second, Executing: 2 * time.Second, Fusing: 500 * time.Millisecond},
			},
		},
	}
	session := &Session{
		ID:         id,
		RawScans:   [][]Point{{{X: 1}, {X: 2}}, {{X: 3}}},
		Transforms: []RigidTransform{Identity(), Translation(r3.Vector{X: 1.5}).Compose(RotationZ(math.Pi / 18))},
	}
	return result, session
}

func TestFormatReport(t *testing.T) {
	result, session := sampleRun()
	out := FormatReport(result, session)

	for _, want := range []string{
		"Scan run",
		result.SessionID.String(),
		"DONE",
		"92.5%",
		"Model points",
		"Accepted scans",
		"2024-05-01T10:00:00Z",
		"Iterations",
		"survey",
		"plan",
		"0.0123",
		"Performance",
		"About a minute",
		"23.7s",
		"Scan transforms",
		"10.000",
		"X:1.50, Y:0.00, Z:0.00",
	} {
		assert.Contains(t, out, want)
	}
}

func TestFormatReport_NoSession(t *testing.T) {
	result, _ := sampleRun()
	result.Reports = nil

	out := FormatReport(result, nil)
	assert.Contains(t, out, "Scan run")
	assert.Contains(t, out, "Performance")
	assert.NotContains(t, out, "Accepted scans")
	assert.NotContains(t, out, "Scan transforms")
	assert.False(t, strings.Contains(out, "Kind"), "no iteration table without reports")
}

func TestFormatPerformance_Means(t *testing.T) {
	result, _ := sampleRun()
	out := formatPerformance(result.Reports)
	// executing: 22s over 2 iterations
	assert.Contains(t, out, "22s")
	assert.Contains(t, out, "11s")

	empty := formatPerformance(nil)
	assert.Contains(t, empty, "0s")
}
