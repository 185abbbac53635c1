package scan

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
)

// FormatReport renders the human-readable run report saved next to each model
func FormatReport(result *RunResult, session *Session) string {
	var b strings.Builder

	summary := table.NewWriter()
	summary.SetTitle("Scan run")
	summary.AppendRow(table.Row{"Session", result.SessionID.String()})
	summary.AppendRow(table.Row{"State", result.State.String()})
	summary.AppendRow(table.Row{"Complete", result.Complete})
	summary.AppendRow(table.Row{"Iterations", result.Iterations})
	summary.AppendRow(table.Row{"Completion", fmt.Sprintf("%.1f%%", result.Completion*100)})
	summary.AppendRow(table.Row{"Model points", len(result.Model)})
	if session != nil {
		summary.AppendRow(table.Row{"Accepted scans", len(session.RawScans)})
	}
	summary.AppendRow(table.Row{"Started", result.Started.Format(time.RFC3339)})
	summary.AppendRow(table.Row{"Duration", units.HumanDuration(result.Duration())})
	b.WriteString(summary.Render())
	b.WriteString("\n\n")

	if len(result.Reports) > 0 {
		iters := table.NewWriter()
		iters.SetTitle("Iterations")
		iters.AppendHeader(table.Row{"#", "Kind", "Holes", "Views", "Sampled", "Dropped", "Accepted", "ICP err", "Completion", "Error"})
		for _, r := range result.Reports {
			kind := "plan"
			if r.Survey {
				kind = "survey"
			}
			completion := "-"
			if r.Completion != nil {
				completion = fmt.Sprintf("%.1f%%", r.Completion.Rate*100)
			}
			iters.AppendRow(table.Row{
				r.Iteration, kind, r.Holes, r.Viewpoints, r.Sampled, r.Dropped,
				r.Accepted, fmt.Sprintf("%.4f", r.ICPError), completion, r.Err,
			})
		}
		b.WriteString(iters.Render())
		b.WriteString("\n\n")
	}

	b.WriteString(formatPerformance(result.Reports))
	b.WriteString("\n")

	if session != nil && len(session.Transforms) > 0 {
		tf := table.NewWriter()
		tf.SetTitle("Scan transforms")
		tf.AppendHeader(table.Row{"Scan", "Points", "Rotation (deg)", "Translation"})
		for i, m := range session.Transforms {
			n := 0
			if i < len(session.RawScans) {
				n = len(session.RawScans[i])
			}
			tf.AppendRow(table.Row{
				i, n,
				fmt.Sprintf("%.3f", m.RotationAngle()*180/math.Pi),
				fmt.Sprintf("X:%.2f, Y:%.2f, Z:%.2f", m.T.X, m.T.Y, m.T.Z),
			})
		}
		b.WriteString(tf.Render())
		b.WriteString("\n")
	}
	return b.String()
}

// formatPerformance totals phase durations across iterations
func formatPerformance(reports []IterationReport) string {
	var total PhaseTimings
	for _, r := range reports {
		total.Planning += r.Timings.Planning
		total.Executing += r.Timings.Executing
		total.Fusing += r.Timings.Fusing
		total.Checking += r.Timings.Checking
	}

	t := table.NewWriter()
	t.SetTitle("Performance")
	t.AppendHeader(table.Row{"Phase", "Total", "Mean / iteration"})
	n := len(reports)
	for _, row := range []struct {
		name string
		d    time.Duration
	}{
		{"planning", total.Planning},
		{"executing", total.Executing},
		{"fusing", total.Fusing},
		{"checking", total.Checking},
	} {
		mean := time.Duration(0)
		if n > 0 {
			mean = row.d / time.Duration(n)
		}
		t.AppendRow(table.Row{row.name, row.d.Round(time.Millisecond).String(), mean.Round(time.Millisecond).String()})
	}
	t.AppendFooter(table.Row{"total", total.Total().Round(time.Millisecond).String(), ""})
	return t.Render()
}
