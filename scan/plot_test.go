package scan

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func chartReports() []IterationReport {
	return []IterationReport{
		{Iteration: 1, Completion: &Completion{Rate: 0.42}},
		{Iteration: 2, Err: "executing: sensor timeout"},
		{Iteration: 3, Completion: &Completion{Rate: 0.81}},
	}
}

func TestCompletionChart(t *testing.T) {
	p, err := CompletionChart(chartReports(), 0.95)
	require.NoError(t, err)
	assert.Equal(t, "Scan completion", p.Title.Text)
	assert.Equal(t, 0.5, p.X.Min)
	assert.Equal(t, 3.5, p.X.Max)
}

func TestCompletionChart_NoCompletion(t *testing.T) {
	_, err := CompletionChart([]IterationReport{{Iteration: 1, Err: "boom"}}, 0.9)
	require.Error(t, err)
	assert.Equal(t, DataFault, KindOf(err))

	_, err = CompletionChart(nil, 0.9)
	assert.Error(t, err)
}

func TestWriteCompletionChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCompletionChart(&buf, chartReports(), 0.95))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	assert.Error(t, WriteCompletionChart(&buf, nil, 0.95))
}

func TestSaveCompletionChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "completion.png")
	require.NoError(t, SaveCompletionChart(path, chartReports(), 0.95))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}
