package scan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// WriteXYZ writes one "x,y,z" line per point with no header
func WriteXYZ(w io.Writer, points []Point) error {
	bw := bufio.NewWriter(w)
	for _, p := range points {
		line := strconv.FormatFloat(p.X, 'g', -1, 64) + "," +
			strconv.FormatFloat(p.Y, 'g', -1, 64) + "," +
			strconv.FormatFloat(p.Z, 'g', -1, 64) + "\n"
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("writing point: %w", err)
		}
	}
	return bw.Flush()
}

// ReadXYZ parses "x,y,z" lines. Blank lines are skipped; timestamps are zero.
func ReadXYZ(r io.Reader) ([]Point, error) {
	var points []Point
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", line, len(fields))
		}
		var xyz [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			xyz[i] = v
		}
		points = append(points, Point{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading points: %w", err)
	}
	return points, nil
}

// WriteXYZFile writes points to path, creating parent directories
func WriteXYZFile(path string, points []Point) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteXYZ(f, points); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadXYZFile loads points from path
func ReadXYZFile(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadXYZ(f)
}

// SavedRun lists the files written by SaveRun
type SavedRun struct {
	ModelPath  string
	ReportPath string
}

// SaveRun writes the model to <dir>/scans/scan_<ts>.txt and the text report
// to <dir>/reports/report_<ts>.txt.
func SaveRun(dir string, result *RunResult, report string) (SavedRun, error) {
	ts := result.Finished
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := ts.Format("20060102_150405")
	saved := SavedRun{
		ModelPath:  filepath.Join(dir, "scans", "scan_"+stamp+".txt"),
		ReportPath: filepath.Join(dir, "reports", "report_"+stamp+".txt"),
	}

	if err := WriteXYZFile(saved.ModelPath, result.Model); err != nil {
		return saved, err
	}
	if err := os.MkdirAll(filepath.Dir(saved.ReportPath), 0755); err != nil {
		return saved, fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(saved.ReportPath, []byte(report), 0644); err != nil {
		return saved, fmt.Errorf("writing report: %w", err)
	}
	return saved, nil
}
