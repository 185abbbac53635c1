package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/tudoscan/scan"
)

// scanControl starts and aborts background scans
type scanControl interface {
	StartScan(threshold float64, iterations int) error
	AbortScan() bool
}

// newHTTPServer creates an HTTP server with all endpoints. store and ctl may
// be nil; the endpoints that need them then answer 503.
func newHTTPServer(stateTracker *scan.StateTracker, store *scan.RunStore, config *scan.Config, ctl scanControl) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasModel  bool      `json:"hasModel"`
			Running   bool      `json:"running"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasModel:  stateTracker.HasModel(),
			Running:   stateTracker.IsRunning(),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stateTracker.GetStatus())
	})

	mux.HandleFunc("/model.xyz", func(w http.ResponseWriter, r *http.Request) {
		model := stateTracker.GetModel()
		if len(model) == 0 {
			http.Error(w, "No model available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if err := scan.WriteXYZ(w, model); err != nil {
			log.Printf("[HTTP] Error writing model: %v", err)
		}
	})

	// Density render with holes and planned viewpoints
	mux.HandleFunc("/coverage.png", func(w http.ResponseWriter, r *http.Request) {
		model := stateTracker.GetModel()
		if len(model) == 0 {
			http.Error(w, "No model available", http.StatusServiceUnavailable)
			return
		}
		renderer := scan.NewCoverageRenderer(model, stateTracker.GetPlan())
		if r.URL.Query().Get("view") == "front" {
			renderer.Projection = scan.ProjectFront
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.WritePNG(w); err != nil {
			log.Printf("[HTTP] Error encoding coverage PNG: %v", err)
		}
	})

	mux.HandleFunc("/coverage.svg", func(w http.ResponseWriter, r *http.Request) {
		model := stateTracker.GetModel()
		if len(model) == 0 {
			http.Error(w, "No model available", http.StatusServiceUnavailable)
			return
		}
		renderer := scan.NewVectorRenderer(model, stateTracker.GetPlan())
		if config != nil {
			bounds := config.Scan.Bounds
			renderer.Bounds = &bounds
		}
		if r.URL.Query().Get("view") == "front" {
			renderer.Projection = scan.ProjectFront
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("[HTTP] Error rendering coverage SVG: %v", err)
		}
	})

	mux.HandleFunc("/plan.geojson", func(w http.ResponseWriter, r *http.Request) {
		model := stateTracker.GetModel()
		plan := stateTracker.GetPlan()
		if len(model) == 0 && plan == nil {
			http.Error(w, "No model or plan available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(scan.PlanGeoJSON(model, plan, scan.ProjectTop)); err != nil {
			log.Printf("[HTTP] Error encoding plan GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("/report.txt", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.GetResult()
		if result == nil {
			http.Error(w, "No finished run", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(scan.FormatReport(result, nil)))
	})

	mux.HandleFunc("/completion.png", func(w http.ResponseWriter, r *http.Request) {
		threshold := 0.9
		if config != nil {
			threshold = config.Scan.CompletionThreshold
		}
		reports := stateTracker.GetStatus().Reports
		if len(reports) == 0 {
			if result := stateTracker.GetResult(); result != nil {
				reports = result.Reports
			}
		}
		var buf bytes.Buffer
		if err := scan.WriteCompletionChart(&buf, reports, threshold); err != nil {
			if errors.Is(err, scan.ErrDataFault) {
				http.Error(w, "No completion data", http.StatusServiceUnavailable)
				return
			}
			log.Printf("[HTTP] Error rendering completion chart: %v", err)
			http.Error(w, "Failed to render chart", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = buf.WriteTo(w)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "Run history disabled", http.StatusServiceUnavailable)
			return
		}
		limit := 20
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := store.Recent(r.Context(), limit)
		if err != nil {
			log.Printf("[HTTP] Error reading history: %v", err)
			http.Error(w, "Failed to read history", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []scan.RunRecord{}
		}
		writeJSON(w, runs)
	})

	// POST /scan?threshold=0.8&iterations=3
	mux.HandleFunc("/scan", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ctl == nil {
			http.Error(w, "Scanning not available", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		cmd := scan.ScanCommand{Action: "scan"}
		if s := q.Get("threshold"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil || v < 0 || v > 1 {
				http.Error(w, "threshold must be in [0, 1]", http.StatusBadRequest)
				return
			}
			cmd.Threshold = v
		}
		if s := q.Get("iterations"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "iterations must be a non-negative integer", http.StatusBadRequest)
				return
			}
			cmd.Iterations = n
		}
		log.Printf("[HTTP] scan requested from %s", r.RemoteAddr)
		if err := ctl.StartScan(cmd.Threshold, cmd.Iterations); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, errScanRunning) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(cmd)
	})

	mux.HandleFunc("/abort", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ctl == nil || !ctl.AbortScan() {
			http.Error(w, "No scan running", http.StatusConflict)
			return
		}
		log.Printf("[HTTP] abort requested from %s", r.RemoteAddr)
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding JSON: %v", err)
	}
}
