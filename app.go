package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kwv/tudoscan/scan"
)

var errScanRunning = errors.New("a scan is already running")

// App encapsulates the application state and dependencies
type App struct {
	Config       *scan.Config
	StateTracker *scan.StateTracker
	MQTTClient   *scan.MQTTClient
	Publisher    *scan.Publisher
	Store        *scan.RunStore

	// Out receives reports and summaries
	Out io.Writer
	// OpenHardware connects the rig; defaults to the simulator or serial ports
	OpenHardware func(config *scan.Config) (scan.Hardware, error)

	// CLI Flags (effectively dependencies)
	ConfigFile    string
	Simulate      bool
	ScanOnly      bool
	Tolerance     float64
	Output        string
	Threshold     float64
	Iterations    int
	ReferenceFile string
	HttpPort      int
	MqttMode      bool
	HttpMode      bool

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: scan.NewStateTracker(),
		Out:          os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Simulate = opts.Simulate
	a.ScanOnly = opts.ScanOnly
	a.Tolerance = opts.Tolerance
	a.Output = opts.Output
	a.Threshold = opts.Threshold
	a.Iterations = opts.Iterations
	a.ReferenceFile = opts.ReferenceFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file. A missing default config.yaml falls back
// to built-in defaults so the simulator and offline tools work without one.
func (a *App) loadConfig() (*scan.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	path := a.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}

	var config *scan.Config
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigFile {
		log.Printf("No %s found, using defaults", path)
		config = scan.DefaultConfig()
		config.ApplyEnv()
	} else {
		config, err = scan.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, path)
		}
		log.Printf("Loaded config from %s", path)
	}

	if a.HttpPort > 0 {
		config.HTTP.Port = a.HttpPort
	}
	a.Config = config
	return config, nil
}

// outputDir is where runs are saved; --output overrides the config
func (a *App) outputDir() string {
	if a.Output != "" {
		return a.Output
	}
	return a.Config.Output.Dir
}

// databasePath follows --output when it relocates the run directory
func (a *App) databasePath() string {
	if a.Output != "" && a.Config.Output.Database == "" {
		return filepath.Join(a.Output, "runs.db")
	}
	return a.Config.DatabasePath()
}

func (a *App) runLimits() (float64, int) {
	threshold := a.Config.Scan.CompletionThreshold
	if a.Threshold > 0 {
		threshold = a.Threshold
	}
	iterations := a.Config.Scan.MaxIterations
	if a.Iterations > 0 {
		iterations = a.Iterations
	}
	return threshold, iterations
}

// openHardware returns the simulated rig for --simulate, otherwise the
// serial rig named in the config.
func (a *App) openHardware(config *scan.Config) (scan.Hardware, error) {
	if a.OpenHardware != nil {
		return a.OpenHardware(config)
	}
	hw := config.Hardware
	if a.Simulate {
		seed := config.Scan.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rig := scan.NewSimRig(scan.DefaultScene(), hw.MinScanDistance, hw.MaxScanDistance, seed)
		rig.Noise = 0.5
		log.Println("[SCAN] using simulated rig")
		return scan.Hardware{Motion: rig, Sensor: rig}, nil
	}
	if hw.MotionPort == "" {
		return scan.Hardware{}, fmt.Errorf("hardware.motionPort is not configured (set TUDOSCAN_MOTION_PORT or use --simulate)")
	}
	return scan.OpenSerialHardware(hw.MotionPort, hw.SensorPort, config.PortOptions(),
		hw.MinScanDistance, hw.MaxScanDistance, hw.CommandTimeout)
}

func (a *App) newOptimizer(config *scan.Config) *scan.Optimizer {
	planner := scan.NewPlanner(config.PlannerConfig())
	planner.Logf = log.Printf
	optimizer := scan.NewOptimizer(config.CoverageConfig(), planner)
	optimizer.Logf = log.Printf
	return optimizer
}

func (a *App) observer() scan.Observer {
	obs := scan.MultiObserver{a.StateTracker}
	if a.Publisher != nil {
		obs = append(obs, a.Publisher)
	}
	return obs
}

// executeScan runs one automated scan and persists it. The result is
// returned whenever the loop produced one, together with any error.
func (a *App) executeScan(ctx context.Context, threshold float64, iterations int) (*scan.RunResult, error) {
	config := a.Config
	hw, err := a.openHardware(config)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Printf("Warning: closing hardware: %v", err)
		}
	}()

	pipeline := scan.NewPipeline(config.Preprocess)
	pipeline.Logf = log.Printf
	ctrl, err := scan.NewController(hw, pipeline, a.newOptimizer(config), config.ControllerConfig())
	if err != nil {
		return nil, err
	}
	ctrl.Observer = a.observer()
	ctrl.Logf = log.Printf

	result, runErr := ctrl.RunAutomatedScan(ctx, threshold, iterations)
	if result == nil {
		return nil, runErr
	}

	report := scan.FormatReport(result, ctrl.Session())
	if err := a.saveRun(result, report); err != nil {
		log.Printf("Warning: %v", err)
	}
	return result, runErr
}

// saveRun writes the model, report and chart and records the run history
func (a *App) saveRun(result *scan.RunResult, report string) error {
	saved, err := scan.SaveRun(a.outputDir(), result, report)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	log.Printf("[SCAN] model saved to %s, report to %s", saved.ModelPath, saved.ReportPath)

	chart := strings.TrimSuffix(saved.ReportPath, filepath.Ext(saved.ReportPath)) + ".png"
	threshold, _ := a.runLimits()
	if err := scan.SaveCompletionChart(chart, result.Reports, threshold); err != nil && !errors.Is(err, scan.ErrDataFault) {
		log.Printf("Warning: completion chart: %v", err)
	}

	if a.Store != nil {
		if err := a.Store.Record(context.Background(), result, saved); err != nil {
			return err
		}
	}
	return nil
}

// openStore opens the run history; failure only disables history
func (a *App) openStore() {
	if a.Store != nil {
		return
	}
	store, err := scan.OpenRunStore(a.databasePath())
	if err != nil {
		log.Printf("Warning: run history disabled: %v", err)
		return
	}
	a.Store = store
}

func (a *App) closeStore() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("Warning: closing run history: %v", err)
		}
		a.Store = nil
	}
}

// RunScan runs a single scan in the foreground and prints its report
func (a *App) RunScan() error {
	if _, err := a.loadConfig(); err != nil {
		return err
	}
	a.openStore()
	defer a.closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	threshold, iterations := a.runLimits()
	result, err := a.executeScan(ctx, threshold, iterations)
	if result != nil {
		fmt.Fprintln(a.Out, scan.FormatReport(result, nil))
	}
	return err
}

// StartScan launches a background scan. Only one runs at a time.
func (a *App) StartScan(threshold float64, iterations int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errScanRunning
	}
	if a.Config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	defThreshold, defIterations := a.runLimits()
	if threshold <= 0 {
		threshold = defThreshold
	}
	if iterations <= 0 {
		iterations = defIterations
	}

	base := a.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			a.cancel = nil
			a.mu.Unlock()
			cancel()
		}()
		if _, err := a.executeScan(ctx, threshold, iterations); err != nil {
			log.Printf("[SCAN] run ended with error: %v", err)
		}
	}()
	return nil
}

// AbortScan cancels the running scan. It reports false if none was running.
func (a *App) AbortScan() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel == nil {
		return false
	}
	a.cancel()
	return true
}

// Wait blocks until background scans have finished
func (a *App) Wait() {
	a.wg.Wait()
}

// handleCommand is the MQTT command handler
func (a *App) handleCommand(cmd scan.ScanCommand) {
	switch cmd.Action {
	case "scan":
		if err := a.StartScan(cmd.Threshold, cmd.Iterations); err != nil {
			log.Printf("[MQTT] scan request ignored: %v", err)
		}
	case "abort":
		if !a.AbortScan() {
			log.Println("[MQTT] abort requested but no scan is running")
		}
	}
}

// RunAnalyze prints completion and the next scan plan for a saved model
func (a *App) RunAnalyze(path string) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	points, err := scan.ReadXYZFile(path)
	if err != nil {
		return err
	}
	threshold, _ := a.runLimits()

	optimizer := a.newOptimizer(config)
	completion, err := optimizer.EstimateCompletion(points, threshold)
	if err != nil {
		return fmt.Errorf("estimating completion: %w", err)
	}
	plan, err := optimizer.GenerateNextScan(points, config.Scan.Bounds)
	if err != nil {
		return fmt.Errorf("planning next scan: %w", err)
	}

	fmt.Fprintf(a.Out, "Model: %s (%d points)\n", path, len(points))
	fmt.Fprintf(a.Out, "Completion: %.1f%% of %d voxels (threshold %.1f%%, complete: %v)\n",
		completion.Rate*100, completion.Voxels, threshold*100, completion.IsComplete)
	fmt.Fprintf(a.Out, "Uncovered regions: %d\n\n", completion.UncoveredRegions)
	fmt.Fprintln(a.Out, formatPlan(plan))
	return nil
}

// formatPlan renders the viewpoint sequence as a table
func formatPlan(plan *scan.ScanPlan) string {
	if plan == nil || len(plan.Viewpoints) == 0 {
		return "No further scans needed"
	}
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Next scan: %d viewpoints for %d holes", len(plan.Viewpoints), len(plan.Holes)))
	t.AppendHeader(table.Row{"#", "Position", "Target", "Pan", "Tilt", "Score"})
	for i, vp := range plan.Viewpoints {
		h, v := vp.PointingAngles()
		t.AppendRow(table.Row{
			i + 1,
			fmt.Sprintf("%.1f, %.1f, %.1f", vp.Position.X, vp.Position.Y, vp.Position.Z),
			fmt.Sprintf("%.1f, %.1f, %.1f", vp.Target.X, vp.Target.Y, vp.Target.Z),
			fmt.Sprintf("%.1f°", h),
			fmt.Sprintf("%.1f°", v),
			fmt.Sprintf("%.3f", vp.Score),
		})
	}
	return t.Render()
}

// RunRender renders a saved model with its next scan plan. The --output
// extension selects the format: .png raster, .svg vector, .geojson export.
func (a *App) RunRender(path string) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	points, err := scan.ReadXYZFile(path)
	if err != nil {
		return err
	}

	plan, err := a.newOptimizer(config).GenerateNextScan(points, config.Scan.Bounds)
	if err != nil {
		log.Printf("Warning: no plan overlay: %v", err)
		plan = nil
	}

	out := a.Output
	if out == "" {
		out = "coverage.png"
	}
	if err := renderFile(out, points, plan, config); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Saved %s\n", out)
	return nil
}

func renderFile(out string, points []scan.Point, plan *scan.ScanPlan, config *scan.Config) error {
	switch strings.ToLower(filepath.Ext(out)) {
	case ".png":
		return scan.NewCoverageRenderer(points, plan).SavePNG(out)
	case ".svg":
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		r := scan.NewVectorRenderer(points, plan)
		r.Bounds = &config.Scan.Bounds
		return r.RenderToSVG(f)
	case ".geojson", ".json":
		data, err := json.MarshalIndent(scan.PlanGeoJSON(points, plan, scan.ProjectTop), "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0644)
	default:
		return fmt.Errorf("unsupported output format %q (use .png, .svg or .geojson)", filepath.Ext(out))
	}
}

// RunValidate compares a scanned model against a reference model
func (a *App) RunValidate(path, reference string) error {
	scanned, err := scan.ReadXYZFile(path)
	if err != nil {
		return err
	}
	ref, err := scan.ReadXYZFile(reference)
	if err != nil {
		return err
	}
	tol := a.Tolerance
	if tol <= 0 {
		tol = 5
	}
	m, err := scan.CompareClouds(scanned, ref, tol)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetTitle("Validation")
	t.AppendRow(table.Row{"Scanned points", len(scanned)})
	t.AppendRow(table.Row{"Reference points", len(ref)})
	t.AppendRow(table.Row{fmt.Sprintf("Coverage (±%.1f)", tol), fmt.Sprintf("%.1f%%", m.Coverage*100)})
	t.AppendRow(table.Row{"Hausdorff", fmt.Sprintf("%.3f", m.Hausdorff)})
	t.AppendRow(table.Row{"Mean distance", fmt.Sprintf("%.3f ± %.3f", m.MeanDistance, m.StdDistance)})
	fmt.Fprintln(a.Out, t.Render())
	return nil
}

// RunService runs MQTT and/or HTTP until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting tudoscan service...")

	config, err := a.loadConfig()
	if err != nil {
		return err
	}

	// 1. Restore the last model so the endpoints have something to show
	cachePath := filepath.Join(a.outputDir(), "latest.xyz")
	a.StateTracker = scan.NewStateTrackerWithCache(cachePath)
	if a.StateTracker.HasModel() {
		log.Printf("Loaded last model from %s", cachePath)
	}

	a.openStore()
	defer a.closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.mu.Lock()
	a.baseCtx = ctx
	a.mu.Unlock()

	// 2. MQTT telemetry and remote commands
	if a.MqttMode {
		mqttClient, err := scan.InitMQTT(config, a.handleCommand)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = mqttClient
		a.Publisher = scan.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		fmt.Fprintln(a.Out, "MQTT publisher initialized")
	}

	// 3. HTTP status server
	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", config.HTTP.Port),
			Handler:           newHTTPServer(a.StateTracker, a.Store, config, a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
				stop()
			}
		}()
	}

	// 4. Optional scan on startup
	if a.ScanOnly || a.Simulate {
		threshold, iterations := a.runLimits()
		if err := a.StartScan(threshold, iterations); err != nil {
			log.Printf("[SCAN] %v", err)
		}
	}

	a.printServiceInfo(config)

	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	a.AbortScan()
	a.Wait()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo(config *scan.Config) {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		prefix := config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = "tudoscan"
		}
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Commands: %s\n", a.MQTTClient.CommandTopic())
		fmt.Fprintf(a.Out, "  Publishing to: %s/{state,plan,iteration,result}\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", config.HTTP.Port)
		fmt.Fprintln(a.Out, "  GET  /health         - Health check")
		fmt.Fprintln(a.Out, "  GET  /status         - Loop state and iteration reports")
		fmt.Fprintln(a.Out, "  GET  /model.xyz      - Current model as x,y,z lines")
		fmt.Fprintln(a.Out, "  GET  /coverage.png   - Density render with holes and viewpoints")
		fmt.Fprintln(a.Out, "  GET  /coverage.svg   - Vector render")
		fmt.Fprintln(a.Out, "  GET  /plan.geojson   - Model, holes and plan as GeoJSON")
		fmt.Fprintln(a.Out, "  GET  /report.txt     - Last run report")
		fmt.Fprintln(a.Out, "  GET  /completion.png - Completion per iteration")
		fmt.Fprintln(a.Out, "  GET  /history        - Recent runs")
		fmt.Fprintln(a.Out, "  POST /scan           - Start a scan")
		fmt.Fprintln(a.Out, "  POST /abort          - Abort the running scan")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
