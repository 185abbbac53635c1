package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultConfigFile = "config.yaml"

// AppOptions is the parsed command line
type AppOptions struct {
	ConfigFile    string
	Simulate      bool
	ScanOnly      bool
	AnalyzeFile   string
	RenderFile    string
	ValidateFile  string
	ReferenceFile string
	Tolerance     float64
	Output        string
	Threshold     float64
	Iterations    int
	HttpPort      int
	MqttMode      bool
	HttpMode      bool
}

// Runner is implemented by App; tests substitute a mock
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunScan() error
	RunAnalyze(path string) error
	RunRender(path string) error
	RunValidate(path, reference string) error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer, app Runner) error {
	fs := flag.NewFlagSet("tudoscan", flag.ContinueOnError)
	fs.SetOutput(stdout)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", defaultConfigFile, "Path to configuration file")
	fs.BoolVar(&opts.Simulate, "simulate", false, "Drive the built-in simulated rig instead of serial hardware")
	fs.BoolVar(&opts.ScanOnly, "scan", false, "Run one automated scan on the configured hardware and exit")
	fs.StringVar(&opts.AnalyzeFile, "analyze", "", "Estimate completion of an x,y,z model file and print the next scan plan")
	fs.StringVar(&opts.RenderFile, "render", "", "Render an x,y,z model file with its next scan plan")
	fs.StringVar(&opts.ValidateFile, "validate", "", "Compare an x,y,z model file against --reference")
	fs.StringVar(&opts.ReferenceFile, "reference", "", "Reference model for --validate")
	fs.Float64Var(&opts.Tolerance, "tolerance", 5, "Coverage tolerance in mm for --validate")
	fs.StringVar(&opts.Output, "output", "", "Output directory for scan runs, or output file for --render (.png, .svg, .geojson)")
	fs.Float64Var(&opts.Threshold, "threshold", 0, "Completion threshold in [0,1] (0 keeps the configured value)")
	fs.IntVar(&opts.Iterations, "iterations", 0, "Maximum scan iterations (0 keeps the configured value)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run service mode with MQTT telemetry and remote commands")
	fs.BoolVar(&opts.HttpMode, "http", false, "Run service mode with the HTTP status server")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "tudoscan version: %s\n", Version)
	if *showVersion {
		return nil
	}

	if opts.Threshold < 0 || opts.Threshold > 1 {
		return fmt.Errorf("--threshold must be in [0, 1], got %v", opts.Threshold)
	}
	if opts.Iterations < 0 {
		return fmt.Errorf("--iterations must not be negative, got %d", opts.Iterations)
	}

	app.ApplyOptions(opts)

	switch {
	case opts.ValidateFile != "":
		if opts.ReferenceFile == "" {
			return fmt.Errorf("--validate requires --reference")
		}
		return app.RunValidate(opts.ValidateFile, opts.ReferenceFile)
	case opts.AnalyzeFile != "":
		return app.RunAnalyze(opts.AnalyzeFile)
	case opts.RenderFile != "":
		return app.RunRender(opts.RenderFile)
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	case opts.ScanOnly || opts.Simulate:
		return app.RunScan()
	}

	fmt.Fprintln(stdout, "Use --simulate to run a scan against the simulated rig")
	fmt.Fprintln(stdout, "Use --scan to run a scan on the serial hardware")
	fmt.Fprintln(stdout, "Use --analyze=FILE to check coverage of a saved model")
	fmt.Fprintln(stdout, "Use --render=FILE --output=coverage.png to render a saved model")
	fmt.Fprintln(stdout, "Use --validate=FILE --reference=REF to compare against a reference model")
	fmt.Fprintln(stdout, "Use --mqtt and/or --http to run service mode")
	fmt.Fprintln(stdout, "\nConfiguration:")
	fmt.Fprintln(stdout, "  config.yaml - hardware, scan and MQTT settings")
	fmt.Fprintln(stdout, "  .env        - environment overrides (MQTT_BROKER, TUDOSCAN_MOTION_PORT, ...)")
	return nil
}
