package scan

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the unified configuration for the scanner
type Config struct {
	Hardware   HardwareConfig   `yaml:"hardware" json:"hardware"`
	Scan       ScanConfig       `yaml:"scan" json:"scan"`
	ICP        ICPConfig        `yaml:"icp" json:"icp"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Preprocess PreprocessConfig `yaml:"preprocess" json:"preprocess"`
	MQTT       MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
	Output     OutputConfig     `yaml:"output" json:"output"`
}

// HardwareConfig describes the rig. Distances are millimetres, angles degrees.
type HardwareConfig struct {
	MotionPort      string        `yaml:"motionPort" json:"motionPort"`
	SensorPort      string        `yaml:"sensorPort,omitempty" json:"sensorPort,omitempty"` // empty: same port as motion
	BaudRate        int           `yaml:"baudRate" json:"baudRate"`
	MaxScanDistance float64       `yaml:"maxScanDistance" json:"maxScanDistance"`
	MinScanDistance float64       `yaml:"minScanDistance" json:"minScanDistance"`
	HorizontalStep  float64       `yaml:"horizontalStep" json:"horizontalStep"`
	VerticalStep    float64       `yaml:"verticalStep" json:"verticalStep"`
	HorizontalRange float64       `yaml:"horizontalRange" json:"horizontalRange"`
	VerticalRange   float64       `yaml:"verticalRange" json:"verticalRange"`
	ScanSpeed       float64       `yaml:"scanSpeed" json:"scanSpeed"` // degrees per second
	SettleDelay     time.Duration `yaml:"settleDelay" json:"settleDelay"`
	CommandTimeout  time.Duration `yaml:"commandTimeout" json:"commandTimeout"`
}

// ScanConfig holds the loop and planning parameters
type ScanConfig struct {
	CompletionThreshold float64 `yaml:"completionThreshold" json:"completionThreshold"`
	MaxIterations       int     `yaml:"maxIterations" json:"maxIterations"`
	VoxelResolution     float64 `yaml:"voxelResolution" json:"voxelResolution"`
	HoleThreshold       float64 `yaml:"holeThreshold" json:"holeThreshold"`
	ClusterRadius       float64 `yaml:"clusterRadius,omitempty" json:"clusterRadius,omitempty"`
	MinViewScore        float64 `yaml:"minViewScore" json:"minViewScore"`
	Restarts            int     `yaml:"restarts" json:"restarts"`
	Bounds              Bounds  `yaml:"bounds" json:"bounds"`
	Seed                int64   `yaml:"seed,omitempty" json:"seed,omitempty"` // 0 = time based
	MaxVoxels           int     `yaml:"maxVoxels" json:"maxVoxels"`
}

// FusionConfig controls merging of registered scans
type FusionConfig struct {
	DedupDistance float64 `yaml:"dedupDistance" json:"dedupDistance"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds the status server settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// OutputConfig says where runs are written
type OutputConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"` // sqlite run history; empty: <dir>/runs.db
}

// DefaultConfig returns a configuration with every default filled in
func DefaultConfig() *Config {
	cov := DefaultCoverageConfig()
	return &Config{
		Hardware: HardwareConfig{
			BaudRate:        115200,
			MaxScanDistance: 255,
			MinScanDistance: 30,
			HorizontalStep:  5,
			VerticalStep:    5,
			HorizontalRange: 180,
			VerticalRange:   45,
			ScanSpeed:       50,
			SettleDelay:     500 * time.Millisecond,
			CommandTimeout:  2 * time.Second,
		},
		Scan: ScanConfig{
			CompletionThreshold: 0.9,
			MaxIterations:       5,
			VoxelResolution:     cov.Resolution,
			HoleThreshold:       cov.HoleThreshold,
			ClusterRadius:       cov.ClusterRadius,
			MinViewScore:        0.1,
			Restarts:            5,
			Bounds:              DefaultBounds(),
			MaxVoxels:           DefaultMaxVoxels,
		},
		ICP:        DefaultICPConfig(),
		Fusion:     FusionConfig{DedupDistance: DefaultDedupDistance},
		Preprocess: DefaultPreprocessConfig(),
		HTTP:       HTTPConfig{Port: 4040},
		Output:     OutputConfig{Dir: "data"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig, applies environment
// overrides and validates the result. A .env file in the working directory
// or next to the config file is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	loadDotEnv(filepath.Dir(path))
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadDotEnv loads .env files without overriding variables already set.
// Missing files are ignored.
func loadDotEnv(dirs ...string) {
	candidates := []string{".env"}
	for _, d := range dirs {
		if p := filepath.Join(d, ".env"); p != ".env" {
			candidates = append(candidates, p)
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// ApplyEnv overrides ports, output and MQTT settings from the environment
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Hardware.MotionPort, "TUDOSCAN_MOTION_PORT")
	override(&c.Hardware.SensorPort, "TUDOSCAN_SENSOR_PORT")
	override(&c.Output.Dir, "TUDOSCAN_OUTPUT_DIR")
	override(&c.MQTT.Broker, "MQTT_BROKER")
	override(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	override(&c.MQTT.Username, "MQTT_USERNAME")
	override(&c.MQTT.Password, "MQTT_PASSWORD")
	override(&c.MQTT.PublishPrefix, "MQTT_PUBLISH_PREFIX")
}

// Validate checks ranges that would otherwise fail deep inside the loop
func (c *Config) Validate() error {
	h := c.Hardware
	if h.MinScanDistance < 0 || h.MaxScanDistance <= h.MinScanDistance {
		return fmt.Errorf("hardware.maxScanDistance must exceed hardware.minScanDistance")
	}
	if h.HorizontalStep <= 0 {
		return fmt.Errorf("hardware.horizontalStep must be positive")
	}
	if h.VerticalStep <= 0 {
		return fmt.Errorf("hardware.verticalStep must be positive")
	}
	if h.HorizontalRange < 0 || h.VerticalRange < 0 {
		return fmt.Errorf("hardware ranges must not be negative")
	}
	if h.SettleDelay < 0 {
		return fmt.Errorf("hardware.settleDelay must not be negative")
	}
	if h.ScanSpeed < 0 {
		return fmt.Errorf("hardware.scanSpeed must not be negative")
	}

	s := c.Scan
	if s.CompletionThreshold < 0 || s.CompletionThreshold > 1 {
		return fmt.Errorf("scan.completionThreshold must be within [0, 1]")
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("scan.maxIterations must be positive")
	}
	if s.VoxelResolution <= 0 {
		return fmt.Errorf("scan.voxelResolution must be positive")
	}
	if s.HoleThreshold <= 0 {
		return fmt.Errorf("scan.holeThreshold must be positive")
	}
	if s.ClusterRadius < 0 {
		return fmt.Errorf("scan.clusterRadius must not be negative")
	}
	if s.Restarts < 0 {
		return fmt.Errorf("scan.restarts must not be negative")
	}
	if err := s.Bounds.Validate(); err != nil {
		return fmt.Errorf("scan.bounds: %w", err)
	}

	if c.ICP.MaxIterations <= 0 {
		return fmt.Errorf("icp.maxIterations must be positive")
	}
	if c.ICP.Tolerance < 0 {
		return fmt.Errorf("icp.tolerance must not be negative")
	}
	if c.Fusion.DedupDistance < 0 {
		return fmt.Errorf("fusion.dedupDistance must not be negative")
	}
	if c.Preprocess.OutlierSigma < 0 {
		return fmt.Errorf("preprocess.outlierSigma must not be negative")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be within [0, 65535]")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CoverageConfig returns the voxel and hole settings
func (c *Config) CoverageConfig() CoverageConfig {
	return CoverageConfig{
		Resolution:    c.Scan.VoxelResolution,
		HoleThreshold: c.Scan.HoleThreshold,
		ClusterRadius: c.Scan.ClusterRadius,
		MaxVoxels:     c.Scan.MaxVoxels,
	}
}

// PlannerConfig returns the planner settings with an RNG seeded from
// scan.seed, or from the clock when the seed is 0.
func (c *Config) PlannerConfig() PlannerConfig {
	pc := DefaultPlannerConfig()
	pc.Restarts = c.Scan.Restarts
	pc.MinScore = c.Scan.MinViewScore
	if c.Scan.Seed != 0 {
		pc.RNG = rand.New(rand.NewSource(c.Scan.Seed))
	}
	return pc
}

// SurveyPlan sweeps the configured ranges at the configured steps
func (c *Config) SurveyPlan() SurveyPlan {
	h := c.Hardware
	return SurveyPlan{
		HStart: 0, HEnd: h.HorizontalRange, HStep: h.HorizontalStep,
		VStart: 0, VEnd: h.VerticalRange, VStep: h.VerticalStep,
	}
}

// ControllerConfig returns the loop settings
func (c *Config) ControllerConfig() ControllerConfig {
	return ControllerConfig{
		Bounds:        c.Scan.Bounds,
		SettleDelay:   c.Hardware.SettleDelay,
		ScanSpeed:     c.Hardware.ScanSpeed,
		Survey:        c.SurveyPlan(),
		ICP:           c.ICP,
		DedupDistance: c.Fusion.DedupDistance,
	}
}

// PortOptions returns the serial settings for both rig ports
func (c *Config) PortOptions() PortOptions {
	return PortOptions{BaudRate: c.Hardware.BaudRate}
}

// DatabasePath is the sqlite run history location
func (c *Config) DatabasePath() string {
	if c.Output.Database != "" {
		return c.Output.Database
	}
	return filepath.Join(c.Output.Dir, "runs.db")
}
