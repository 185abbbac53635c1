package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const coarseConfigYAML = `hardware:
  horizontalStep: 20
  verticalStep: 15
scan:
  voxelResolution: 40
  clusterRadius: 60
  restarts: 2
  seed: 42
  maxIterations: 2
mqtt:
  publishPrefix: "tudoscan-test"
  clientId: "tudoscan-test"
`

// buildBinary compiles the command into dir
func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	binaryPath := filepath.Join(dir, "tudoscan-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}
	return binaryPath
}

// TestBinaryStartup runs the built binary through its one-shot modes
func TestBinaryStartup(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(coarseConfigYAML), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	binaryPath := buildBinary(t, tmpDir)
	outDir := filepath.Join(tmpDir, "runs")

	tests := []struct {
		name           string
		args           []string
		expectInOutput []string
		expectFailure  bool
		timeout        time.Duration
	}{
		{
			name: "simulated scan",
			args: []string{"--simulate", "--config=" + configPath, "--output=" + outDir},
			expectInOutput: []string{
				"tudoscan version:",
				"Loaded config from",
				"using simulated rig",
				"[SCAN] session",
				"Scan run",
			},
			timeout: 60 * time.Second,
		},
		{
			name: "missing config file",
			args: []string{"--scan", "--config=nonexistent.yaml"},
			expectInOutput: []string{
				"failed to load config",
			},
			expectFailure: true,
			timeout:       5 * time.Second,
		},
		{
			name: "mqtt without broker",
			args: []string{"--mqtt", "--config=" + configPath},
			expectInOutput: []string{
				"Starting tudoscan service...",
				"MQTT broker not configured",
			},
			expectFailure: true,
			timeout:       5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, binaryPath, tt.args...)
			cmd.Env = append(os.Environ(), "MQTT_BROKER=")
			output, err := cmd.CombinedOutput()
			outputStr := string(output)

			for _, expected := range tt.expectInOutput {
				if !strings.Contains(outputStr, expected) {
					t.Errorf("Expected output to contain '%s', but it didn't.\nFull output:\n%s",
						expected, outputStr)
				}
			}
			if tt.expectFailure && err == nil {
				t.Error("Expected command to fail, but it succeeded")
			}
			if !tt.expectFailure && err != nil {
				t.Errorf("Command failed: %v\n%s", err, outputStr)
			}
		})
	}

	if models, _ := filepath.Glob(filepath.Join(outDir, "scans", "scan_*.txt")); len(models) != 1 {
		t.Errorf("expected one saved model in %s, got %v", outDir, models)
	}
}

// TestServiceSignalHandling tests SIGINT handling in service mode
func TestServiceSignalHandling(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(coarseConfigYAML), 0644); err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}
	binaryPath := buildBinary(t, tmpDir)

	var out strings.Builder
	cmd := exec.Command(binaryPath, "--http", "--http-port=18765", "--config="+configPath, "--output="+tmpDir)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}

	// Give it time to start
	time.Sleep(2 * time.Second)

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Logf("Failed to send SIGINT (process may have already exited): %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("service exited with error: %v\n%s", err, out.String())
		}
		if !strings.Contains(out.String(), "Service stopped") {
			t.Errorf("expected graceful shutdown message, got:\n%s", out.String())
		}
	case <-time.After(5 * time.Second):
		t.Error("Service did not shut down within timeout")
		if err := cmd.Process.Kill(); err != nil {
			t.Logf("Failed to kill process: %v", err)
		}
	}
}
