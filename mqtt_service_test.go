package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/tudoscan/scan"
)

// TestMQTTServiceConfigLoading tests configuration loading for the MQTT service
func TestMQTTServiceConfigLoading(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"
  publishPrefix: "lab/scanner"
  clientId: "test-client"
scan:
  completionThreshold: 0.8
`,
		},
		{
			name: "threshold out of range",
			configYAML: `scan:
  completionThreshold: 1.5
`,
			shouldError: true,
			errorMsg:    "scan.completionThreshold",
		},
		{
			name: "zero step",
			configYAML: `hardware:
  horizontalStep: 0
`,
			shouldError: true,
			errorMsg:    "hardware.horizontalStep",
		},
		{
			name:        "invalid yaml",
			configYAML:  "mqtt: [unterminated",
			shouldError: true,
			errorMsg:    "parsing config YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			configPath := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}

			config, err := scan.LoadConfig(configPath)

			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error containing '%s', got nil", tt.errorMsg)
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got: %v", tt.errorMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if config.MQTT.Broker != "mqtt://localhost:1883" {
				t.Errorf("Broker = %s, want mqtt://localhost:1883", config.MQTT.Broker)
			}
			if config.MQTT.PublishPrefix != "lab/scanner" {
				t.Errorf("PublishPrefix = %s, want lab/scanner", config.MQTT.PublishPrefix)
			}
			if config.Scan.CompletionThreshold != 0.8 {
				t.Errorf("CompletionThreshold = %f, want 0.8", config.Scan.CompletionThreshold)
			}
		})
	}
}

// TestMQTTServiceNoBroker checks service mode refuses to start without a broker
func TestMQTTServiceNoBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	app, out := newTestApp(testConfig(t.TempDir()))
	app.MqttMode = true

	err := app.RunService()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT broker not configured")
	assert.Contains(t, out.String(), "Starting tudoscan service...")
}

// TestMQTTServicePublishesRun drives a simulated scan with the publisher wired
// to a mock broker connection
func TestMQTTServicePublishesRun(t *testing.T) {
	client := scan.NewMockClient()
	client.SetConnected(true)

	app, _ := newTestApp(testConfig(t.TempDir()))
	app.Publisher = scan.NewPublisher(client, "lab/scanner")

	result, err := app.executeScan(context.Background(), 0.9, 2)
	require.NoError(t, err)
	require.NotNil(t, result)

	states := client.MessagesOn("/state")
	require.NotEmpty(t, states)
	for _, msg := range states {
		assert.Equal(t, "lab/scanner/state", msg.Topic)
		assert.True(t, msg.Retain)
	}

	var first struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(states[0].Payload, &first))
	assert.Equal(t, "INIT", first.State)

	assert.Len(t, client.MessagesOn("/iteration"), len(result.Reports))

	results := client.MessagesOn("/result")
	require.Len(t, results, 1)
	var payload struct {
		SessionID   string `json:"sessionId"`
		State       string `json:"state"`
		ModelPoints int    `json:"modelPoints"`
	}
	require.NoError(t, json.Unmarshal(results[0].Payload, &payload))
	assert.Equal(t, result.SessionID.String(), payload.SessionID)
	assert.Equal(t, "DONE", payload.State)
	assert.Equal(t, len(result.Model), payload.ModelPoints)

	// the tracker saw the same run
	assert.Equal(t, result, app.StateTracker.GetResult())
}

// TestMQTTServiceCommands routes broker commands through the same scan control
// used by the HTTP endpoints
func TestMQTTServiceCommands(t *testing.T) {
	app, _ := newTestApp(testConfig(t.TempDir()))

	for _, payload := range []string{`{"action":"scan","threshold":0.5,"iterations":1}`, "abort"} {
		cmd, err := scan.ParseCommand([]byte(payload))
		require.NoError(t, err, payload)
		app.handleCommand(cmd)
	}
	app.Wait()

	result := app.StateTracker.GetResult()
	require.NotNil(t, result)
	assert.Contains(t, []scan.State{scan.StateDone, scan.StateAborted}, result.State)
}
