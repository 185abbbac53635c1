package scan

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedMock() *MockClient {
	m := NewMockClient()
	m.SetConnected(true)
	return m
}

func TestNewPublisher(t *testing.T) {
	p := NewPublisher(nil, "")
	require.NotNil(t, p)
	assert.Equal(t, "tudoscan", p.publishPrefix)
	assert.True(t, p.retain)
	assert.Equal(t, byte(0), p.qos)

	assert.Equal(t, "lab", NewPublisher(nil, "lab").publishPrefix)
}

func TestPublisher_StateChanged(t *testing.T) {
	mock := connectedMock()
	p := NewPublisher(mock, "tudoscan")

	p.StateChanged(StatePlanning)

	msgs := mock.MessagesOn("/state")
	require.Len(t, msgs, 1)
	assert.Equal(t, "tudoscan/state", msgs[0].Topic)
	assert.True(t, msgs[0].Retain)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, "PLANNING", payload["state"])
	assert.NotZero(t, payload["timestamp"])
}

func TestPublisher_PlanReady(t *testing.T) {
	mock := connectedMock()
	p := NewPublisher(mock, "tudoscan")

	p.PlanReady(2, &ScanPlan{
		Holes: []HoleCluster{{Size: 3}, {Size: 5}},
		Viewpoints: []Viewpoint{
			{Position: r3.Vector{}, Target: r3.Vector{Y: 10}, Score: 0.4},
		},
	})
	p.PlanReady(3, nil)

	msgs := mock.MessagesOn("/plan")
	require.Len(t, msgs, 1, "nil plans are not published")

	var payload struct {
		Iteration  int `json:"iteration"`
		Holes      int `json:"holes"`
		Viewpoints []struct {
			Target [3]float64 `json:"target"`
			Score  float64    `json:"score"`
			Pan    float64    `json:"pan"`
			Tilt   float64    `json:"tilt"`
		} `json:"viewpoints"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, 2, payload.Iteration)
	assert.Equal(t, 2, payload.Holes)
	require.Len(t, payload.Viewpoints, 1)
	assert.Equal(t, [3]float64{0, 10, 0}, payload.Viewpoints[0].Target)
	assert.InDelta(t, 90, payload.Viewpoints[0].Pan, 1e-9)
	assert.InDelta(t, 0, payload.Viewpoints[0].Tilt, 1e-9)
}

func TestPublisher_IterationAndResult(t *testing.T) {
	mock := connectedMock()
	p := NewPublisher(mock, "tudoscan")

	p.IterationDone(IterationReport{Iteration: 1, Sampled: 40, Completion: &Completion{Rate: 0.4}})
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.RunFinished(&RunResult{
		State:      StateDone,
		Iterations: 1,
		Completion: 0.4,
		Model:      []Point{{X: 1}, {X: 2}},
		Started:    started,
		Finished:   started.Add(1500 * time.Millisecond),
	})

	iter := mock.MessagesOn("/iteration")
	require.Len(t, iter, 1)
	var report IterationReport
	require.NoError(t, json.Unmarshal(iter[0].Payload, &report))
	assert.Equal(t, 40, report.Sampled)
	require.NotNil(t, report.Completion)
	assert.Equal(t, 0.4, report.Completion.Rate)

	res := mock.MessagesOn("/result")
	require.Len(t, res, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(res[0].Payload, &payload))
	assert.Equal(t, "DONE", payload["state"])
	assert.Equal(t, float64(2), payload["modelPoints"])
	assert.Equal(t, float64(1500), payload["durationMs"])
	assert.NotContains(t, payload, "Model", "the model itself is not sent")
}

func TestPublisher_Disconnected(t *testing.T) {
	mock := NewMockClient()
	p := NewPublisher(mock, "tudoscan")

	p.StateChanged(StateInit)
	p.IterationDone(IterationReport{})
	assert.Empty(t, mock.GetPublishedMessages())

	assert.Error(t, p.Publish("state", "x"))
	assert.Error(t, NewPublisher(nil, "").Publish("state", "x"))
}

func TestPublisher_PublishError(t *testing.T) {
	mock := connectedMock()
	mock.SetPublishError(errors.New("queue full"))
	p := NewPublisher(mock, "tudoscan")

	err := p.Publish("state", statePayload{State: StateDone})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")

	// observer callbacks swallow the error
	p.StateChanged(StateDone)
}

func TestPublisher_QoSAndRetain(t *testing.T) {
	mock := connectedMock()
	p := NewPublisher(mock, "tudoscan")
	p.SetQoS(1)
	p.SetQoS(7) // ignored
	p.SetRetain(false)

	require.NoError(t, p.Publish("custom", map[string]int{"n": 1}))
	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tudoscan/custom", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Payload))
}

func TestPublisher_AsObserver(t *testing.T) {
	mock := connectedMock()
	var obs Observer = MultiObserver{NewPublisher(mock, "tudoscan"), NewStateTracker()}
	obs.StateChanged(StateInit)
	obs.RunFinished(&RunResult{State: StateDone})

	assert.Len(t, mock.MessagesOn("/state"), 1)
	assert.Len(t, mock.MessagesOn("/result"), 1)
}
