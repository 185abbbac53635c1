package scan

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher mirrors loop progress to MQTT. It implements Observer; publish
// failures are logged and never interrupt the scan.
//
// Topics (under the publish prefix): state, plan, iteration, result.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates a publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "tudoscan"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
	}
}

type statePayload struct {
	State     State `json:"state"`
	Timestamp int64 `json:"timestamp"`
}

type planPayload struct {
	Iteration  int             `json:"iteration"`
	Holes      int             `json:"holes"`
	Viewpoints []viewpointJSON `json:"viewpoints"`
	Timestamp  int64           `json:"timestamp"`
}

type viewpointJSON struct {
	Position [3]float64 `json:"position"`
	Target   [3]float64 `json:"target"`
	Score    float64    `json:"score"`
	Pan      float64    `json:"pan"`
	Tilt     float64    `json:"tilt"`
}

type resultPayload struct {
	*RunResult
	ModelPoints int   `json:"modelPoints"`
	DurationMS  int64 `json:"durationMs"`
}

func (p *Publisher) StateChanged(state State) {
	p.publish("state", statePayload{State: state, Timestamp: time.Now().Unix()})
}

func (p *Publisher) PlanReady(iteration int, plan *ScanPlan) {
	if plan == nil {
		return
	}
	out := planPayload{Iteration: iteration, Holes: len(plan.Holes), Timestamp: time.Now().Unix()}
	for _, vp := range plan.Viewpoints {
		h, v := vp.PointingAngles()
		out.Viewpoints = append(out.Viewpoints, viewpointJSON{
			Position: [3]float64{vp.Position.X, vp.Position.Y, vp.Position.Z},
			Target:   [3]float64{vp.Target.X, vp.Target.Y, vp.Target.Z},
			Score:    vp.Score,
			Pan:      h,
			Tilt:     v,
		})
	}
	p.publish("plan", out)
}

func (p *Publisher) IterationDone(report IterationReport) {
	p.publish("iteration", report)
}

func (p *Publisher) RunFinished(result *RunResult) {
	p.publish("result", resultPayload{
		RunResult:   result,
		ModelPoints: len(result.Model),
		DurationMS:  result.Duration().Milliseconds(),
	})
}

func (p *Publisher) publish(sub string, v interface{}) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	if err := p.Publish(sub, v); err != nil {
		log.Printf("[MQTT] %v", err)
	}
}

// Publish marshals v and publishes it to <prefix>/<sub>
func (p *Publisher) Publish(sub string, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, sub)

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", sub, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
