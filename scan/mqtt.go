package scan

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ScanCommand is a remote request received on <prefix>/command
type ScanCommand struct {
	Action     string  `json:"action"`               // "scan" or "abort"
	Threshold  float64 `json:"threshold,omitempty"`  // 0 keeps the configured value
	Iterations int     `json:"iterations,omitempty"` // 0 keeps the configured value
}

// CommandHandler is called for every valid command message
type CommandHandler func(cmd ScanCommand)

// MQTTClient manages the broker connection and the command subscription
type MQTTClient struct {
	client      mqtt.Client
	prefix      string
	handler     CommandHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates a client and starts connecting in the background.
// If no broker is configured MQTT is disabled and this returns nil, nil.
func InitMQTT(config *Config, handler CommandHandler) (*MQTTClient, error) {
	if config == nil {
		return nil, fmt.Errorf("MQTT requires a configuration")
	}
	if config.MQTT.Broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	client := &MQTTClient{
		prefix:  publishPrefix(config),
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTT.Broker)

	clientID := config.MQTT.ClientID
	if clientID == "" {
		clientID = "tudoscan"
	}
	opts.SetClientID(clientID)

	if config.MQTT.Username != "" {
		opts.SetUsername(config.MQTT.Username)
		opts.SetPassword(config.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)
	go client.connectWithRetry()

	return client, nil
}

func publishPrefix(config *Config) string {
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return "tudoscan"
}

// CommandTopic is where remote scan requests arrive
func (c *MQTTClient) CommandTopic() string {
	return c.prefix + "/command"
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect (re)subscribes to the command topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	topic := c.CommandTopic()
	log.Printf("[MQTT] subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.handleCommand)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// handleCommand accepts a JSON ScanCommand, a JSON string or a bare word
func (c *MQTTClient) handleCommand(client mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("[MQTT] ignoring command on %s: %v", msg.Topic(), err)
		return
	}
	log.Printf("[MQTT] command %q received", cmd.Action)
	if c.handler != nil {
		c.handler(cmd)
	}
}

// ParseCommand decodes a command payload
func ParseCommand(payload []byte) (ScanCommand, error) {
	var cmd ScanCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		var word string
		if err2 := json.Unmarshal(payload, &word); err2 == nil {
			cmd.Action = word
		} else {
			cmd.Action = strings.TrimSpace(string(payload))
		}
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	switch cmd.Action {
	case "scan", "abort":
	case "":
		return cmd, fmt.Errorf("empty command")
	default:
		return cmd, fmt.Errorf("unknown action %q", cmd.Action)
	}
	if cmd.Threshold < 0 || cmd.Threshold > 1 {
		return cmd, fmt.Errorf("threshold %.3f outside [0, 1]", cmd.Threshold)
	}
	if cmd.Iterations < 0 {
		return cmd, fmt.Errorf("negative iterations %d", cmd.Iterations)
	}
	return cmd, nil
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps a provided client, used with MockClient
func newMQTTClientWithMock(client mqtt.Client, prefix string, handler CommandHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		prefix:  prefix,
		handler: handler,
	}
}
