// Package publish streams live track snapshots and lifecycle events over
// MQTT for dashboards and companion tooling. Publishing is strictly
// best-effort; a broker outage never touches the ingest path.
package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

// Config holds the publisher configuration.
type Config struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
}

// DefaultConfig returns the default publisher configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:     false,
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "ruckd",
		TopicPrefix: "ruck",
		QoS:         1,
	}
}

// Publisher pushes snapshots to <prefix>/track and lifecycle events to
// <prefix>/events.
type Publisher struct {
	mu     sync.Mutex
	cfg    *Config
	logger *logx.Logger

	client    MQTT.Client
	connected bool
}

// NewPublisher creates a publisher. A nil config gets defaults.
func NewPublisher(cfg *Config, logger *logx.Logger) *Publisher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Publisher{cfg: cfg, logger: logger}
}

// Connect establishes the broker connection. Disabled publishers succeed
// without connecting.
func (p *Publisher) Connect() error {
	if !p.cfg.Enabled {
		p.logger.Debug("publisher disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.cfg.Broker, p.cfg.Port))
	opts.SetClientID(p.cfg.ClientID)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()
		p.logger.Info("broker connected", "broker", p.cfg.Broker, "port", p.cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		p.logger.Warn("broker connection lost", "error", err)
	})

	p.client = MQTT.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to broker: %w", token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.mu.Lock()
	client := p.client
	p.connected = false
	p.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

// PublishSnapshot pushes a track snapshot. Failures are logged and dropped.
func (p *Publisher) PublishSnapshot(snap pkg.TrackSnapshot) {
	p.publish("track", snap)
}

// PublishEvent pushes a lifecycle event.
func (p *Publisher) PublishEvent(event pkg.SessionEvent) {
	p.publish("events", event)
}

func (p *Publisher) publish(topic string, payload interface{}) {
	p.mu.Lock()
	client := p.client
	connected := p.connected
	p.mu.Unlock()

	if !p.cfg.Enabled || client == nil || !connected {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal publish payload", "topic", topic, "error", err)
		return
	}

	full := fmt.Sprintf("%s/%s", p.cfg.TopicPrefix, topic)
	token := client.Publish(full, byte(p.cfg.QoS), false, data)
	// Fire and forget with a short wait; the ingest path must never block on
	// the broker.
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		p.logger.Warn("publish failed", "topic", full, "error", token.Error())
	}
}
