package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Will-Luck/Site-Sentinel/internal/events"
)

const mqttTimeout = 10 * time.Second

// MQTTSettings configures the MQTT notifier.
type MQTTSettings struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      int
}

// MQTT publishes each event as JSON under Topic/<type>.
type MQTT struct {
	cfg MQTTSettings
	qos byte
}

// NewMQTT creates an MQTT notifier. Out-of-range QoS falls back to 0.
func NewMQTT(cfg MQTTSettings) *MQTT {
	q := byte(cfg.QoS)
	if cfg.QoS < 0 || cfg.QoS > 2 {
		q = 0
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "site-sentinel"
	}
	return &MQTT{cfg: cfg, qos: q}
}

func (m *MQTT) Name() string { return "mqtt" }

// Send connects, publishes and disconnects. The broker sees one short
// session per event.
func (m *MQTT) Send(ctx context.Context, evt events.Event) error {
	body, err := json.Marshal(mqttMessage{
		Type:            string(evt.Type),
		Site:            evt.Site,
		Kind:            evt.Kind,
		Component:       evt.Component,
		Version:         evt.Version,
		PreviousVersion: evt.PreviousVersion,
		Message:         evt.Message,
		Timestamp:       evt.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	opts := mqtt.NewClientOptions().
		SetClientID(m.cfg.ClientID).
		AddBroker(m.cfg.Broker).
		SetConnectTimeout(mqttTimeout).
		SetWriteTimeout(mqttTimeout)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer client.Disconnect(250)

	if err := wait(ctx, client.Publish(m.topic(evt.Type), m.qos, false, body)); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (m *MQTT) topic(t events.Type) string {
	return m.cfg.Topic + "/" + string(t)
}

// wait blocks until tok completes, ctx ends, or the timeout passes.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttTimeout):
		return fmt.Errorf("timed out after %s", mqttTimeout)
	}
}

type mqttMessage struct {
	Type            string `json:"type"`
	Site            string `json:"site,omitempty"`
	Kind            string `json:"kind,omitempty"`
	Component       string `json:"component,omitempty"`
	Version         string `json:"version,omitempty"`
	PreviousVersion string `json:"previous_version,omitempty"`
	Message         string `json:"message,omitempty"`
	Timestamp       string `json:"timestamp"`
}
