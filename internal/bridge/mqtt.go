package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/your-org/peoplecounter/internal/config"
	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/observability"
)

// MQTTBridge publishes crossing events to an MQTT topic, QoS 1.
type MQTTBridge struct {
	client mqtt.Client
	topic  string
}

func NewMQTTBridge(cfg config.MQTTConfig) (*MQTTBridge, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "people-counter"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", err)
	}

	return &MQTTBridge{client: client, topic: cfg.Topic}, nil
}

// Publish sends one crossing event. The context bounds the delivery wait.
func (b *MQTTBridge) Publish(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	token := b.client.Publish(b.topic, 1, false, payload)
	wait := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < wait {
			wait = d
		}
	}
	if !token.WaitTimeout(wait) {
		observability.BridgePublishFailures.WithLabelValues("mqtt").Inc()
		return fmt.Errorf("publish event: timeout")
	}
	if err := token.Error(); err != nil {
		observability.BridgePublishFailures.WithLabelValues("mqtt").Inc()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *MQTTBridge) Ping() error {
	if !b.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	return nil
}

func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}
