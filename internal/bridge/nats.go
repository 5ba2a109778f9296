// Package bridge forwards counted crossings to external systems. Bridges are
// optional and best-effort: a failed publish is logged and counted, never
// retried on the worker's hot path.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/observability"
)

const (
	eventsStreamName = "PC_EVENTS"
	publishTimeout   = 3 * time.Second
)

// NATSBridge publishes crossing events to a JetStream stream.
type NATSBridge struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

func NewNATSBridge(url, subject string) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NATSBridge{nc: nc, js: js, subject: subject}, nil
}

// EnsureStream creates the crossing-event stream if it doesn't exist.
func (b *NATSBridge) EnsureStream(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := b.js.CreateOrUpdateStream(opCtx, jetstream.StreamConfig{
		Name:        eventsStreamName,
		Subjects:    []string{b.subject},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "People counter crossing events",
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", eventsStreamName, err)
	}
	slog.Info("ensured NATS stream", "name", eventsStreamName, "subject", b.subject)
	return nil
}

// Publish sends one crossing event. Failures are reported to the caller and
// the failure metric; they never abort counting.
func (b *NATSBridge) Publish(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := b.js.Publish(opCtx, b.subject, payload); err != nil {
		observability.BridgePublishFailures.WithLabelValues("nats").Inc()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *NATSBridge) Ping() error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (b *NATSBridge) Close() {
	b.nc.Close()
}
