package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sensorkit/errors"
	"github.com/c360/sensorkit/natsclient"
	"github.com/c360/sensorkit/sensor"
)

// snapshotEvent is the wire form of a committed snapshot
type snapshotEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	sensor.Snapshot
}

// SnapshotPublisher publishes committed snapshots to NATS, one subject per
// sensor under a common prefix.
type SnapshotPublisher struct {
	client *natsclient.Client
	prefix string
	logger *slog.Logger
}

// NewSnapshotPublisher creates a publisher over an established client
func NewSnapshotPublisher(client *natsclient.Client, prefix string) *SnapshotPublisher {
	return &SnapshotPublisher{
		client: client,
		prefix: prefix,
		logger: slog.Default().With("component", "snapshot-publisher"),
	}
}

// Publish sends one snapshot as a single message
func (p *SnapshotPublisher) Publish(_ context.Context, snapshot sensor.Snapshot) error {
	event := snapshotEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Snapshot:  snapshot,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapHard(err, "SnapshotPublisher", "Publish", "marshal snapshot")
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, snapshot.Name)
	if err := p.client.Publish(subject, data); err != nil {
		return err
	}

	p.logger.Debug("Snapshot published",
		"subject", subject, "value", snapshot.ValueLabel, "event_id", event.EventID)
	return nil
}

var _ sensor.Publisher = (*SnapshotPublisher)(nil)

// LogPublisher writes committed snapshots to the log. Used with the memory
// store backend where no NATS connection exists.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that only logs
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{
		logger: slog.Default().With("component", "log-publisher"),
	}
}

// Publish logs one snapshot
func (p *LogPublisher) Publish(_ context.Context, snapshot sensor.Snapshot) error {
	p.logger.Info("Snapshot committed",
		"sensor", snapshot.Name,
		"value", snapshot.ValueLabel,
		"available", snapshot.Available,
		"attributes", snapshot.Attributes)
	return nil
}

var _ sensor.Publisher = (*LogPublisher)(nil)
