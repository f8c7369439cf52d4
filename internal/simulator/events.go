package simulator

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modsim/internal/journal"
)

// Lifecycle event kinds.
const (
	EventStarting       = "starting"
	EventUp             = "up"
	EventStartFailed    = "start_failed"
	EventStopping       = "stopping"
	EventDown           = "down"
	EventProtocolExited = "protocol_exited"
	EventReset          = "reset"
	EventAPIRequest     = "api_request"
)

// LifecycleChannel is the WebSocket channel lifecycle events are sent on.
const LifecycleChannel = "lifecycle"

// journalTimeout bounds one journal insert.
const journalTimeout = 5 * time.Second

// Event is a lifecycle transition of the simulator.
type Event struct {
	Kind     string         `json:"event"`
	Instance string         `json:"instance"`
	RunID    string         `json:"run_id"`
	Server   string         `json:"server"`
	Device   string         `json:"device"`
	Error    string         `json:"error,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Time     time.Time      `json:"time"`

	cause error
}

// Err returns the error attached to the event, if any.
func (e Event) Err() error {
	if e.cause == nil && e.Error != "" {
		return errors.New(e.Error)
	}
	return e.cause
}

// Sink receives lifecycle events. Publish must not block for long; it is
// called from the lifecycle path.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// broadcaster is satisfied by *api.Hub.
type broadcaster interface {
	Broadcast(channel string, payload any)
}

type hubSink struct {
	hub broadcaster
}

func (s hubSink) Publish(e Event) {
	s.hub.Broadcast(LifecycleChannel, e)
}

// eventPublisher is satisfied by *mqtt.Client.
type eventPublisher interface {
	PublishEvent(kind string, v any) error
}

type mqttSink struct {
	client eventPublisher
	logger *logging.Logger
}

func (s mqttSink) Publish(e Event) {
	if err := s.client.PublishEvent(e.Kind, e); err != nil {
		s.logger.Warn("publishing event to MQTT failed", "event", e.Kind, "error", err)
	}
}

// lifecycleWriter is satisfied by *influxdb.Client.
type lifecycleWriter interface {
	WriteLifecycle(event, server string, cause error)
}

type influxSink struct {
	client lifecycleWriter
}

func (s influxSink) Publish(e Event) {
	s.client.WriteLifecycle(e.Kind, e.Server, e.Err())
}

type journalSink struct {
	repo   journal.Repository
	logger *logging.Logger
}

func (s journalSink) Publish(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	entry := &journal.Entry{
		RunID:     e.RunID,
		Instance:  e.Instance,
		Event:     e.Kind,
		Server:    e.Server,
		Device:    e.Device,
		Error:     e.Error,
		Details:   e.Details,
		CreatedAt: e.Time,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Warn("writing journal entry failed", "event", e.Kind, "error", err)
	}
}
