package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"karavan/internal/status"
)

// Topic names a stream of events.
type Topic string

// Status topics carry a JSON encoded status.ContainerStatus.
const (
	TopicContainerCreated  Topic = "container-created"
	TopicContainerUpdated  Topic = "container-updated"
	TopicContainerDeleted  Topic = "container-deleted"
	TopicStatisticsUpdated Topic = "statistics-updated"
)

// Workload topics carry a JSON encoded status.DeploymentStatus or
// status.ServiceStatus.
const (
	TopicDeploymentUpdated Topic = "deployment-updated"
	TopicDeploymentDeleted Topic = "deployment-deleted"
	TopicServiceUpdated    Topic = "service-updated"
	TopicServiceDeleted    Topic = "service-deleted"
)

// Command topics carry a JSON encoded Command.
const (
	TopicRunCommand    Topic = "cmd-run-devmode"
	TopicReloadCommand Topic = "cmd-reload-project-code"
	TopicDeleteCommand Topic = "cmd-delete-container"
)

// Event is a single message on the bus.
type Event struct {
	// ID is unique per published event.
	ID string

	Topic Topic

	// Key groups events for ordered delivery, usually the project id.
	Key string

	Data []byte

	Timestamp time.Time
}

// Command is the payload of command topics.
type Command struct {
	ProjectID string `json:"projectId"`
	Env       string `json:"env,omitempty"`
}

// Handler consumes an event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, ev Event) error

// Publisher is the producing side of the bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NewEvent builds an event with a fresh ID.
func NewEvent(topic Topic, key string, data []byte) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Key:       key,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewRecordEvent serializes rec into an event keyed by its project.
func NewRecordEvent(topic Topic, rec status.ContainerStatus) (Event, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s: %w", rec.Key(), err)
	}
	return NewEvent(topic, rec.ProjectID, data), nil
}

// NewCommandEvent builds a command event keyed by the command's project.
func NewCommandEvent(topic Topic, cmd Command) Event {
	// Command has only string fields, Marshal cannot fail
	data, _ := json.Marshal(cmd)
	return NewEvent(topic, cmd.ProjectID, data)
}

// Record decodes a status topic payload.
func (e Event) Record() (status.ContainerStatus, error) {
	var rec status.ContainerStatus
	if err := json.Unmarshal(e.Data, &rec); err != nil {
		return status.ContainerStatus{}, fmt.Errorf("event %s on %s does not carry a status record: %w", e.ID, e.Topic, err)
	}
	return rec, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("event %s on %s does not carry a %T: %w", e.ID, e.Topic, v, err)
	}
	return nil
}

// Command decodes a command topic payload.
func (e Event) Command() (Command, error) {
	var cmd Command
	if err := json.Unmarshal(e.Data, &cmd); err != nil {
		return Command{}, fmt.Errorf("event %s on %s does not carry a command: %w", e.ID, e.Topic, err)
	}
	return cmd, nil
}

// PublishRecord encodes rec and publishes it on topic.
func PublishRecord(ctx context.Context, p Publisher, topic Topic, rec status.ContainerStatus) error {
	ev, err := NewRecordEvent(topic, rec)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ev)
}

// PublishJSON encodes v and publishes it on topic under key.
func PublishJSON(ctx context.Context, p Publisher, topic Topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return p.Publish(ctx, NewEvent(topic, key, data))
}
