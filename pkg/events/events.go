// Package events defines the execution lifecycle events published on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every shiftflow event.
const Topic = "shiftflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent      EventType = "execution.started"
	ExecutionCompletedEvent    EventType = "execution.completed"
	ExecutionFailedEvent       EventType = "execution.failed"
	NotificationRequestedEvent EventType = "notification.requested"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Steps       int           `json:"steps"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Error       string        `json:"error"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Steps       int           `json:"steps"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// NotificationRequested is emitted by notification actions on the event channel.
type NotificationRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Message     string `json:"message"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
