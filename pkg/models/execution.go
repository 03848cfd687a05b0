package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the state of one run of a workflow's actions.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusExecuting ExecutionStatus = "executing"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepKind identifies what an execution step recorded.
type StepKind string

const (
	StepConditionCheck StepKind = "condition_check"
	StepQuoteRequest   StepKind = "quote_request"
	StepShiftCreate    StepKind = "shift_create"
	StepShiftMonitor   StepKind = "shift_monitor"
	StepSafePropose    StepKind = "safe_propose"
	StepNotification   StepKind = "notification"
	StepWebhook        StepKind = "webhook"
	StepUnknown        StepKind = "unknown"
)

// StepStatus represents the state of a single execution step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusTimeout   StepStatus = "timeout" // gave up waiting, the operation may still finish out-of-band
)

// ExecutionStep records one unit of work inside an execution.
type ExecutionStep struct {
	ID        string         `json:"id"`
	Kind      StepKind       `json:"kind"`
	Status    StepStatus     `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Succeeded reports whether the step completed.
func (s *ExecutionStep) Succeeded() bool {
	return s.Status == StepStatusCompleted
}

// Execution is one concrete run of a workflow's actions, triggered by one condition-met event.
type Execution struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	Status      ExecutionStatus  `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
	TimedOut    bool             `json:"timed_out,omitempty"`
	Steps       []*ExecutionStep `json:"steps"`
}

// NewExecution creates a pending execution for a workflow.
func NewExecution(workflowID string, now time.Time) *Execution {
	return &Execution{
		ID:         "exec-" + uuid.New().String(),
		WorkflowID: workflowID,
		Status:     ExecutionStatusPending,
		StartedAt:  now,
		Steps:      []*ExecutionStep{},
	}
}

// IsTerminal reports whether the execution can no longer change.
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// Start moves a pending execution to executing.
func (e *Execution) Start() {
	if e.Status == ExecutionStatusPending {
		e.Status = ExecutionStatusExecuting
	}
}

// AppendStep adds a new executing step. Steps can only be appended while the execution runs.
func (e *Execution) AppendStep(kind StepKind, now time.Time) *ExecutionStep {
	step := &ExecutionStep{
		ID:        "step-" + uuid.New().String()[:8],
		Kind:      kind,
		Status:    StepStatusExecuting,
		Data:      map[string]any{},
		Timestamp: now,
	}

	if e.IsTerminal() {
		return step
	}

	e.Steps = append(e.Steps, step)

	return step
}

// Complete marks the execution completed.
func (e *Execution) Complete(now time.Time) {
	if e.IsTerminal() {
		return
	}

	e.Status = ExecutionStatusCompleted
	e.CompletedAt = &now
}

// Fail marks the execution failed with err.
func (e *Execution) Fail(err error, now time.Time) {
	if e.IsTerminal() {
		return
	}

	e.Status = ExecutionStatusFailed
	e.CompletedAt = &now

	if err != nil {
		e.Error = err.Error()
	}
}

// StepsOfKind returns the recorded steps of the given kind, in order.
func (e *Execution) StepsOfKind(kind StepKind) []*ExecutionStep {
	var steps []*ExecutionStep

	for _, step := range e.Steps {
		if step.Kind == kind {
			steps = append(steps, step)
		}
	}

	return steps
}

// Clone returns a copy that shares no steps or step data with e.
func (e *Execution) Clone() *Execution {
	clone := *e

	if e.CompletedAt != nil {
		completedAt := *e.CompletedAt
		clone.CompletedAt = &completedAt
	}

	clone.Steps = make([]*ExecutionStep, len(e.Steps))

	for i, step := range e.Steps {
		stepCopy := *step
		stepCopy.Data = make(map[string]any, len(step.Data))

		for key, value := range step.Data {
			stepCopy.Data[key] = value
		}

		clone.Steps[i] = &stepCopy
	}

	return &clone
}
