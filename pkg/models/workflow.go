// Package models defines the core domain models for condition-triggered swap workflows.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, never checked
	WorkflowStatusActive    WorkflowStatus = "active"    // Checked on every scheduler tick
	WorkflowStatusPaused    WorkflowStatus = "paused"    // Kept, not checked
	WorkflowStatusCompleted WorkflowStatus = "completed" // Max executions reached
	WorkflowStatusFailed    WorkflowStatus = "failed"    // Structurally broken, never checked again
)

// Workflow pairs a condition tree with the ordered actions to run when it holds.
type Workflow struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"                      validate:"required,min=3"`
	Description    string         `json:"description"`
	Owner          string         `json:"owner"                     validate:"required"`
	Condition      Condition      `json:"-"                         validate:"required"`
	Actions        ActionList     `json:"actions"                   validate:"required,min=1"`
	Status         WorkflowStatus `json:"status"                    validate:"required,oneof=draft active paused completed failed"`
	ExecutionCount int            `json:"execution_count"           validate:"gte=0"`
	MaxExecutions  *int           `json:"max_executions,omitempty"  validate:"omitempty,gte=1"`
	LastCheckedAt  *time.Time     `json:"last_checked_at,omitempty"`
	LastExecutedAt *time.Time     `json:"last_executed_at,omitempty"`
	SafeAddress    string         `json:"safe_address,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ReachedMaxExecutions reports whether the workflow has used up its execution budget.
func (w *Workflow) ReachedMaxExecutions() bool {
	return w.MaxExecutions != nil && w.ExecutionCount >= *w.MaxExecutions
}

// UsesSafe reports whether swap actions of this workflow are routed through a multi-sig wallet.
func (w *Workflow) UsesSafe() bool {
	return w.SafeAddress != ""
}

type workflowAlias Workflow

type workflowJSON struct {
	*workflowAlias

	Condition json.RawMessage `json:"condition"`
}

// MarshalJSON encodes the workflow with its condition tree as a typed envelope.
func (w Workflow) MarshalJSON() ([]byte, error) {
	alias := workflowAlias(w)

	encoded := workflowJSON{workflowAlias: &alias}

	if w.Condition != nil {
		condition, err := MarshalCondition(w.Condition)
		if err != nil {
			return nil, err
		}

		encoded.Condition = condition
	}

	return json.Marshal(encoded)
}

// UnmarshalJSON decodes a workflow, resolving its condition envelope into a concrete variant.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	decoded := workflowJSON{workflowAlias: (*workflowAlias)(w)}

	err := json.Unmarshal(data, &decoded)
	if err != nil {
		return err
	}

	if len(decoded.Condition) == 0 || string(decoded.Condition) == "null" {
		w.Condition = nil

		return nil
	}

	condition, err := UnmarshalCondition(decoded.Condition)
	if err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}

	w.Condition = condition

	return nil
}

// Clone returns a deep copy of the workflow, sharing no mutable state with the receiver.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow %s: %w", w.ID, err)
	}

	var clone Workflow

	err = json.Unmarshal(data, &clone)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", w.ID, err)
	}

	return &clone, nil
}
