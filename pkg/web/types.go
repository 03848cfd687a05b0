// Package web provides HTTP request and response types for the shiftflow API.
package web

import (
	"time"

	"github.com/dukex/shiftflow/pkg/models"
)

// ListWorkflowsQuery filters the workflow listing.
type ListWorkflowsQuery struct {
	Owner  string `query:"owner"  validate:"omitempty,max=128"`
	Status string `query:"status" validate:"omitempty,oneof=draft active paused completed failed"`
}

// ExecutionSummary is the listing view of an execution, without step data.
type ExecutionSummary struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      models.ExecutionStatus `json:"status"`
	Steps       int                    `json:"steps"`
	TimedOut    bool                   `json:"timed_out"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// SafeExecuteResponse carries the receipt of an executed multi-sig transaction.
type SafeExecuteResponse struct {
	SafeTxHash  string `json:"safe_tx_hash"`
	ReceiptHash string `json:"receipt_hash"`
}

func TransformExecutionSummary(execution *models.Execution) ExecutionSummary {
	return ExecutionSummary{
		ID:          execution.ID,
		WorkflowID:  execution.WorkflowID,
		Status:      execution.Status,
		Steps:       len(execution.Steps),
		TimedOut:    execution.TimedOut,
		Error:       execution.Error,
		StartedAt:   execution.StartedAt,
		CompletedAt: execution.CompletedAt,
	}
}
