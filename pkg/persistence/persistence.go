// Package persistence provides the storage abstraction for workflows and their executions.
package persistence

import (
	"context"

	"github.com/dukex/shiftflow/pkg/models"
)

// Persistence stores workflows and executions. Implementations return copies: mutating a value
// returned by the store never changes stored state, and every change goes through a Save call.
type Persistence interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	ActiveWorkflows(ctx context.Context) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	// UpdateWorkflow reads the stored workflow, applies change and saves the result without
	// losing a concurrent write. An error from change aborts the update and is returned as is.
	UpdateWorkflow(ctx context.Context, id string, change func(*models.Workflow) error) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	SaveExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	// ExecutionsByWorkflow returns the executions of a workflow, oldest first.
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
