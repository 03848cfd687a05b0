package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		t.Parallel()

		workflowErr := persistence.NewWorkflowError("WorkflowByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("ExecutionByID", "exec-456", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.False(t, persistence.IsExecutionNotFound(workflowErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionNotFound))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		t.Parallel()

		err := persistence.NewWorkflowError("SaveWorkflow", "workflow-123", persistence.ErrInvalidID)

		assert.Contains(t, err.Error(), "SaveWorkflow")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "invalid id")
	})

	t.Run("execution error contains context", func(t *testing.T) {
		t.Parallel()

		err := persistence.NewExecutionError("ExecutionByID", "exec-456", persistence.ErrExecutionNotFound)

		assert.Contains(t, err.Error(), "ExecutionByID")
		assert.Contains(t, err.Error(), "exec-456")
		assert.Contains(t, err.Error(), "execution not found")
	})
}
