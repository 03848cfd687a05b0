// Package persistencetest holds the behaviour every persistence implementation must share.
package persistencetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises the workflow and execution contracts against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("workflow round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lastFired := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
		workflow := testutil.CreateTestWorkflow(
			testutil.WithMaxExecutions(3),
			testutil.WithCondition(&models.CompositeAnd{Children: models.ConditionList{
				&models.GasThreshold{Network: "ethereum", Comparison: models.ComparisonBelow, Threshold: 20},
				&models.TimeBased{Schedule: models.ScheduleDaily, LastFired: &lastFired},
			}}),
			testutil.WithActions(testutil.CreateTestSwap()),
		)

		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		loaded, err := store.WorkflowByID(ctx, workflow.ID)
		require.NoError(t, err)

		assert.Equal(t, workflow.Name, loaded.Name)
		assert.Equal(t, workflow.Status, loaded.Status)
		require.NotNil(t, loaded.MaxExecutions)
		assert.Equal(t, 3, *loaded.MaxExecutions)

		and, ok := loaded.Condition.(*models.CompositeAnd)
		require.True(t, ok)
		require.Len(t, and.Children, 2)

		timeBased, ok := and.Children[1].(*models.TimeBased)
		require.True(t, ok)
		require.NotNil(t, timeBased.LastFired)
		assert.True(t, lastFired.Equal(*timeBased.LastFired))

		swap, ok := loaded.Actions[0].(*models.CrossChainSwap)
		require.True(t, ok)
		assert.Equal(t, "0.01", swap.Amount)
	})

	t.Run("returned workflows are copies", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		workflow := testutil.CreateTestWorkflow()
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		workflow.Name = "changed after save"

		loaded, err := store.WorkflowByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, "Test Workflow", loaded.Name)

		loaded.ExecutionCount = 42

		again, err := store.WorkflowByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, again.ExecutionCount)
	})

	t.Run("active workflows", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		active := testutil.CreateTestWorkflow()
		paused := testutil.CreateTestWorkflow(testutil.WithStatus(models.WorkflowStatusPaused))
		draft := testutil.CreateTestWorkflow(testutil.WithStatus(models.WorkflowStatusDraft))

		for _, workflow := range []*models.Workflow{active, paused, draft} {
			require.NoError(t, store.SaveWorkflow(ctx, workflow))
		}

		all, err := store.Workflows(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		running, err := store.ActiveWorkflows(ctx)
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, active.ID, running[0].ID)
	})

	t.Run("missing workflow", func(t *testing.T) {
		store := newStore(t)

		_, err := store.WorkflowByID(context.Background(), "does-not-exist")
		require.Error(t, err)
		assert.True(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("delete workflow", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		workflow := testutil.CreateTestWorkflow()
		require.NoError(t, store.SaveWorkflow(ctx, workflow))
		require.NoError(t, store.DeleteWorkflow(ctx, workflow.ID))

		_, err := store.WorkflowByID(ctx, workflow.ID)
		assert.True(t, persistence.IsWorkflowNotFound(err))

		err = store.DeleteWorkflow(ctx, workflow.ID)
		assert.True(t, errors.Is(err, persistence.ErrWorkflowNotFound))
	})

	t.Run("update workflow", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		workflow := testutil.CreateTestWorkflow()
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		updated, err := store.UpdateWorkflow(ctx, workflow.ID, func(latest *models.Workflow) error {
			latest.Status = models.WorkflowStatusPaused

			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusPaused, updated.Status)

		loaded, err := store.WorkflowByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusPaused, loaded.Status)
	})

	t.Run("update workflow aborted by change", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		workflow := testutil.CreateTestWorkflow()
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		refused := errors.New("refused")

		_, err := store.UpdateWorkflow(ctx, workflow.ID, func(latest *models.Workflow) error {
			latest.Name = "never saved"

			return refused
		})
		require.ErrorIs(t, err, refused)

		loaded, err := store.WorkflowByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, "Test Workflow", loaded.Name)
	})

	t.Run("update missing workflow", func(t *testing.T) {
		store := newStore(t)

		_, err := store.UpdateWorkflow(context.Background(), "does-not-exist", func(*models.Workflow) error {
			return nil
		})
		assert.True(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("concurrent updates are not lost", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		workflow := testutil.CreateTestWorkflow()
		require.NoError(t, store.SaveWorkflow(ctx, workflow))

		const writers = 8

		var wg sync.WaitGroup

		for range writers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := store.UpdateWorkflow(ctx, workflow.ID, func(latest *models.Workflow) error {
					latest.ExecutionCount++

					return nil
				})
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		loaded, err := store.WorkflowByID(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, writers, loaded.ExecutionCount)
	})

	t.Run("execution round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		started := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		execution := models.NewExecution("wf-1", started)
		execution.Start()

		step := execution.AppendStep(models.StepShiftMonitor, started)
		step.Status = models.StepStatusTimeout
		step.Data["shift_id"] = "shift-1"
		step.Error = "shift monitoring timed out"
		execution.TimedOut = true
		execution.Fail(errors.New("shift monitoring timed out"), started.Add(time.Minute))

		require.NoError(t, store.SaveExecution(ctx, execution))

		loaded, err := store.ExecutionByID(ctx, execution.ID)
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, loaded.Status)
		assert.True(t, loaded.TimedOut)
		assert.Equal(t, "shift monitoring timed out", loaded.Error)
		require.NotNil(t, loaded.CompletedAt)
		assert.True(t, started.Add(time.Minute).Equal(*loaded.CompletedAt))
		require.Len(t, loaded.Steps, 1)
		assert.Equal(t, models.StepStatusTimeout, loaded.Steps[0].Status)
		assert.Equal(t, "shift-1", loaded.Steps[0].Data["shift_id"])
	})

	t.Run("saving an execution replaces it", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		execution := models.NewExecution("wf-1", time.Now().UTC())
		execution.Start()
		require.NoError(t, store.SaveExecution(ctx, execution))

		execution.AppendStep(models.StepNotification, time.Now().UTC())
		execution.Complete(time.Now().UTC())
		require.NoError(t, store.SaveExecution(ctx, execution))

		loaded, err := store.ExecutionByID(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
		assert.Len(t, loaded.Steps, 1)
	})

	t.Run("executions by workflow", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		second := models.NewExecution("wf-1", base.Add(time.Hour))
		first := models.NewExecution("wf-1", base)
		other := models.NewExecution("wf-2", base)

		for _, execution := range []*models.Execution{second, first, other} {
			require.NoError(t, store.SaveExecution(ctx, execution))
		}

		executions, err := store.ExecutionsByWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, executions, 2)
		assert.Equal(t, first.ID, executions[0].ID)
		assert.Equal(t, second.ID, executions[1].ID)

		none, err := store.ExecutionsByWorkflow(ctx, "wf-unknown")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("missing execution", func(t *testing.T) {
		store := newStore(t)

		_, err := store.ExecutionByID(context.Background(), "exec-missing")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)

		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}
