package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/persistence/memory"
	"github.com/dukex/shiftflow/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence(t *testing.T) {
	t.Parallel()

	persistencetest.Run(t, func(*testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}

func TestPersistence_ExecutionStepsAreCopied(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	execution := models.NewExecution("wf-1", time.Now())
	execution.Start()
	step := execution.AppendStep(models.StepQuoteRequest, time.Now())
	step.Data["polls"] = 3

	require.NoError(t, store.SaveExecution(ctx, execution))

	step.Data["polls"] = 99
	step.Status = models.StepStatusFailed

	loaded, err := store.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Steps[0].Data["polls"])
	assert.Equal(t, models.StepStatusExecuting, loaded.Steps[0].Status)
}

func TestPersistence_RejectsEmptyID(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()

	err := store.SaveWorkflow(context.Background(), &models.Workflow{})
	require.ErrorIs(t, err, persistence.ErrInvalidID)

	err = store.SaveExecution(context.Background(), &models.Execution{})
	require.ErrorIs(t, err, persistence.ErrInvalidID)
}
