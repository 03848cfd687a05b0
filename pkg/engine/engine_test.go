package engine_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/shiftflow/pkg/condition"
	"github.com/dukex/shiftflow/pkg/engine"
	"github.com/dukex/shiftflow/pkg/executor"
	"github.com/dukex/shiftflow/pkg/mocks"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/persistence/memory"
	"github.com/dukex/shiftflow/pkg/safe"
	"github.com/dukex/shiftflow/pkg/scheduler"
	"github.com/dukex/shiftflow/pkg/swap"
	"github.com/dukex/shiftflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, gateway engine.SafeGateway) (*engine.Engine, *memory.Persistence, *mocks.MockMonitor) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := memory.NewPersistence()
	monitor := &mocks.MockMonitor{}

	return engine.New(store, monitor, gateway, logger, engine.WithAbortGrace(50*time.Millisecond)), store, monitor
}

func TestEngine_RegisterWorkflow(t *testing.T) {
	t.Parallel()

	e, store, _ := newTestEngine(t, nil)
	ctx := context.Background()

	input := testutil.CreateTestWorkflow(testutil.WithID(""), testutil.WithStatus(""))
	input.ExecutionCount = 4

	registered, err := e.RegisterWorkflow(ctx, input)
	require.NoError(t, err)

	assert.NotEmpty(t, registered.ID)
	assert.Equal(t, models.WorkflowStatusDraft, registered.Status)
	assert.Zero(t, registered.ExecutionCount)
	assert.Empty(t, input.ID, "input must not be mutated")

	stored, err := store.WorkflowByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", stored.Name)
}

func TestEngine_RegisterWorkflow_DuplicateID(t *testing.T) {
	t.Parallel()

	e, store, _ := newTestEngine(t, nil)
	ctx := context.Background()

	existing := testutil.CreateTestWorkflow(testutil.WithID("wf-1"))
	existing.ExecutionCount = 3
	require.NoError(t, store.SaveWorkflow(ctx, existing))

	_, err := e.RegisterWorkflow(ctx, testutil.CreateTestWorkflow(
		testutil.WithID("wf-1"),
		func(w *models.Workflow) { w.Name = "Replacement" },
	))
	require.ErrorIs(t, err, engine.ErrWorkflowExists)
	assert.True(t, engine.IsConflictError(err))

	stored, err := store.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", stored.Name)
	assert.Equal(t, 3, stored.ExecutionCount)
}

func TestEngine_RegisterWorkflow_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		workflow *models.Workflow
		wantErr  error
	}{
		{
			name:     "nil workflow",
			workflow: nil,
			wantErr:  engine.ErrWorkflowNil,
		},
		{
			name:     "completed status",
			workflow: testutil.CreateTestWorkflow(testutil.WithStatus(models.WorkflowStatusCompleted)),
			wantErr:  engine.ErrInvalidStatus,
		},
		{
			name:     "missing name",
			workflow: testutil.CreateTestWorkflow(func(w *models.Workflow) { w.Name = "" }),
			wantErr:  models.ErrInvalidWorkflow,
		},
		{
			name: "bad cron",
			workflow: testutil.CreateTestWorkflow(testutil.WithCondition(&models.TimeBased{
				Schedule:   models.ScheduleCron,
				Expression: "not a cron",
			})),
			wantErr: engine.ErrInvalidCondition,
		},
		{
			name:     "bad expression",
			workflow: testutil.CreateTestWorkflow(testutil.WithCondition(&models.Expression{Expr: "price(("})),
			wantErr:  engine.ErrInvalidCondition,
		},
		{
			name: "bad webhook template",
			workflow: testutil.CreateTestWorkflow(testutil.WithActions(&models.MultiStep{
				Steps: models.ActionList{
					&models.Webhook{URL: "https://example.com/hook", Body: "{{ .workflow.id "},
				},
			})),
			wantErr: engine.ErrInvalidTemplate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, store, _ := newTestEngine(t, nil)

			_, err := e.RegisterWorkflow(context.Background(), tt.workflow)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, engine.IsValidationError(err))

			workflows, err := store.Workflows(context.Background())
			require.NoError(t, err)
			assert.Empty(t, workflows)
		})
	}
}

func TestEngine_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    models.WorkflowStatus
		op      func(*engine.Engine, context.Context, string) (*models.Workflow, error)
		want    models.WorkflowStatus
		wantErr error
	}{
		{name: "activate draft", from: models.WorkflowStatusDraft, op: (*engine.Engine).Activate, want: models.WorkflowStatusActive},
		{name: "activate active", from: models.WorkflowStatusActive, op: (*engine.Engine).Activate, want: models.WorkflowStatusActive},
		{name: "activate completed", from: models.WorkflowStatusCompleted, op: (*engine.Engine).Activate, wantErr: engine.ErrInvalidTransition},
		{name: "pause active", from: models.WorkflowStatusActive, op: (*engine.Engine).Pause, want: models.WorkflowStatusPaused},
		{name: "pause paused", from: models.WorkflowStatusPaused, op: (*engine.Engine).Pause, want: models.WorkflowStatusPaused},
		{name: "pause draft", from: models.WorkflowStatusDraft, op: (*engine.Engine).Pause, wantErr: engine.ErrInvalidTransition},
		{name: "resume paused", from: models.WorkflowStatusPaused, op: (*engine.Engine).Resume, want: models.WorkflowStatusActive},
		{name: "resume active", from: models.WorkflowStatusActive, op: (*engine.Engine).Resume, want: models.WorkflowStatusActive},
		{name: "resume failed", from: models.WorkflowStatusFailed, op: (*engine.Engine).Resume, wantErr: engine.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, store, _ := newTestEngine(t, nil)
			ctx := context.Background()

			require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow(
				testutil.WithID("wf-1"),
				testutil.WithStatus(tt.from),
			)))

			workflow, err := tt.op(e, ctx, "wf-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, engine.IsConflictError(err))

				stored, err := store.WorkflowByID(ctx, "wf-1")
				require.NoError(t, err)
				assert.Equal(t, tt.from, stored.Status)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, workflow.Status)
		})
	}
}

func TestEngine_Transition_NotFound(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)

	_, err := e.Pause(context.Background(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestEngine_ListWorkflows(t *testing.T) {
	t.Parallel()

	e, store, _ := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow(testutil.WithID("wf-1"))))
	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow(
		testutil.WithID("wf-2"),
		func(w *models.Workflow) { w.Owner = "alice" },
	)))

	all, err := e.ListWorkflows(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	owned, err := e.ListWorkflows(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "wf-2", owned[0].ID)
}

func TestEngine_DeleteKeepsExecutions(t *testing.T) {
	t.Parallel()

	e, store, _ := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow(testutil.WithID("wf-1"))))

	execution := models.NewExecution("wf-1", time.Now())
	require.NoError(t, store.SaveExecution(ctx, execution))

	require.NoError(t, e.Delete(ctx, "wf-1"))

	_, err := e.GetWorkflow(ctx, "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	executions, err := e.GetWorkflowExecutions(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)

	loaded, err := e.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", loaded.WorkflowID)
}

func TestEngine_Monitoring(t *testing.T) {
	t.Parallel()

	e, _, monitor := newTestEngine(t, nil)
	ctx := context.Background()

	monitor.On("Start", ctx, 5*time.Second).Once()
	monitor.On("Running").Return(true).Once()
	monitor.On("Stop").Once()

	e.StartMonitoring(ctx, 5*time.Second)
	assert.True(t, e.Monitoring())
	e.StopMonitoring()

	monitor.AssertExpectations(t)
}

func TestEngine_Shutdown(t *testing.T) {
	t.Parallel()

	t.Run("waits for executions", func(t *testing.T) {
		t.Parallel()

		e, _, monitor := newTestEngine(t, nil)

		monitor.On("Stop").Once()
		monitor.On("Wait").Once()

		require.NoError(t, e.Shutdown(context.Background()))
		monitor.AssertExpectations(t)
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		t.Parallel()

		e, _, monitor := newTestEngine(t, nil)

		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		monitor.On("Stop").Once()
		monitor.On("Wait").Run(func(mock.Arguments) { <-release }).Once()
		monitor.On("Abort").Once()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := e.Shutdown(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "still running")
		monitor.AssertExpectations(t)
	})

	t.Run("aborts executions when the context ends", func(t *testing.T) {
		t.Parallel()

		e, _, monitor := newTestEngine(t, nil)

		aborted := make(chan struct{})

		monitor.On("Stop").Once()
		monitor.On("Wait").Run(func(mock.Arguments) { <-aborted }).Once()
		monitor.On("Abort").Run(func(mock.Arguments) { close(aborted) }).Once()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := e.Shutdown(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "aborted")
		monitor.AssertExpectations(t)
	})
}

type satisfiedEvaluator struct{}

func (satisfiedEvaluator) Evaluate(context.Context, models.Condition) *condition.Result {
	return &condition.Result{Satisfied: true}
}

func TestEngine_Shutdown_FailsPendingSwap(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow(
		testutil.WithID("wf-swap"),
		testutil.WithActions(testutil.CreateTestSwap()),
	)))

	var once sync.Once

	polled := make(chan struct{})

	provider := &mocks.MockSwapProvider{}
	provider.On("RequestQuote", mock.Anything, mock.Anything).
		Return(&models.Quote{ID: "quote-1", SettleAmount: "0.0005"}, nil)
	provider.On("CreateFixedShift", mock.Anything, mock.Anything).
		Return(&models.Shift{ID: "shift-1", DepositAddress: "0xdeposit", Status: models.ShiftStatusWaiting}, nil)
	provider.On("Shift", mock.Anything, "shift-1").
		Run(func(mock.Arguments) { once.Do(func() { close(polled) }) }).
		Return(&models.Shift{ID: "shift-1", Status: models.ShiftStatusWaiting}, nil)

	orchestrator := swap.NewOrchestrator(provider, swap.Config{
		PollInterval:  10 * time.Millisecond,
		Timeout:       time.Hour,
		MaxPollErrors: 3,
	}, nil, logger)

	runner := executor.NewExecutor(executor.Options{
		Swapper: orchestrator,
		Store:   store,
		Logger:  logger,
	})

	sched := scheduler.New(store, satisfiedEvaluator{}, runner, nil, scheduler.Config{}, logger)
	e := engine.New(store, sched, nil, logger, engine.WithAbortGrace(2*time.Second))

	e.StartMonitoring(ctx, time.Hour)

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("shift was never polled")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := e.Shutdown(shutdownCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "aborted")

	executions, err := store.ExecutionsByWorkflow(ctx, "wf-swap")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusFailed, executions[0].Status)
	assert.NotEmpty(t, executions[0].Error)

	workflow, err := store.WorkflowByID(ctx, "wf-swap")
	require.NoError(t, err)
	assert.Zero(t, workflow.ExecutionCount)
	assert.NotNil(t, workflow.LastExecutedAt)
}

func TestEngine_SafeTransactions(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()

		e, _, _ := newTestEngine(t, nil)

		_, err := e.ExecuteSafeTransaction(context.Background(), "0xabc")
		require.ErrorIs(t, err, engine.ErrSafeNotConfigured)

		_, err = e.SafeTransactionStatus(context.Background(), "0xabc")
		require.ErrorIs(t, err, engine.ErrSafeNotConfigured)
	})

	t.Run("delegates to the gateway", func(t *testing.T) {
		t.Parallel()

		gateway := &mocks.MockSafeGateway{}
		e, _, _ := newTestEngine(t, gateway)
		ctx := context.Background()

		gateway.On("ExecuteTransaction", ctx, "0xabc").Return("0xreceipt", nil).Once()
		gateway.On("Status", ctx, "0xabc").Return(&safe.Status{
			SafeTxHash:    "0xabc",
			Confirmations: 2,
			Threshold:     2,
			CanExecute:    true,
		}, nil).Once()

		receipt, err := e.ExecuteSafeTransaction(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, "0xreceipt", receipt)

		status, err := e.SafeTransactionStatus(ctx, "0xabc")
		require.NoError(t, err)
		assert.True(t, status.CanExecute)

		gateway.AssertExpectations(t)
	})

	t.Run("insufficient confirmations", func(t *testing.T) {
		t.Parallel()

		gateway := &mocks.MockSafeGateway{}
		e, _, _ := newTestEngine(t, gateway)

		gateway.On("ExecuteTransaction", mock.Anything, "0xabc").
			Return("", &safe.InsufficientConfirmationsError{Confirmations: 1, Threshold: 2}).Once()

		_, err := e.ExecuteSafeTransaction(context.Background(), "0xabc")
		assert.True(t, safe.IsInsufficientConfirmations(err))
	})
}

func TestEngine_HealthCheck(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, nil)

	message, ok := e.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}
