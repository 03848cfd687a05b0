package postgresql_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/persistence/postgresql"
	"github.com/dukex/shiftflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return db, mock
}

func TestWorkflowRepository_Save(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewWorkflowRepository(db, newTestLogger())

	workflow := testutil.CreateTestWorkflow(testutil.WithID("wf-1"))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workflows")).
		WithArgs("wf-1", "Test Workflow", "test-user", "active", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Save(context.Background(), workflow))
	assert.False(t, workflow.UpdatedAt.IsZero())
}

func TestWorkflowRepository_GetByID(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewWorkflowRepository(db, newTestLogger())

	document, err := json.Marshal(testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM workflows WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(document))

	workflow, err := repo.GetByID(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", workflow.ID)

	price, ok := workflow.Condition.(*models.PriceThreshold)
	require.True(t, ok)
	assert.Equal(t, "ETH", price.Token)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewWorkflowRepository(db, newTestLogger())

	mock.ExpectQuery("SELECT document FROM workflows").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_Update(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewWorkflowRepository(db, newTestLogger())

	document, err := json.Marshal(testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND deleted_at IS NULL FOR UPDATE")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(document))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workflows")).
		WithArgs("wf-1", "Test Workflow", "test-user", "paused", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	workflow, err := repo.Update(context.Background(), "wf-1", func(w *models.Workflow) error {
		w.Status = models.WorkflowStatusPaused

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, workflow.Status)
}

func TestWorkflowRepository_Update_RollsBack(t *testing.T) {
	t.Parallel()

	refused := errors.New("refused")

	tests := []struct {
		name   string
		rows   *sqlmock.Rows
		change func(*models.Workflow) error
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing workflow",
			change: func(*models.Workflow) error { return nil },
			check: func(t *testing.T, err error) {
				t.Helper()
				assert.True(t, persistence.IsWorkflowNotFound(err))
			},
		},
		{
			name:   "change refused",
			rows:   sqlmock.NewRows([]string{"document"}),
			change: func(*models.Workflow) error { return refused },
			check: func(t *testing.T, err error) {
				t.Helper()
				assert.ErrorIs(t, err, refused)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMockDB(t)
			repo := postgresql.NewWorkflowRepository(db, newTestLogger())

			mock.ExpectBegin()

			query := mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs("wf-1")
			if tt.rows == nil {
				query.WillReturnError(sql.ErrNoRows)
			} else {
				document, err := json.Marshal(testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
				require.NoError(t, err)
				query.WillReturnRows(tt.rows.AddRow(document))
			}

			mock.ExpectRollback()

			_, err := repo.Update(context.Background(), "wf-1", tt.change)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestWorkflowRepository_GetByStatus(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewWorkflowRepository(db, newTestLogger())

	first, err := json.Marshal(testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.NoError(t, err)

	second, err := json.Marshal(testutil.CreateTestWorkflow(testutil.WithID("wf-2")))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND deleted_at IS NULL")).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(first).AddRow(second))

	workflows, err := repo.GetByStatus(context.Background(), models.WorkflowStatusActive)
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "wf-2", workflows[1].ID)
}

func TestWorkflowRepository_GetAll_QueryError(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewWorkflowRepository(db, newTestLogger())

	mock.ExpectQuery("SELECT document FROM workflows").WillReturnError(errors.New("connection refused"))

	_, err := repo.GetAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query workflows")
}

func TestWorkflowRepository_Delete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		affected int64
		notFound bool
	}{
		{name: "soft deletes", affected: 1},
		{name: "missing workflow", affected: 0, notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMockDB(t)
			repo := postgresql.NewWorkflowRepository(db, newTestLogger())

			mock.ExpectExec(regexp.QuoteMeta("UPDATE workflows SET deleted_at = $2")).
				WithArgs("wf-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.Delete(context.Background(), "wf-1")
			if tt.notFound {
				assert.True(t, persistence.IsWorkflowNotFound(err))

				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestExecutionRepository_SaveAndLoad(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewExecutionRepository(db, newTestLogger())

	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	execution := models.NewExecution("wf-1", started)
	execution.Start()
	execution.TimedOut = true
	execution.Fail(errors.New("shift monitoring timed out"), started.Add(time.Minute))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executions")).
		WithArgs(execution.ID, "wf-1", "failed", true, sqlmock.AnyArg(), started, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Save(context.Background(), execution))

	document, err := json.Marshal(execution)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM executions WHERE id = $1")).
		WithArgs(execution.ID).
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(document))

	loaded, err := repo.GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.True(t, loaded.TimedOut)
	assert.Equal(t, models.ExecutionStatusFailed, loaded.Status)
}

func TestExecutionRepository_GetByID_NotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewExecutionRepository(db, newTestLogger())

	mock.ExpectQuery("SELECT document FROM executions").WithArgs("exec-missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "exec-missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_GetByWorkflow(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := postgresql.NewExecutionRepository(db, newTestLogger())

	first, err := json.Marshal(models.NewExecution("wf-1", time.Now()))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE workflow_id = $1 ORDER BY started_at ASC")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(first))

	executions, err := repo.GetByWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}
