// Package engine is the command surface of shiftflow: workflow registration and lifecycle,
// monitoring control, execution lookup and multi-sig execution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/shiftflow/pkg/actions/webhook"
	"github.com/dukex/shiftflow/pkg/condition"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/safe"
	"github.com/google/uuid"
)

// DefaultAbortGrace is how long Shutdown waits for aborted executions to record their failure.
const DefaultAbortGrace = 5 * time.Second

// Monitor is the scheduling loop.
type Monitor interface {
	Start(ctx context.Context, interval time.Duration)
	Stop()
	Wait()
	// Abort cancels the executions still running.
	Abort()
	Running() bool
}

// SafeGateway executes approved multi-sig transactions.
type SafeGateway interface {
	ExecuteTransaction(ctx context.Context, safeTxHash string) (string, error)
	Status(ctx context.Context, safeTxHash string) (*safe.Status, error)
}

// Engine ties the store, the scheduler and the multi-sig gateway together. The gateway is
// optional.
type Engine struct {
	store      persistence.Persistence
	monitor    Monitor
	safe       SafeGateway
	abortGrace time.Duration
	logger     *slog.Logger
}

type Option func(*Engine)

// WithAbortGrace overrides DefaultAbortGrace.
func WithAbortGrace(grace time.Duration) Option {
	return func(e *Engine) { e.abortGrace = grace }
}

func New(
	store persistence.Persistence,
	monitor Monitor,
	gateway SafeGateway,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      store,
		monitor:    monitor,
		safe:       gateway,
		abortGrace: DefaultAbortGrace,
		logger:     logger.With("module", "engine"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// errUnchanged ends an update that has nothing to write.
var errUnchanged = errors.New("workflow unchanged")

// transitions lists the statuses each command accepts a workflow from.
var transitions = map[string]struct {
	from []models.WorkflowStatus
	to   models.WorkflowStatus
}{
	"Activate": {from: []models.WorkflowStatus{models.WorkflowStatusDraft}, to: models.WorkflowStatusActive},
	"Pause":    {from: []models.WorkflowStatus{models.WorkflowStatusActive}, to: models.WorkflowStatusPaused},
	"Resume":   {from: []models.WorkflowStatus{models.WorkflowStatusPaused}, to: models.WorkflowStatusActive},
}

var registrableStatuses = []models.WorkflowStatus{
	models.WorkflowStatusDraft,
	models.WorkflowStatusActive,
	models.WorkflowStatusPaused,
}

// RegisterWorkflow validates and stores a new workflow, assigning an id when missing. A missing
// status registers it as draft. An id already in use is a conflict.
func (e *Engine) RegisterWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	workflow, err := workflow.Clone()
	if err != nil {
		return nil, err
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if !slices.Contains(registrableStatuses, workflow.Status) {
		return nil, NewServiceError("RegisterWorkflow", "INVALID_STATUS",
			fmt.Sprintf("workflows cannot be registered as %s", workflow.Status), ErrInvalidStatus)
	}

	err = Validate(workflow)
	if err != nil {
		return nil, err
	}

	workflow.ExecutionCount = 0
	workflow.LastCheckedAt = nil
	workflow.LastExecutedAt = nil

	_, err = e.store.WorkflowByID(ctx, workflow.ID)
	if err == nil {
		return nil, NewServiceError("RegisterWorkflow", "WORKFLOW_EXISTS",
			fmt.Sprintf("workflow %s already exists", workflow.ID), ErrWorkflowExists)
	}

	if !persistence.IsWorkflowNotFound(err) {
		return nil, fmt.Errorf("failed to look up workflow: %w", err)
	}

	err = e.store.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.logger.InfoContext(ctx, "Workflow registered",
		"workflow_id", workflow.ID,
		"status", workflow.Status,
		"owner", workflow.Owner,
	)

	return workflow, nil
}

// Validate checks a workflow's structure, its condition expressions and schedules, and its
// webhook templates.
func Validate(workflow *models.Workflow) error {
	err := models.ValidateWorkflow(workflow)
	if err != nil {
		return NewServiceError("Validate", "INVALID_WORKFLOW", "", err)
	}

	err = condition.Check(workflow.Condition)
	if err != nil {
		return NewServiceError("Validate", "INVALID_CONDITION", err.Error(),
			fmt.Errorf("%w: %w", ErrInvalidCondition, err))
	}

	err = checkTemplates(workflow.Actions)
	if err != nil {
		return NewServiceError("Validate", "INVALID_TEMPLATE", err.Error(),
			fmt.Errorf("%w: %w", ErrInvalidTemplate, err))
	}

	return nil
}

func checkTemplates(actions models.ActionList) error {
	for _, action := range actions {
		switch a := action.(type) {
		case *models.Webhook:
			err := webhook.Validate(a)
			if err != nil {
				return err
			}
		case *models.MultiStep:
			err := checkTemplates(a.Steps)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return e.store.WorkflowByID(ctx, id)
}

// ListWorkflows returns every workflow, or only those of owner when it is not empty.
func (e *Engine) ListWorkflows(ctx context.Context, owner string) ([]*models.Workflow, error) {
	workflows, err := e.store.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	if owner == "" {
		return workflows, nil
	}

	return slices.DeleteFunc(workflows, func(w *models.Workflow) bool {
		return w.Owner != owner
	}), nil
}

// Activate moves a draft workflow to active.
func (e *Engine) Activate(ctx context.Context, id string) (*models.Workflow, error) {
	return e.transition(ctx, "Activate", id)
}

// Pause stops checking an active workflow.
func (e *Engine) Pause(ctx context.Context, id string) (*models.Workflow, error) {
	return e.transition(ctx, "Pause", id)
}

// Resume puts a paused workflow back into the checked set.
func (e *Engine) Resume(ctx context.Context, id string) (*models.Workflow, error) {
	return e.transition(ctx, "Resume", id)
}

func (e *Engine) transition(ctx context.Context, op string, id string) (*models.Workflow, error) {
	rule := transitions[op]

	workflow, err := e.store.UpdateWorkflow(ctx, id, func(latest *models.Workflow) error {
		if latest.Status == rule.to {
			return errUnchanged
		}

		if !slices.Contains(rule.from, latest.Status) {
			return NewServiceError(op, "INVALID_TRANSITION",
				fmt.Sprintf("cannot move workflow %s from %s to %s", id, latest.Status, rule.to),
				ErrInvalidTransition)
		}

		latest.Status = rule.to

		return nil
	})
	if errors.Is(err, errUnchanged) {
		return e.store.WorkflowByID(ctx, id)
	}

	if err != nil {
		if persistence.IsWorkflowNotFound(err) || IsConflictError(err) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", id, "status", rule.to)

	return workflow, nil
}

// Delete removes a workflow. Its executions stay readable.
func (e *Engine) Delete(ctx context.Context, id string) error {
	err := e.store.DeleteWorkflow(ctx, id)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id)

	return nil
}

// StartMonitoring starts the scheduler. Calling it while monitoring does nothing.
func (e *Engine) StartMonitoring(ctx context.Context, interval time.Duration) {
	e.monitor.Start(ctx, interval)
}

// StopMonitoring stops triggering new executions; running ones continue.
func (e *Engine) StopMonitoring() {
	e.monitor.Stop()
}

func (e *Engine) Monitoring() bool {
	return e.monitor.Running()
}

// Shutdown stops monitoring and waits for running executions until ctx is done. Executions still
// running then are aborted and recorded as failed; Shutdown gives them the abort grace to do so.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.monitor.Stop()

	done := make(chan struct{})

	go func() {
		e.monitor.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	e.logger.WarnContext(ctx, "Aborting running executions", "grace", e.abortGrace)
	e.monitor.Abort()

	grace := time.NewTimer(e.abortGrace)
	defer grace.Stop()

	select {
	case <-done:
		return fmt.Errorf("executions aborted at shutdown: %w", ctx.Err())
	case <-grace.C:
		return fmt.Errorf("executions still running at shutdown: %w", ctx.Err())
	}
}

func (e *Engine) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	return e.store.ExecutionByID(ctx, id)
}

// GetWorkflowExecutions returns the executions of a workflow, oldest first.
func (e *Engine) GetWorkflowExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return e.store.ExecutionsByWorkflow(ctx, workflowID)
}

// ExecuteSafeTransaction executes an approved multi-sig transaction and returns its receipt hash.
func (e *Engine) ExecuteSafeTransaction(ctx context.Context, safeTxHash string) (string, error) {
	if e.safe == nil {
		return "", ErrSafeNotConfigured
	}

	return e.safe.ExecuteTransaction(ctx, safeTxHash)
}

func (e *Engine) SafeTransactionStatus(ctx context.Context, safeTxHash string) (*safe.Status, error) {
	if e.safe == nil {
		return nil, ErrSafeNotConfigured
	}

	return e.safe.Status(ctx, safeTxHash)
}

// HealthCheck reports whether the store is reachable.
func (e *Engine) HealthCheck(ctx context.Context) (string, bool) {
	err := e.store.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}
