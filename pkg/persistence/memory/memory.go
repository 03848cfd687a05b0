// Package memory provides an in-process persistence implementation. Values are copied on the way in
// and on the way out, so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
)

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	mu         sync.RWMutex
	workflows  map[string]*models.Workflow
	executions map[string]*models.Execution
}

// NewPersistence creates an empty store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.Execution),
	}
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	return p.listWorkflows(func(*models.Workflow) bool { return true })
}

func (p *Persistence) ActiveWorkflows(_ context.Context) ([]*models.Workflow, error) {
	return p.listWorkflows(func(w *models.Workflow) bool { return w.Status == models.WorkflowStatusActive })
}

func (p *Persistence) listWorkflows(keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(p.workflows))

	for _, stored := range p.workflows {
		if !keep(stored) {
			continue
		}

		workflow, err := stored.Clone()
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, persistence.ErrInvalidID)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	stored, err := workflow.Clone()
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	p.mu.Lock()
	p.workflows[workflow.ID] = stored
	p.mu.Unlock()

	return nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	stored, ok := p.workflows[id]
	p.mu.RUnlock()

	if !ok {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	return stored.Clone()
}

func (p *Persistence) UpdateWorkflow(
	_ context.Context,
	id string,
	change func(*models.Workflow) error,
) (*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("UpdateWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	workflow, err := stored.Clone()
	if err != nil {
		return nil, err
	}

	err = change(workflow)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.UpdatedAt = time.Now().UTC()

	updated, err := workflow.Clone()
	if err != nil {
		return nil, persistence.NewWorkflowError("UpdateWorkflow", id, err)
	}

	p.workflows[id] = updated

	return workflow, nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workflows[id]; !ok {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	delete(p.workflows, id)

	return nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		return persistence.NewExecutionError("SaveExecution", execution.ID, persistence.ErrInvalidID)
	}

	stored := execution.Clone()

	p.mu.Lock()
	p.executions[execution.ID] = stored
	p.mu.Unlock()

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stored, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return stored.Clone(), nil
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	for _, stored := range p.executions {
		if stored.WorkflowID == workflowID {
			executions = append(executions, stored.Clone())
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
