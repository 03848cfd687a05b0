// Package file provides file-based persistence for workflows and executions, one JSON document per record.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/shiftflow/pkg/models"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory is usable.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.root, 0750)
	if err != nil {
		return fmt.Errorf("persistence root %s is not usable: %w", fp.root, err)
	}

	return nil
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return fp.workflowRepo.GetAll(ctx)
}

func (fp *Persistence) ActiveWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return fp.workflowRepo.GetByStatus(ctx, models.WorkflowStatusActive)
}

func (fp *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return fp.workflowRepo.Save(ctx, workflow)
}

func (fp *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return fp.workflowRepo.GetByID(ctx, id)
}

func (fp *Persistence) UpdateWorkflow(
	ctx context.Context,
	id string,
	change func(*models.Workflow) error,
) (*models.Workflow, error) {
	return fp.workflowRepo.Update(ctx, id, change)
}

func (fp *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return fp.workflowRepo.Delete(ctx, id)
}

func (fp *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	return fp.executionRepo.Save(ctx, execution)
}

func (fp *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return fp.executionRepo.GetByID(ctx, id)
}

func (fp *Persistence) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return fp.executionRepo.GetByWorkflow(ctx, workflowID)
}

// validID rejects ids that would escape the records directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// writeFile replaces path atomically so readers never observe a partial document.
func writeFile(dir, name string, data []byte) error {
	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	err = os.Rename(tmp.Name(), filepath.Join(dir, name))
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", name, err)
	}

	return nil
}
