package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
)

// ExecutionRepository stores executions under executions/<workflow id>/<execution id>.json so the
// history of a workflow is a single directory listing.
type ExecutionRepository struct {
	root string
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

// Save writes the execution, replacing any previous version.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	if !validID(execution.ID) || !validID(execution.WorkflowID) {
		return persistence.NewExecutionError("SaveExecution", execution.ID, persistence.ErrInvalidID)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	return writeFile(filepath.Join(er.dir(), execution.WorkflowID), execution.ID+".json", data)
}

// GetByID finds an execution in any workflow directory.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	if !validID(id) {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	matches, err := fs.Glob(os.DirFS(er.dir()), "*/"+id+".json")
	if err != nil {
		return nil, fmt.Errorf("failed to search execution %s: %w", id, err)
	}

	if len(matches) == 0 {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return er.read(filepath.Join(er.dir(), matches[0]))
}

// GetByWorkflow returns the executions of a workflow, oldest first.
func (er *ExecutionRepository) GetByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	executions := make([]*models.Execution, 0)

	if !validID(workflowID) {
		return executions, nil
	}

	dir := filepath.Join(er.dir(), workflowID)

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of workflow %s: %w", workflowID, err)
	}

	for _, file := range jsonFiles {
		execution, err := er.read(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) read(path string) (*models.Execution, error) {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read execution %s: %w", path, err)
	}

	var execution models.Execution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", path, err)
	}

	return &execution, nil
}
