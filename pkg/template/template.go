// Package template renders text/template strings against a running execution.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"json": func(value any) (string, error) {
		data, err := json.Marshal(value)

		return string(data), err
	},
}

// Parse compiles a template without executing it.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.New("shiftflow").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

// RenderString executes templateStr and returns the raw output.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// ExecutionData is the template data of a running execution:
//
//	.workflow   id, name, owner, safe_address
//	.execution  id, workflow_id, status, started_at
//	.steps      every step so far, in order
//	.step       the latest step of each kind, keyed by kind
func ExecutionData(workflow *models.Workflow, execution *models.Execution) map[string]any {
	steps := make([]any, 0, len(execution.Steps))
	latest := make(map[string]any)

	for _, step := range execution.Steps {
		entry := map[string]any{
			"id":        step.ID,
			"kind":      string(step.Kind),
			"status":    string(step.Status),
			"data":      step.Data,
			"error":     step.Error,
			"timestamp": step.Timestamp.Format(time.RFC3339),
		}

		steps = append(steps, entry)
		latest[string(step.Kind)] = entry
	}

	return map[string]any{
		"workflow": map[string]any{
			"id":           workflow.ID,
			"name":         workflow.Name,
			"owner":        workflow.Owner,
			"safe_address": workflow.SafeAddress,
		},
		"execution": map[string]any{
			"id":          execution.ID,
			"workflow_id": execution.WorkflowID,
			"status":      string(execution.Status),
			"started_at":  execution.StartedAt.Format(time.RFC3339),
		},
		"steps": steps,
		"step":  latest,
	}
}
