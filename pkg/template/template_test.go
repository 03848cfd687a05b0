package template_test

import (
	"testing"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString_Fields(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	tests := []struct {
		template string
		expected string
	}{
		{template: "{{ .name }}", expected: "John"},
		{template: "{{ .isNew }}", expected: "true"},
		{template: "{{ .age }}", expected: "30"},
	}

	for _, tt := range tests {
		result, err := template.RenderString(tt.template, data)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, result)
	}
}

func TestRenderString_JSONBody(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"user":   map[string]any{"name": "Alice"},
		"orders": []any{1, 2},
	}

	result, err := template.RenderString(`{
		"user_name": "{{ .user.name }}",
		"total_orders": {{ len .orders }}
	}`, data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_name":"Alice","total_orders":2}`, result)
}

func TestRenderString_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
	}{
		{name: "unclosed action", template: "{{ .name "},
		{name: "unknown function", template: "{{ nope .name }}"},
		{name: "missing method", template: "{{ .name.first }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := template.RenderString(tt.template, map[string]any{"name": "John"})
			assert.Error(t, err)
		})
	}
}

func TestRenderString_KeepsRawOutput(t *testing.T) {
	t.Parallel()

	result, err := template.RenderString(" {{ .count }} ", map[string]any{"count": 3})
	require.NoError(t, err)
	assert.Equal(t, " 3 ", result)
}

func TestExecutionData(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	workflow := &models.Workflow{ID: "wf-1", Name: "Buy the dip", Owner: "alice"}

	execution := models.NewExecution("wf-1", started)
	execution.Start()

	quote := execution.AppendStep(models.StepQuoteRequest, started)
	quote.Status = models.StepStatusCompleted
	quote.Data["quote_id"] = "q-1"

	shift := execution.AppendStep(models.StepShiftCreate, started)
	shift.Status = models.StepStatusCompleted
	shift.Data["shift_id"] = "s-1"

	data := template.ExecutionData(workflow, execution)

	body, err := template.RenderString(
		`{"workflow":"{{ .workflow.id }}","execution":"{{ .execution.id }}","shift":"{{ .step.shift_create.data.shift_id }}","steps":{{ len .steps }}}`,
		data,
	)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"workflow":"wf-1","execution":"`+execution.ID+`","shift":"s-1","steps":2}`,
		body,
	)

	status, err := template.RenderString("{{ .execution.status }}", data)
	require.NoError(t, err)
	assert.Equal(t, "executing", status)
}

func TestJSONFunc(t *testing.T) {
	t.Parallel()

	result, err := template.RenderString(`{{ json .data }}`, map[string]any{"data": map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, result)
}
