package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema represents the subset of JSON Schema used to describe workflow documents.
type JSONSchema struct {
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Format      string               `json:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	MinItems    *int                 `json:"minItems,omitempty"`
	Minimum     *float64             `json:"minimum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// ErrSchemaViolation is returned when a workflow document does not match WorkflowSchema.
var ErrSchemaViolation = errors.New("workflow document does not match schema")

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }

// WorkflowSchema describes the JSON document accepted when registering a workflow. Nested
// condition and action payloads are checked by ValidateWorkflow once decoded.
func WorkflowSchema() *JSONSchema {
	conditionKinds := []any{
		string(ConditionPriceThreshold), string(ConditionGasThreshold), string(ConditionTimeBased),
		string(ConditionBalanceThreshold), string(ConditionExpression), string(ConditionAnd), string(ConditionOr),
	}

	actionKinds := []any{
		string(ActionCrossChainSwap), string(ActionNotification), string(ActionWebhook), string(ActionMultiStep),
	}

	return &JSONSchema{
		Type:        "object",
		Title:       "Workflow",
		Description: "A condition tree and the ordered actions to run when it holds",
		Required:    []string{"name", "owner", "condition", "actions"},
		Properties: map[string]*Property{
			"id":          {Type: "string"},
			"name":        {Type: "string", MinLength: intPtr(3)},
			"description": {Type: "string"},
			"owner":       {Type: "string", MinLength: intPtr(1)},
			"status": {
				Type:    "string",
				Enum:    []any{"draft", "active", "paused", "completed", "failed"},
				Default: "draft",
			},
			"max_executions": {Type: "integer", Minimum: floatPtr(1)},
			"safe_address":   {Type: "string"},
			"condition": {
				Type:     "object",
				Required: []string{"type"},
				Properties: map[string]*Property{
					"type": {Type: "string", Enum: conditionKinds},
				},
			},
			"actions": {
				Type:     "array",
				MinItems: intPtr(1),
				Items: &Property{
					Type:     "object",
					Required: []string{"type"},
					Properties: map[string]*Property{
						"type": {Type: "string", Enum: actionKinds},
					},
				},
			},
		},
	}
}

// ValidateWorkflowDocument checks a raw JSON document against WorkflowSchema, decodes it and
// validates the resulting workflow. A missing status defaults to draft.
func ValidateWorkflowDocument(data []byte) (*Workflow, error) {
	schema, err := json.Marshal(WorkflowSchema())
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(problems, "; "))
	}

	var workflow Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	if workflow.Status == "" {
		workflow.Status = WorkflowStatusDraft
	}

	err = ValidateWorkflow(&workflow)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}
