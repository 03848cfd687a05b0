// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates an active workflow with a price condition and a log notification.
// Overrides are applied in order.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Owner:       "test-user",
		Status:      models.WorkflowStatusActive,
		Condition: &models.PriceThreshold{
			Token:      "ETH",
			Comparison: models.ComparisonAbove,
			Threshold:  3000,
			Currency:   "usd",
		},
		Actions: models.ActionList{
			&models.Notification{Channel: models.ChannelLog, Message: "condition met"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithID sets the workflow ID.
func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithCondition replaces the condition tree.
func WithCondition(condition models.Condition) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Condition = condition
	}
}

// WithActions replaces the action list.
func WithActions(actions ...models.Action) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Actions = actions
	}
}

// WithMaxExecutions caps the number of executions.
func WithMaxExecutions(maxExecutions int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.MaxExecutions = &maxExecutions
	}
}

// WithSafeAddress routes swaps through a multi-sig wallet.
func WithSafeAddress(address string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.SafeAddress = address
	}
}

// CreateTestSwap creates the eth to btc swap action used across tests.
func CreateTestSwap() *models.CrossChainSwap {
	return &models.CrossChainSwap{
		DepositCoin:    "eth",
		DepositNetwork: "ethereum",
		SettleCoin:     "btc",
		SettleNetwork:  "bitcoin",
		Amount:         "0.01",
		SettleAddress:  "bc1qtestaddress",
	}
}
