package safe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/otelhelper"
	"github.com/dukex/shiftflow/pkg/signals"
	"github.com/dukex/shiftflow/pkg/swap"
	"go.opentelemetry.io/otel/attribute"
)

// Preparer runs the quote and shift steps of a swap.
type Preparer interface {
	Prepare(
		ctx context.Context,
		swap *models.CrossChainSwap,
		execution *models.Execution,
		hook swap.StepHook,
	) (*swap.Outcome, error)
}

// Gateway proposes swap deposits to a multi-sig wallet and executes them once approved.
type Gateway struct {
	preparer Preparer
	service  Service
	clock    signals.Clock
	logger   *slog.Logger
}

// NewGateway creates a Gateway. A nil clock uses the system clock.
func NewGateway(preparer Preparer, service Service, clock signals.Clock, logger *slog.Logger) *Gateway {
	if clock == nil {
		clock = signals.SystemClock{}
	}

	return &Gateway{
		preparer: preparer,
		service:  service,
		clock:    clock,
		logger:   logger.With("module", "safe_gateway"),
	}
}

// Propose creates the shift and proposes the transfer of the deposit amount to its deposit address.
// The swap is not monitored: funds only move once owners approve and the transaction is executed.
func (g *Gateway) Propose(
	ctx context.Context,
	safeAddress string,
	action *models.CrossChainSwap,
	execution *models.Execution,
	hook swap.StepHook,
) (*models.SafeProposal, error) {
	outcome, err := g.preparer.Prepare(ctx, action, execution, hook)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, "safe.propose",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.ShiftIDKey, outcome.Shift.ID),
	)
	defer span.End()

	logger := g.logger.With("execution_id", execution.ID, "safe_address", safeAddress)

	step := execution.AppendStep(models.StepSafePropose, g.clock.Now())
	step.Data["safe_address"] = safeAddress
	step.Data["shift_id"] = outcome.Shift.ID
	step.Data["deposit_address"] = outcome.Shift.DepositAddress

	if hook != nil {
		hook(ctx, step)
	}

	proposal, err := g.propose(ctx, safeAddress, action, outcome.Shift)
	if err != nil {
		otelhelper.SetError(span, err)
		g.finish(ctx, step, models.StepStatusFailed, err, hook)
		logger.ErrorContext(ctx, "Failed to propose safe transaction", "error", err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.SafeTxHashKey, proposal.SafeTxHash))

	step.Data["safe_tx_hash"] = proposal.SafeTxHash
	step.Data["confirmations"] = proposal.Confirmations

	// the transaction exists once proposed, a missing threshold only leaves it unknown
	threshold, err := g.service.Threshold(ctx, safeAddress)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read safe threshold", "safe_tx_hash", proposal.SafeTxHash, "error", err)
	} else {
		proposal.Threshold = threshold
		step.Data["threshold"] = threshold
	}

	g.finish(ctx, step, models.StepStatusCompleted, nil, hook)

	logger.InfoContext(ctx, "Safe transaction awaiting approval",
		"safe_tx_hash", proposal.SafeTxHash,
		"confirmations", proposal.Confirmations,
		"threshold", proposal.Threshold,
	)

	return proposal, nil
}

func (g *Gateway) propose(
	ctx context.Context,
	safeAddress string,
	action *models.CrossChainSwap,
	shift *models.Shift,
) (*models.SafeProposal, error) {
	value, err := ToWei(action.Amount)
	if err != nil {
		return nil, err
	}

	hash, err := g.service.Propose(ctx, Proposal{
		SafeAddress: safeAddress,
		Transaction: TransactionData{
			To:        shift.DepositAddress,
			Value:     value,
			Data:      "0x",
			Operation: OperationCall,
		},
		Origin: fmt.Sprintf("shiftflow: swap %s %s to %s", action.Amount, action.DepositCoin, action.SettleCoin),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to propose safe transaction: %w", err)
	}

	return &models.SafeProposal{
		SafeTxHash:  hash,
		SafeAddress: safeAddress,
		// the proposer signed it
		Confirmations:  1,
		ShiftID:        shift.ID,
		DepositAddress: shift.DepositAddress,
	}, nil
}

// ExecuteTransaction executes a proposed transaction once the threshold is met and returns the
// receipt hash. The execute endpoint is not called while confirmations are missing.
func (g *Gateway) ExecuteTransaction(ctx context.Context, safeTxHash string) (string, error) {
	status, err := g.Status(ctx, safeTxHash)
	if err != nil {
		return "", err
	}

	if status.IsExecuted {
		return "", ErrAlreadyExecuted
	}

	if !status.CanExecute {
		return "", &InsufficientConfirmationsError{Confirmations: status.Confirmations, Threshold: status.Threshold}
	}

	receipt, err := g.service.Execute(ctx, safeTxHash)
	if err != nil {
		if errors.Is(err, ErrAlreadyExecuted) {
			return "", err
		}

		return "", fmt.Errorf("failed to execute safe transaction %s: %w", safeTxHash, err)
	}

	g.logger.InfoContext(ctx, "Executed safe transaction", "safe_tx_hash", safeTxHash, "receipt", receipt)

	return receipt, nil
}

// Status reports the confirmations collected so far against the wallet threshold.
func (g *Gateway) Status(ctx context.Context, safeTxHash string) (*Status, error) {
	tx, err := g.service.Transaction(ctx, safeTxHash)
	if err != nil {
		return nil, fmt.Errorf("failed to read safe transaction %s: %w", safeTxHash, err)
	}

	threshold, err := g.service.Threshold(ctx, tx.SafeAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read safe threshold: %w", err)
	}

	proposal := models.SafeProposal{
		SafeTxHash:    safeTxHash,
		SafeAddress:   tx.SafeAddress,
		Threshold:     threshold,
		Confirmations: len(tx.Confirmations),
		IsExecuted:    tx.IsExecuted,
	}

	return &Status{
		SafeTxHash:    safeTxHash,
		Confirmations: proposal.Confirmations,
		Threshold:     proposal.Threshold,
		IsExecuted:    proposal.IsExecuted,
		CanExecute:    proposal.CanExecute(),
	}, nil
}

func (g *Gateway) finish(
	ctx context.Context,
	step *models.ExecutionStep,
	status models.StepStatus,
	err error,
	hook swap.StepHook,
) {
	step.Status = status
	step.Timestamp = g.clock.Now()

	if err != nil {
		step.Error = err.Error()
	}

	if hook != nil {
		hook(ctx, step)
	}
}
