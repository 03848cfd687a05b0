// Package swap drives the quote, shift and monitor protocol of a cross-chain swap.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/otelhelper"
	"github.com/dukex/shiftflow/pkg/signals"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultTimeout       = 30 * time.Minute
	DefaultMaxPollErrors = 3
)

var (
	// ErrMonitorTimeout means the shift did not reach a terminal state in time. It may still
	// settle out-of-band; the shift id is kept in the step data for reconciliation.
	ErrMonitorTimeout = errors.New("shift monitoring timed out")
	// ErrShiftRefunded means the provider refunded the deposit instead of settling.
	ErrShiftRefunded = errors.New("shift refunded")
)

// Provider is the swap provider API used by the orchestrator.
type Provider interface {
	RequestQuote(ctx context.Context, request models.QuoteRequest) (*models.Quote, error)
	CreateFixedShift(ctx context.Context, request models.ShiftRequest) (*models.Shift, error)
	Shift(ctx context.Context, shiftID string) (*models.Shift, error)
}

// StepHook is called whenever a step is appended or finished, so callers can persist progress.
type StepHook func(ctx context.Context, step *models.ExecutionStep)

// Config holds the monitor policy.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// MaxPollErrors is the number of consecutive failed status reads that abort monitoring.
	MaxPollErrors int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.MaxPollErrors <= 0 {
		c.MaxPollErrors = DefaultMaxPollErrors
	}

	return c
}

// Orchestrator runs swaps against a Provider. Quote and shift requests are never retried:
// a failed request fails the swap and a new attempt needs a fresh quote.
type Orchestrator struct {
	provider Provider
	config   Config
	clock    signals.Clock
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil clock uses the system clock.
func NewOrchestrator(provider Provider, config Config, clock signals.Clock, logger *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = signals.SystemClock{}
	}

	return &Orchestrator{
		provider: provider,
		config:   config.withDefaults(),
		clock:    clock,
		logger:   logger.With("module", "swap_orchestrator"),
	}
}

// Outcome is what a swap produced so far.
type Outcome struct {
	Quote *models.Quote
	Shift *models.Shift
}

// Execute runs quote, shift and monitor, appending one step for each to execution.
func (o *Orchestrator) Execute(
	ctx context.Context,
	swap *models.CrossChainSwap,
	execution *models.Execution,
	hook StepHook,
) (*Outcome, error) {
	outcome, err := o.Prepare(ctx, swap, execution, hook)
	if err != nil {
		return outcome, err
	}

	final, err := o.Monitor(ctx, outcome.Shift, execution, hook)
	if final != nil {
		outcome.Shift = final
	}

	return outcome, err
}

// Prepare runs the quote and shift steps and returns the created shift with its deposit address.
func (o *Orchestrator) Prepare(
	ctx context.Context,
	swap *models.CrossChainSwap,
	execution *models.Execution,
	hook StepHook,
) (*Outcome, error) {
	logger := o.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID)
	outcome := &Outcome{}

	quote, err := o.quote(ctx, swap, execution, hook)
	if err != nil {
		logger.ErrorContext(ctx, "Quote request failed", "error", err)

		return outcome, err
	}

	outcome.Quote = quote

	shift, err := o.shift(ctx, swap, quote, execution, hook)
	if err != nil {
		logger.ErrorContext(ctx, "Shift creation failed", "quote_id", quote.ID, "error", err)

		return outcome, err
	}

	outcome.Shift = shift

	logger.InfoContext(ctx, "Shift created", "shift_id", shift.ID, "deposit_address", shift.DepositAddress)

	return outcome, nil
}

func (o *Orchestrator) quote(
	ctx context.Context,
	swap *models.CrossChainSwap,
	execution *models.Execution,
	hook StepHook,
) (*models.Quote, error) {
	ctx, span := otelhelper.StartSpan(ctx, "swap.quote",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepKindKey, string(models.StepQuoteRequest)),
	)
	defer span.End()

	step := o.begin(ctx, execution, models.StepQuoteRequest, hook)
	step.Data["deposit_coin"] = swap.DepositCoin
	step.Data["deposit_network"] = swap.DepositNetwork
	step.Data["settle_coin"] = swap.SettleCoin
	step.Data["settle_network"] = swap.SettleNetwork
	step.Data["deposit_amount"] = swap.Amount

	quote, err := o.provider.RequestQuote(ctx, models.QuoteRequest{
		DepositCoin:    swap.DepositCoin,
		DepositNetwork: swap.DepositNetwork,
		SettleCoin:     swap.SettleCoin,
		SettleNetwork:  swap.SettleNetwork,
		DepositAmount:  swap.Amount,
	})
	if err != nil {
		otelhelper.SetError(span, err)
		o.finish(ctx, step, models.StepStatusFailed, err, hook)

		return nil, fmt.Errorf("quote request failed: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.QuoteIDKey, quote.ID))

	step.Data["quote_id"] = quote.ID
	step.Data["settle_amount"] = quote.SettleAmount
	step.Data["rate"] = quote.Rate
	step.Data["expires_at"] = quote.ExpiresAt
	o.finish(ctx, step, models.StepStatusCompleted, nil, hook)

	return quote, nil
}

func (o *Orchestrator) shift(
	ctx context.Context,
	swap *models.CrossChainSwap,
	quote *models.Quote,
	execution *models.Execution,
	hook StepHook,
) (*models.Shift, error) {
	ctx, span := otelhelper.StartSpan(ctx, "swap.shift",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.QuoteIDKey, quote.ID),
	)
	defer span.End()

	step := o.begin(ctx, execution, models.StepShiftCreate, hook)
	step.Data["quote_id"] = quote.ID
	step.Data["settle_address"] = swap.SettleAddress

	shift, err := o.provider.CreateFixedShift(ctx, models.ShiftRequest{
		QuoteID:       quote.ID,
		SettleAddress: swap.SettleAddress,
		RefundAddress: swap.RefundAddress,
	})
	if err != nil {
		otelhelper.SetError(span, err)
		o.finish(ctx, step, models.StepStatusFailed, err, hook)

		return nil, fmt.Errorf("shift creation failed for quote %s: %w", quote.ID, err)
	}

	span.SetAttributes(attribute.String(otelhelper.ShiftIDKey, shift.ID))

	step.Data["shift_id"] = shift.ID
	step.Data["deposit_address"] = shift.DepositAddress
	step.Data["deposit_amount"] = shift.DepositAmount
	step.Data["settle_amount"] = shift.SettleAmount
	step.Data["status"] = string(shift.Status)
	o.finish(ctx, step, models.StepStatusCompleted, nil, hook)

	return shift, nil
}

// Monitor polls the shift until it settles, is refunded, or the timeout elapses.
func (o *Orchestrator) Monitor(
	ctx context.Context,
	shift *models.Shift,
	execution *models.Execution,
	hook StepHook,
) (*models.Shift, error) {
	ctx, span := otelhelper.StartSpan(ctx, "swap.monitor",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.ShiftIDKey, shift.ID),
	)
	defer span.End()

	logger := o.logger.With("execution_id", execution.ID, "shift_id", shift.ID)

	step := o.begin(ctx, execution, models.StepShiftMonitor, hook)
	step.Data["shift_id"] = shift.ID
	step.Data["deposit_address"] = shift.DepositAddress

	final, polls, err := o.poll(ctx, shift.ID, logger)
	step.Data["polls"] = polls

	if final != nil {
		step.Data["status"] = string(final.Status)
		step.Data["settle_amount"] = final.SettleAmount
	}

	switch {
	case errors.Is(err, ErrMonitorTimeout):
		otelhelper.SetError(span, err)
		execution.TimedOut = true
		o.finish(ctx, step, models.StepStatusTimeout, err, hook)
		logger.WarnContext(ctx, "Shift monitoring timed out, shift may still settle", "timeout", o.config.Timeout)

		return final, fmt.Errorf("shift %s: %w after %s", shift.ID, err, o.config.Timeout)
	case err != nil:
		otelhelper.SetError(span, err)
		o.finish(ctx, step, models.StepStatusFailed, err, hook)

		return final, err
	case final.Status == models.ShiftStatusRefunded:
		otelhelper.SetError(span, ErrShiftRefunded)
		o.finish(ctx, step, models.StepStatusFailed, ErrShiftRefunded, hook)
		logger.WarnContext(ctx, "Shift refunded")

		return final, fmt.Errorf("shift %s: %w", shift.ID, ErrShiftRefunded)
	default:
		o.finish(ctx, step, models.StepStatusCompleted, nil, hook)
		logger.InfoContext(ctx, "Shift settled", "polls", polls)

		return final, nil
	}
}

func (o *Orchestrator) poll(ctx context.Context, shiftID string, logger *slog.Logger) (*models.Shift, int, error) {
	pollCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	var (
		last              *models.Shift
		polls             int
		consecutiveErrors int
	)

	stopped := func() (*models.Shift, int, error) {
		if ctx.Err() != nil {
			return last, polls, ctx.Err()
		}

		return last, polls, ErrMonitorTimeout
	}

	for {
		polls++

		shift, err := o.provider.Shift(pollCtx, shiftID)

		switch {
		case err == nil:
			consecutiveErrors = 0
			last = shift

			logger.DebugContext(ctx, "Polled shift", "status", shift.Status, "poll", polls)

			if shift.Status.IsTerminal() {
				return shift, polls, nil
			}
		case pollCtx.Err() != nil:
			return stopped()
		default:
			consecutiveErrors++

			logger.WarnContext(ctx, "Failed to poll shift", "error", err, "consecutive_errors", consecutiveErrors)

			if consecutiveErrors >= o.config.MaxPollErrors {
				return last, polls, fmt.Errorf("failed to poll shift %s: %w", shiftID, err)
			}
		}

		select {
		case <-pollCtx.Done():
			return stopped()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) begin(
	ctx context.Context,
	execution *models.Execution,
	kind models.StepKind,
	hook StepHook,
) *models.ExecutionStep {
	step := execution.AppendStep(kind, o.clock.Now())

	if hook != nil {
		hook(ctx, step)
	}

	return step
}

func (o *Orchestrator) finish(
	ctx context.Context,
	step *models.ExecutionStep,
	status models.StepStatus,
	err error,
	hook StepHook,
) {
	step.Status = status
	step.Timestamp = o.clock.Now()

	if err != nil {
		step.Error = err.Error()
	}

	if hook != nil {
		hook(ctx, step)
	}
}
