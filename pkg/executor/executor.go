// Package executor runs the action list of a triggered workflow and records every step.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/dukex/shiftflow/pkg/actions/webhook"
	"github.com/dukex/shiftflow/pkg/eventbus"
	"github.com/dukex/shiftflow/pkg/events"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/notify"
	"github.com/dukex/shiftflow/pkg/otelhelper"
	"github.com/dukex/shiftflow/pkg/signals"
	"github.com/dukex/shiftflow/pkg/swap"
	"github.com/dukex/shiftflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrUnknownAction   = errors.New("unknown action kind")
	ErrSafeUnavailable = errors.New("workflow uses a safe but no safe gateway is configured")
	ErrPanic           = errors.New("action panicked")
)

// Swapper runs a swap to settlement.
type Swapper interface {
	Execute(
		ctx context.Context,
		action *models.CrossChainSwap,
		execution *models.Execution,
		hook swap.StepHook,
	) (*swap.Outcome, error)
}

// SafeProposer runs a swap up to the deposit and proposes the deposit to a multi-sig wallet.
type SafeProposer interface {
	Propose(
		ctx context.Context,
		safeAddress string,
		action *models.CrossChainSwap,
		execution *models.Execution,
		hook swap.StepHook,
	) (*models.SafeProposal, error)
}

type WebhookCaller interface {
	Execute(ctx context.Context, hook *models.Webhook, data map[string]any) (*webhook.Result, error)
}

type Notifier interface {
	Send(ctx context.Context, message notify.Message) error
}

// ExecutionStore persists execution snapshots.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, execution *models.Execution) error
}

// Options wires an Executor. Safe and Publisher are optional.
type Options struct {
	Swapper   Swapper
	Safe      SafeProposer
	Webhooks  WebhookCaller
	Notifier  Notifier
	Store     ExecutionStore
	Publisher eventbus.EventPublisher
	Clock     signals.Clock
	Logger    *slog.Logger
}

// Executor runs workflow actions in declaration order.
type Executor struct {
	swapper   Swapper
	safe      SafeProposer
	webhooks  WebhookCaller
	notifier  Notifier
	store     ExecutionStore
	publisher eventbus.EventPublisher
	clock     signals.Clock
	logger    *slog.Logger
}

func NewExecutor(opts Options) *Executor {
	if opts.Clock == nil {
		opts.Clock = signals.SystemClock{}
	}

	return &Executor{
		swapper:   opts.Swapper,
		safe:      opts.Safe,
		webhooks:  opts.Webhooks,
		notifier:  opts.Notifier,
		store:     opts.Store,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger.With("module", "executor"),
	}
}

// Run executes the actions of workflow into execution and leaves it completed or failed. Action
// errors and panics end up in execution.Error; Run itself never fails. The execution is saved
// after every step change.
func (e *Executor) Run(ctx context.Context, workflow *models.Workflow, execution *models.Execution) {
	ctx, span := otelhelper.StartSpan(ctx, "executor.run",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID)

	execution.Start()
	e.persist(ctx, execution, logger)
	e.publish(ctx, workflow.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
	}, logger)

	logger.InfoContext(ctx, "Execution started", "actions", len(workflow.Actions))

	err := e.runSafely(ctx, workflow, execution, logger)
	if err != nil {
		otelhelper.SetError(span, err)
		execution.Fail(err, e.clock.Now())
	} else {
		execution.Complete(e.clock.Now())
	}

	e.persist(ctx, execution, logger)
	e.finished(ctx, workflow, execution, logger)
}

func (e *Executor) runSafely(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	logger *slog.Logger,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Action panicked", "panic", r, "stack", string(debug.Stack()))

			err = fmt.Errorf("%w: %v", ErrPanic, r)

			for _, step := range execution.Steps {
				if step.Status == models.StepStatusExecuting {
					step.Status = models.StepStatusFailed
					step.Error = err.Error()
				}
			}
		}
	}()

	return e.runList(ctx, workflow, execution, workflow.Actions, true, logger)
}

// runList runs actions in order. With stopOnError the first failure is returned and the rest
// skipped; otherwise every action runs and the list fails only when none succeeded.
func (e *Executor) runList(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	actions models.ActionList,
	stopOnError bool,
	logger *slog.Logger,
) error {
	var (
		errs      []error
		succeeded int
	)

	for _, action := range actions {
		err := e.runAction(ctx, workflow, execution, action, logger)
		if err == nil {
			succeeded++

			continue
		}

		if stopOnError {
			return err
		}

		logger.WarnContext(ctx, "Action failed, continuing", "action", action.Kind(), "error", err)

		errs = append(errs, err)
	}

	if succeeded == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (e *Executor) runAction(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	action models.Action,
	logger *slog.Logger,
) error {
	hook := func(ctx context.Context, _ *models.ExecutionStep) {
		e.persist(ctx, execution, logger)
	}

	switch a := action.(type) {
	case *models.CrossChainSwap:
		return e.runSwap(ctx, workflow, execution, a, hook)
	case *models.Notification:
		e.runNotification(ctx, workflow, execution, a, hook, logger)

		return nil
	case *models.Webhook:
		return e.runWebhook(ctx, workflow, execution, a, hook)
	case *models.MultiStep:
		return e.runList(ctx, workflow, execution, a.Steps, a.StopOnError, logger)
	default:
		err := fmt.Errorf("%w: %q", ErrUnknownAction, action.Kind())

		step := e.begin(ctx, execution, models.StepUnknown, hook)
		step.Data["action"] = string(action.Kind())
		e.finish(ctx, step, models.StepStatusFailed, err, hook)

		logger.WarnContext(ctx, "Skipping unknown action", "action", action.Kind())

		return err
	}
}

func (e *Executor) runSwap(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	action *models.CrossChainSwap,
	hook swap.StepHook,
) error {
	if !workflow.UsesSafe() {
		_, err := e.swapper.Execute(ctx, action, execution, hook)

		return err
	}

	if e.safe == nil {
		step := e.begin(ctx, execution, models.StepSafePropose, hook)
		step.Data["safe_address"] = workflow.SafeAddress
		e.finish(ctx, step, models.StepStatusFailed, ErrSafeUnavailable, hook)

		return ErrSafeUnavailable
	}

	_, err := e.safe.Propose(ctx, workflow.SafeAddress, action, execution, hook)

	return err
}

// runNotification records delivery failures on the step without failing the action.
func (e *Executor) runNotification(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	action *models.Notification,
	hook swap.StepHook,
	logger *slog.Logger,
) {
	step := e.begin(ctx, execution, models.StepNotification, hook)

	text, err := template.RenderString(action.Message, template.ExecutionData(workflow, execution))
	if err != nil {
		logger.WarnContext(ctx, "Notification message is not a valid template, sending it verbatim", "error", err)

		text = action.Message
	}

	step.Data["channel"] = string(action.Channel)
	step.Data["recipient"] = action.Recipient
	step.Data["message"] = text

	err = e.notifier.Send(ctx, notify.Message{
		WorkflowID:  workflow.ID,
		ExecutionID: execution.ID,
		Channel:     action.Channel,
		Recipient:   action.Recipient,
		Text:        text,
		SentAt:      e.clock.Now(),
	})
	if err != nil {
		logger.WarnContext(ctx, "Notification delivery failed", "channel", action.Channel, "error", err)

		step.Data["delivered"] = false
		step.Error = err.Error()
	} else {
		step.Data["delivered"] = true
	}

	e.finish(ctx, step, models.StepStatusCompleted, nil, hook)
}

func (e *Executor) runWebhook(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	action *models.Webhook,
	hook swap.StepHook,
) error {
	step := e.begin(ctx, execution, models.StepWebhook, hook)
	step.Data["url"] = action.URL
	step.Data["method"] = action.Method

	result, err := e.webhooks.Execute(ctx, action, template.ExecutionData(workflow, execution))
	if result != nil {
		step.Data["status_code"] = result.StatusCode
		step.Data["response"] = result.Body
	}

	if err != nil {
		e.finish(ctx, step, models.StepStatusFailed, err, hook)

		return err
	}

	e.finish(ctx, step, models.StepStatusCompleted, nil, hook)

	return nil
}

func (e *Executor) begin(
	ctx context.Context,
	execution *models.Execution,
	kind models.StepKind,
	hook swap.StepHook,
) *models.ExecutionStep {
	step := execution.AppendStep(kind, e.clock.Now())
	hook(ctx, step)

	return step
}

func (e *Executor) finish(
	ctx context.Context,
	step *models.ExecutionStep,
	status models.StepStatus,
	err error,
	hook swap.StepHook,
) {
	step.Status = status
	step.Timestamp = e.clock.Now()

	if err != nil {
		step.Error = err.Error()
	}

	hook(ctx, step)
}

func (e *Executor) persist(ctx context.Context, execution *models.Execution, logger *slog.Logger) {
	if e.store == nil {
		return
	}

	// a cancelled run still records its final state
	err := e.store.SaveExecution(context.WithoutCancel(ctx), execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save execution", "error", err)
	}
}

func (e *Executor) finished(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	logger *slog.Logger,
) {
	duration := e.clock.Now().Sub(execution.StartedAt)

	if execution.Status == models.ExecutionStatusCompleted {
		logger.InfoContext(ctx, "Execution completed", "steps", len(execution.Steps), "duration", duration)

		e.publish(ctx, workflow.ID, events.ExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, workflow.ID),
			ExecutionID: execution.ID,
			Steps:       len(execution.Steps),
			Duration:    duration,
		}, logger)

		return
	}

	logger.ErrorContext(ctx, "Execution failed",
		"steps", len(execution.Steps),
		"timed_out", execution.TimedOut,
		"error", execution.Error,
	)

	e.publish(ctx, workflow.ID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, workflow.ID),
		ExecutionID: execution.ID,
		Error:       execution.Error,
		TimedOut:    execution.TimedOut,
		Steps:       len(execution.Steps),
		Duration:    duration,
	}, logger)
}

func (e *Executor) publish(ctx context.Context, workflowID string, event eventbus.Event, logger *slog.Logger) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(context.WithoutCancel(ctx), workflowID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish execution event", "event", event.GetType(), "error", err)
	}
}
