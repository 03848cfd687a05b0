package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/shiftflow/pkg/actions/webhook"
	"github.com/dukex/shiftflow/pkg/cmd"
	"github.com/dukex/shiftflow/pkg/condition"
	"github.com/dukex/shiftflow/pkg/engine"
	"github.com/dukex/shiftflow/pkg/eventbus"
	"github.com/dukex/shiftflow/pkg/events"
	"github.com/dukex/shiftflow/pkg/executor"
	"github.com/dukex/shiftflow/pkg/notify"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/safe"
	"github.com/dukex/shiftflow/pkg/scheduler"
	"github.com/dukex/shiftflow/pkg/sideshift"
	"github.com/dukex/shiftflow/pkg/signals"
	"github.com/dukex/shiftflow/pkg/swap"
)

type config struct {
	DatabaseURL  string
	EventBus     string
	KafkaBrokers string

	Scheduler scheduler.Config
	Swap      swap.Config
	Signals   cmd.SignalOptions

	SideShiftURL         string
	SideShiftSecret      string
	SideShiftAffiliateID string

	SafeServiceURL string
	SignerURL      string
	SignerAddress  string
}

// app owns the long-lived components of a running server.
type app struct {
	logger       *slog.Logger
	store        persistence.Persistence
	bus          eventbus.EventBus
	engine       *engine.Engine
	closeSignals func() error
}

func newApp(ctx context.Context, logger *slog.Logger, cfg config) (*app, error) {
	store, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	bus, err := cmd.NewEventBus(cfg.EventBus, cfg.KafkaBrokers, logger)
	if err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	sources, closeSignals, err := cmd.NewSignalSources(cfg.Signals, logger)
	if err != nil {
		_ = bus.Close()
		_ = store.Close(ctx)

		return nil, err
	}

	clock := signals.SystemClock{}

	var providerOpts []sideshift.Option
	if cfg.SideShiftURL != "" {
		providerOpts = append(providerOpts, sideshift.WithBaseURL(cfg.SideShiftURL))
	}

	provider := sideshift.NewClient(cfg.SideShiftSecret, cfg.SideShiftAffiliateID, logger, providerOpts...)
	orchestrator := swap.NewOrchestrator(provider, cfg.Swap, clock, logger)

	var gateway *safe.Gateway

	if cfg.SafeServiceURL != "" && cfg.SignerURL != "" {
		signer := safe.NewRemoteSigner(cfg.SignerURL, cfg.SignerAddress, logger)
		gateway = safe.NewGateway(orchestrator, safe.NewHTTPService(cfg.SafeServiceURL, signer, logger), clock, logger)
	} else {
		logger.InfoContext(ctx, "Multi-sig gateway disabled, workflows with a safe address will fail their swaps")
	}

	opts := executor.Options{
		Swapper:   orchestrator,
		Webhooks:  webhook.NewAction(nil, logger),
		Notifier:  notify.NewNotifier(nil, bus, logger),
		Store:     store,
		Publisher: bus,
		Clock:     clock,
		Logger:    logger,
	}

	// a typed nil would hide the missing gateway from the executor
	if gateway != nil {
		opts.Safe = gateway
	}

	sched := scheduler.New(
		store,
		condition.NewEvaluator(sources, logger),
		executor.NewExecutor(opts),
		clock,
		cfg.Scheduler,
		logger,
	)

	var engineGateway engine.SafeGateway
	if gateway != nil {
		engineGateway = gateway
	}

	a := &app{
		logger:       logger,
		store:        store,
		bus:          bus,
		engine:       engine.New(store, sched, engineGateway, logger),
		closeSignals: closeSignals,
	}

	err = a.handleEvents()
	if err != nil {
		a.Close(ctx)

		return nil, err
	}

	return a, nil
}

// handleEvents logs execution outcomes and notifications published on the bus.
func (a *app) handleEvents() error {
	logger := a.logger.With("module", "events")

	err := a.bus.Handle(events.ExecutionFailedEvent, func(ctx context.Context, event any) error {
		failed, ok := event.(*events.ExecutionFailed)
		if !ok {
			return nil
		}

		logger.WarnContext(ctx, "Execution failed",
			"workflow_id", failed.WorkflowID,
			"execution_id", failed.ExecutionID,
			"timed_out", failed.TimedOut,
			"error", failed.Error,
		)

		return nil
	})
	if err != nil {
		return err
	}

	err = a.bus.Handle(events.ExecutionCompletedEvent, func(ctx context.Context, event any) error {
		completed, ok := event.(*events.ExecutionCompleted)
		if !ok {
			return nil
		}

		logger.InfoContext(ctx, "Execution completed",
			"workflow_id", completed.WorkflowID,
			"execution_id", completed.ExecutionID,
			"steps", completed.Steps,
			"duration", completed.Duration,
		)

		return nil
	})
	if err != nil {
		return err
	}

	return a.bus.Handle(events.NotificationRequestedEvent, func(ctx context.Context, event any) error {
		notification, ok := event.(*events.NotificationRequested)
		if !ok {
			return nil
		}

		logger.InfoContext(ctx, "Notification",
			"workflow_id", notification.WorkflowID,
			"recipient", notification.Recipient,
			"message", notification.Message,
		)

		return nil
	})
}

func (a *app) Close(ctx context.Context) {
	err := a.bus.Close()
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	err = a.closeSignals()
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to close signal cache", "error", err)
	}

	err = a.store.Close(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
