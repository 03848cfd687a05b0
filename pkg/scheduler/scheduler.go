// Package scheduler periodically checks active workflows and runs the ones whose condition holds.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dukex/shiftflow/pkg/condition"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/otelhelper"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/signals"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultMaxConcurrency = 16
)

// Evaluator decides whether a condition tree holds.
type Evaluator interface {
	Evaluate(ctx context.Context, condition models.Condition) *condition.Result
}

// Runner runs the actions of a triggered workflow into execution.
type Runner interface {
	Run(ctx context.Context, workflow *models.Workflow, execution *models.Execution)
}

type Config struct {
	Interval time.Duration
	// MaxConcurrency bounds the workflows checked at once within a tick.
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}

	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}

	return c
}

// Scheduler drives the workflow state machine:
//
//	draft --activate--> active <--pause/resume--> paused
//	active --max executions reached--> completed
//
// A workflow is never executed twice at the same time.
type Scheduler struct {
	store     persistence.Persistence
	evaluator Evaluator
	runner    Runner
	clock     signals.Clock
	config    Config
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	abortMu   sync.Mutex
	abortCtx  context.Context
	abortRuns context.CancelFunc

	runs sync.WaitGroup
}

func New(
	store persistence.Persistence,
	evaluator Evaluator,
	runner Runner,
	clock signals.Clock,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	if clock == nil {
		clock = signals.SystemClock{}
	}

	abortCtx, abortRuns := context.WithCancel(context.Background())

	return &Scheduler{
		store:     store,
		evaluator: evaluator,
		runner:    runner,
		clock:     clock,
		config:    config.withDefaults(),
		logger:    logger.With("module", "scheduler"),
		inflight:  make(map[string]struct{}),
		abortCtx:  abortCtx,
		abortRuns: abortRuns,
	}
}

// Start begins ticking every interval, with a first tick right away. A non-positive interval
// uses the configured one. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.logger.DebugContext(ctx, "Scheduler already running")

		return
	}

	if interval <= 0 {
		interval = s.config.Interval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, interval, s.done)

	s.logger.InfoContext(ctx, "Scheduler started", "interval", interval)
}

// Stop ends the loop and returns once it exited. Executions already running keep going; use
// Wait to block until they finish. Stopping a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	s.logger.Info("Scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancel != nil
}

// Wait blocks until every tick started by the loop has finished. Call it after Stop.
func (s *Scheduler) Wait() {
	s.runs.Wait()
}

// Abort cancels every execution running at the time of the call. Aborted executions end as
// failed and are still recorded. Executions started afterwards are not affected.
func (s *Scheduler) Abort() {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()

	s.abortRuns()
	s.abortCtx, s.abortRuns = context.WithCancel(context.Background())

	s.logger.Warn("Running executions aborted")
}

// runContext detaches a run from the tick, so stopping the scheduler never cancels it, while
// keeping it reachable by Abort.
func (s *Scheduler) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	s.abortMu.Lock()
	aborted := s.abortCtx
	s.abortMu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(aborted, cancel)

	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.spawnTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.spawnTick(ctx)
		}
	}
}

// spawnTick runs a tick without blocking the loop, so a long swap never delays other workflows.
func (s *Scheduler) spawnTick(ctx context.Context) {
	s.runs.Add(1)

	go func() {
		defer s.runs.Done()

		err := s.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "Tick failed", "error", err)
		}
	}()
}

// Tick checks every active workflow once and returns when all triggered executions finished.
// Once ctx is done no new execution starts; running ones are only cancelled by Abort.
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, span := otelhelper.StartSpan(ctx, "scheduler.tick")
	defer span.End()

	workflows, err := s.store.ActiveWorkflows(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to list active workflows: %w", err)
	}

	span.SetAttributes(attribute.Int(otelhelper.WorkflowsKey, len(workflows)))

	s.logger.DebugContext(ctx, "Checking workflows", "count", len(workflows))

	var group errgroup.Group

	group.SetLimit(s.config.MaxConcurrency)

	for _, workflow := range workflows {
		group.Go(func() error {
			s.checkSafely(ctx, workflow)

			return nil
		})
	}

	return group.Wait()
}

func (s *Scheduler) checkSafely(ctx context.Context, workflow *models.Workflow) {
	logger := s.logger.With("workflow_id", workflow.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Workflow check panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	err := s.check(ctx, workflow, logger)
	if err != nil {
		logger.ErrorContext(ctx, "Workflow check failed", "error", err)
	}
}

func (s *Scheduler) check(ctx context.Context, listed *models.Workflow, logger *slog.Logger) error {
	if !s.acquire(listed.ID) {
		logger.DebugContext(ctx, "Workflow is executing, skipping")

		return nil
	}
	defer s.release(listed.ID)

	// another tick may have run the workflow since it was listed
	workflow, err := s.store.WorkflowByID(ctx, listed.ID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil
		}

		return fmt.Errorf("failed to reload workflow: %w", err)
	}

	if workflow.Status != models.WorkflowStatusActive {
		logger.DebugContext(ctx, "Workflow is no longer active, skipping", "status", workflow.Status)

		return nil
	}

	if workflow.ReachedMaxExecutions() {
		logger.InfoContext(ctx, "Workflow reached its max executions", "execution_count", workflow.ExecutionCount)

		return s.update(ctx, workflow.ID, func(latest *models.Workflow) {
			if latest.Status == models.WorkflowStatusActive {
				latest.Status = models.WorkflowStatusCompleted
			}
		})
	}

	result := s.evaluator.Evaluate(ctx, workflow.Condition)
	checkedAt := s.clock.Now()

	if ctx.Err() != nil {
		return nil
	}

	if !result.Satisfied {
		return s.update(ctx, workflow.ID, func(latest *models.Workflow) {
			latest.LastCheckedAt = &checkedAt
		})
	}

	logger.InfoContext(ctx, "Condition met, executing workflow")

	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	execution := models.NewExecution(workflow.ID, checkedAt)

	step := execution.AppendStep(models.StepConditionCheck, checkedAt)
	step.Status = models.StepStatusCompleted
	step.Data["satisfied"] = result.Satisfied
	step.Data["observations"] = result.Observations

	s.runner.Run(runCtx, workflow, execution)

	result.Commit(checkedAt)

	// an aborted run still records its outcome
	return s.record(context.WithoutCancel(runCtx), workflow, execution, checkedAt)
}

// record applies the outcome of an execution to the stored workflow.
func (s *Scheduler) record(
	ctx context.Context,
	evaluated *models.Workflow,
	execution *models.Execution,
	checkedAt time.Time,
) error {
	executedAt := s.clock.Now()

	return s.update(ctx, evaluated.ID, func(latest *models.Workflow) {
		carryFired(evaluated.Condition, latest.Condition)

		latest.LastCheckedAt = &checkedAt
		latest.LastExecutedAt = &executedAt

		if execution.Status == models.ExecutionStatusCompleted {
			latest.ExecutionCount++
		}

		if latest.ReachedMaxExecutions() && latest.Status == models.WorkflowStatusActive {
			latest.Status = models.WorkflowStatusCompleted
		}
	})
}

// carryFired copies LastFired from the time based leaves of evaluated onto the matching leaves
// of latest. Subtrees whose shape differs are left alone.
func carryFired(evaluated, latest models.Condition) {
	switch e := evaluated.(type) {
	case *models.TimeBased:
		l, ok := latest.(*models.TimeBased)
		if ok && l.Schedule == e.Schedule && l.Expression == e.Expression {
			l.LastFired = e.LastFired
		}
	case *models.CompositeAnd:
		l, ok := latest.(*models.CompositeAnd)
		if ok {
			carryFiredList(e.Children, l.Children)
		}
	case *models.CompositeOr:
		l, ok := latest.(*models.CompositeOr)
		if ok {
			carryFiredList(e.Children, l.Children)
		}
	}
}

func carryFiredList(evaluated, latest models.ConditionList) {
	if len(evaluated) != len(latest) {
		return
	}

	for i := range evaluated {
		carryFired(evaluated[i], latest[i])
	}
}

// update applies change to the stored workflow atomically. A workflow deleted meanwhile is
// left alone.
func (s *Scheduler) update(ctx context.Context, id string, change func(*models.Workflow)) error {
	_, err := s.store.UpdateWorkflow(ctx, id, func(latest *models.Workflow) error {
		change(latest)

		return nil
	})
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return err
	}

	return nil
}

func (s *Scheduler) acquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if _, busy := s.inflight[id]; busy {
		return false
	}

	s.inflight[id] = struct{}{}

	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	delete(s.inflight, id)
}
