// Package condition evaluates workflow condition trees against live signals.
package condition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/signals"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Observation records what a single leaf saw during an evaluation.
type Observation struct {
	Kind       models.ConditionKind `json:"kind"`
	Subject    string               `json:"subject,omitempty"`
	Value      float64              `json:"value,omitempty"`
	Threshold  float64              `json:"threshold,omitempty"`
	Comparison models.Comparison    `json:"comparison,omitempty"`
	Held       bool                 `json:"held"`
	Error      string               `json:"error,omitempty"`
}

// Result is the outcome of evaluating a condition tree.
type Result struct {
	Satisfied    bool          `json:"satisfied"`
	Observations []Observation `json:"observations"`

	fired []*models.TimeBased
}

// Commit advances LastFired of every time based leaf that held during the evaluation. It is
// called once the tree as a whole was satisfied and its actions were triggered.
func (r *Result) Commit(now time.Time) {
	for _, tb := range r.fired {
		fired := now
		tb.LastFired = &fired
	}
}

// Evaluator evaluates condition trees. Evaluation never mutates the tree; leaves whose
// signal cannot be read evaluate to false.
type Evaluator struct {
	sources  signals.Sources
	logger   *slog.Logger
	programs map[string]*vm.Program
	mu       sync.RWMutex
}

// NewEvaluator creates an Evaluator reading from sources.
func NewEvaluator(sources signals.Sources, logger *slog.Logger) *Evaluator {
	if sources.Clock == nil {
		sources.Clock = signals.SystemClock{}
	}

	return &Evaluator{
		sources:  sources,
		logger:   logger.With("module", "condition_evaluator"),
		programs: make(map[string]*vm.Program),
	}
}

// Evaluate returns whether the condition tree holds right now.
func (e *Evaluator) Evaluate(ctx context.Context, condition models.Condition) *Result {
	result := &Result{Observations: []Observation{}}
	result.Satisfied = e.evaluate(ctx, condition, result)

	if !result.Satisfied {
		result.fired = nil
	}

	return result
}

func (e *Evaluator) evaluate(ctx context.Context, condition models.Condition, result *Result) bool {
	switch c := condition.(type) {
	case *models.CompositeAnd:
		if len(c.Children) == 0 {
			return false
		}

		mark := len(result.fired)

		for _, child := range c.Children {
			if !e.evaluate(ctx, child, result) {
				result.fired = result.fired[:mark]

				return false
			}
		}

		return true
	case *models.CompositeOr:
		for _, child := range c.Children {
			if e.evaluate(ctx, child, result) {
				return true
			}
		}

		return false
	case *models.PriceThreshold:
		return e.priceThreshold(ctx, c, result)
	case *models.GasThreshold:
		return e.gasThreshold(ctx, c, result)
	case *models.BalanceThreshold:
		return e.balanceThreshold(ctx, c, result)
	case *models.TimeBased:
		return e.timeBased(ctx, c, result)
	case *models.Expression:
		return e.expression(ctx, c, result)
	case nil:
		e.logger.WarnContext(ctx, "Nil condition evaluates to false")

		return false
	default:
		e.logger.WarnContext(ctx, "Unknown condition kind evaluates to false", "kind", condition.Kind())
		result.Observations = append(result.Observations, Observation{Kind: condition.Kind(), Error: "unknown kind"})

		return false
	}
}

func (e *Evaluator) threshold(
	ctx context.Context,
	observation Observation,
	reading signals.Reading,
	err error,
	result *Result,
) bool {
	if err != nil {
		e.logger.WarnContext(ctx, "Signal unavailable, condition evaluates to false",
			"kind", observation.Kind, "subject", observation.Subject, "error", err)

		observation.Error = err.Error()
		result.Observations = append(result.Observations, observation)

		return false
	}

	observation.Value = reading.Value
	observation.Held = observation.Comparison.Holds(reading.Value, observation.Threshold)
	result.Observations = append(result.Observations, observation)

	return observation.Held
}

func (e *Evaluator) priceThreshold(ctx context.Context, c *models.PriceThreshold, result *Result) bool {
	observation := Observation{
		Kind:       c.Kind(),
		Subject:    c.Token + "/" + c.Currency,
		Threshold:  c.Threshold,
		Comparison: c.Comparison,
	}

	if e.sources.Price == nil {
		return e.threshold(ctx, observation, signals.Reading{}, signals.ErrSignalUnavailable, result)
	}

	reading, err := e.sources.Price.Price(ctx, c.Token, c.Currency)

	return e.threshold(ctx, observation, reading, err, result)
}

func (e *Evaluator) gasThreshold(ctx context.Context, c *models.GasThreshold, result *Result) bool {
	observation := Observation{
		Kind:       c.Kind(),
		Subject:    c.Network,
		Threshold:  c.Threshold,
		Comparison: c.Comparison,
	}

	if e.sources.Gas == nil {
		return e.threshold(ctx, observation, signals.Reading{}, signals.ErrSignalUnavailable, result)
	}

	reading, err := e.sources.Gas.GasPrice(ctx, c.Network)

	return e.threshold(ctx, observation, reading, err, result)
}

func (e *Evaluator) balanceThreshold(ctx context.Context, c *models.BalanceThreshold, result *Result) bool {
	observation := Observation{
		Kind:       c.Kind(),
		Subject:    c.Address + "/" + c.Token + "@" + c.Network,
		Threshold:  c.Threshold,
		Comparison: c.Comparison,
	}

	if e.sources.Balance == nil {
		return e.threshold(ctx, observation, signals.Reading{}, signals.ErrSignalUnavailable, result)
	}

	reading, err := e.sources.Balance.Balance(ctx, c.Address, c.Token, c.Network)

	return e.threshold(ctx, observation, reading, err, result)
}

func (e *Evaluator) timeBased(ctx context.Context, c *models.TimeBased, result *Result) bool {
	observation := Observation{Kind: c.Kind(), Subject: string(c.Schedule)}

	next, err := NextFire(c)
	if err != nil {
		e.logger.WarnContext(ctx, "Invalid schedule, condition evaluates to false", "schedule", c.Schedule, "error", err)

		observation.Error = err.Error()
		result.Observations = append(result.Observations, observation)

		return false
	}

	observation.Held = !e.sources.Clock.Now().Before(next)
	result.Observations = append(result.Observations, observation)

	if observation.Held {
		result.fired = append(result.fired, c)
	}

	return observation.Held
}

func (e *Evaluator) expression(ctx context.Context, c *models.Expression, result *Result) bool {
	observation := Observation{Kind: c.Kind(), Subject: c.Expr}

	held, err := e.runExpression(ctx, c.Expr)
	if err != nil {
		e.logger.WarnContext(ctx, "Expression failed, condition evaluates to false", "expr", c.Expr, "error", err)

		observation.Error = err.Error()
	}

	observation.Held = held
	result.Observations = append(result.Observations, observation)

	return held
}

func (e *Evaluator) expressionEnv(ctx context.Context) map[string]any {
	now := e.sources.Clock.Now()

	return map[string]any{
		"price": func(token, currency string) (float64, error) {
			if e.sources.Price == nil {
				return 0, signals.ErrSignalUnavailable
			}

			reading, err := e.sources.Price.Price(ctx, token, currency)

			return reading.Value, err
		},
		"gas": func(network string) (float64, error) {
			if e.sources.Gas == nil {
				return 0, signals.ErrSignalUnavailable
			}

			reading, err := e.sources.Gas.GasPrice(ctx, network)

			return reading.Value, err
		},
		"balance": func(address, token, network string) (float64, error) {
			if e.sources.Balance == nil {
				return 0, signals.ErrSignalUnavailable
			}

			reading, err := e.sources.Balance.Balance(ctx, address, token, network)

			return reading.Value, err
		},
		"unix":    now.Unix(),
		"hour":    now.Hour(),
		"weekday": int(now.Weekday()),
	}
}

func (e *Evaluator) runExpression(ctx context.Context, expression string) (bool, error) {
	env := e.expressionEnv(ctx)

	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()

		if program, ok = e.programs[expression]; !ok {
			var err error

			program, err = expr.Compile(expression, expr.Env(env), expr.AsBool())
			if err != nil {
				e.mu.Unlock()

				return false, fmt.Errorf("failed to compile expression: %w", err)
			}

			e.programs[expression] = program
		}

		e.mu.Unlock()
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}

	held, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, output)
	}

	return held, nil
}

// Check reports structural problems evaluation would only log: unparsable cron
// expressions and expressions that do not compile against the signal environment.
func Check(condition models.Condition) error {
	switch c := condition.(type) {
	case *models.CompositeAnd:
		return checkChildren(c.Children)
	case *models.CompositeOr:
		return checkChildren(c.Children)
	case *models.TimeBased:
		_, err := ScheduleFor(c)

		return err
	case *models.Expression:
		evaluator := &Evaluator{sources: signals.Sources{Clock: signals.SystemClock{}}}

		_, err := expr.Compile(c.Expr, expr.Env(evaluator.expressionEnv(context.Background())), expr.AsBool())
		if err != nil {
			return fmt.Errorf("invalid expression %q: %w", c.Expr, err)
		}

		return nil
	default:
		return nil
	}
}

func checkChildren(children models.ConditionList) error {
	for _, child := range children {
		err := Check(child)
		if err != nil {
			return err
		}
	}

	return nil
}
