// Package redis provides Redis persistence for workflows and executions.
//
// Key layout, under a configurable prefix:
//
//	<prefix>workflow:<id>              => workflow JSON
//	<prefix>idx:workflows              => ZSET of workflow ids scored by creation time
//	<prefix>execution:<id>             => execution JSON
//	<prefix>idx:executions:<workflow>  => ZSET of execution ids scored by start time
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "shiftflow:"
	// watched transactions retried before an update gives up
	maxUpdateAttempts = 50
)

// Persistence implements persistence.Persistence on Redis.
type Persistence struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewPersistence connects to a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, url string) (*Persistence, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	p := NewPersistenceWithClient(redis.NewClient(options), defaultPrefix, logger)

	err = p.HealthCheck(ctx)
	if err != nil {
		_ = p.client.Close()

		return nil, err
	}

	return p, nil
}

// NewPersistenceWithClient wraps an existing client. An empty prefix uses "shiftflow:".
func NewPersistenceWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Persistence {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Persistence{
		client: client,
		prefix: prefix,
		logger: logger.With("module", "redis_persistence"),
	}
}

func (p *Persistence) keyWorkflow(id string) string {
	return p.prefix + "workflow:" + id
}

func (p *Persistence) keyWorkflows() string {
	return p.prefix + "idx:workflows"
}

func (p *Persistence) keyExecution(id string) string {
	return p.prefix + "execution:" + id
}

func (p *Persistence) keyWorkflowExecutions(workflowID string) string {
	return p.prefix + "idx:executions:" + workflowID
}

func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return p.workflows(ctx, func(*models.Workflow) bool { return true })
}

func (p *Persistence) ActiveWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return p.workflows(ctx, func(w *models.Workflow) bool { return w.Status == models.WorkflowStatusActive })
}

func (p *Persistence) workflows(ctx context.Context, keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	ids, err := p.client.ZRange(ctx, p.keyWorkflows(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	if len(ids) == 0 {
		return workflows, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.keyWorkflow(id)
	}

	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			// index entry without payload
			p.logger.WarnContext(ctx, "Workflow index points to a missing record", "workflow_id", ids[i])

			continue
		}

		var workflow models.Workflow

		err := json.Unmarshal([]byte(data), &workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", ids[i], err)
		}

		if keep(&workflow) {
			workflows = append(workflows, &workflow)
		}
	}

	return workflows, nil
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, persistence.ErrInvalidID)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.keyWorkflow(workflow.ID), data, 0)
		pipe.ZAdd(ctx, p.keyWorkflows(), redis.Z{Score: float64(workflow.CreatedAt.UnixMilli()), Member: workflow.ID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	data, err := p.client.Get(ctx, p.keyWorkflow(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// UpdateWorkflow runs change inside a WATCH transaction on the workflow key and retries when
// another writer got there first.
func (p *Persistence) UpdateWorkflow(
	ctx context.Context,
	id string,
	change func(*models.Workflow) error,
) (*models.Workflow, error) {
	key := p.keyWorkflow(id)

	var updated *models.Workflow

	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return persistence.NewWorkflowError("UpdateWorkflow", id, persistence.ErrWorkflowNotFound)
			}

			return fmt.Errorf("failed to fetch workflow %s: %w", id, err)
		}

		var workflow models.Workflow

		err = json.Unmarshal(data, &workflow)
		if err != nil {
			return fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
		}

		err = change(&workflow)
		if err != nil {
			return err
		}

		workflow.ID = id
		workflow.UpdatedAt = time.Now().UTC()

		payload, err := json.Marshal(&workflow)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)

			return nil
		})
		if err != nil {
			return err
		}

		updated = &workflow

		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := p.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return updated, nil
	}

	return nil, fmt.Errorf("failed to update workflow %s: gave up after %d conflicting writes", id, maxUpdateAttempts)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	var deleted *redis.IntCmd

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, p.keyWorkflow(id))
		pipe.ZRem(ctx, p.keyWorkflows(), id)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		return persistence.NewExecutionError("SaveExecution", execution.ID, persistence.ErrInvalidID)
	}

	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.keyExecution(execution.ID), data, 0)
		pipe.ZAdd(ctx, p.keyWorkflowExecutions(execution.WorkflowID), redis.Z{
			Score:  float64(execution.StartedAt.UnixMilli()),
			Member: execution.ID,
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	data, err := p.client.Get(ctx, p.keyExecution(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	return decodeExecution(id, data)
}

func (p *Persistence) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	ids, err := p.client.ZRange(ctx, p.keyWorkflowExecutions(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of workflow %s: %w", workflowID, err)
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := p.ExecutionByID(ctx, id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		executions = append(executions, execution)
	}

	// equal millisecond scores fall back to lexical order in Redis
	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func decodeExecution(id string, data []byte) (*models.Execution, error) {
	var execution models.Execution

	err := json.Unmarshal(data, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}
