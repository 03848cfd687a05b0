// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/dukex/shiftflow/pkg/engine"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	engine    *engine.Engine
	validator *validator.Validate
}

func NewAPIHandlers(engine *engine.Engine, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
	}
}

// Register mounts the API routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/pause", h.PauseWorkflow)
	w.Post("/:id/resume", h.ResumeWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	router.Get("/executions/:id", h.GetExecution)

	s := router.Group("/safe/transactions")
	s.Get("/:hash", h.GetSafeTransaction)
	s.Post("/:hash/execute", h.ExecuteSafeTransaction)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	var query ListWorkflowsQuery
	if err := c.Bind().Query(&query); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.validator.Struct(query); err != nil {
		return badRequest(c, err.Error())
	}

	workflows, err := h.engine.ListWorkflows(c.Context(), query.Owner)
	if err != nil {
		return handleEngineError(c, err)
	}

	if query.Status != "" {
		workflows = slices.DeleteFunc(workflows, func(w *models.Workflow) bool {
			return string(w.Status) != query.Status
		})
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.engine.GetWorkflow(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

// CreateWorkflow registers a workflow document. The body is checked against the workflow JSON
// schema before it is decoded.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	workflow, err := models.ValidateWorkflowDocument(c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.engine.RegisterWorkflow(c.Context(), workflow)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.engine.Delete(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.engine.Activate)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.engine.Pause)
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	return h.transition(c, h.engine.Resume)
}

func (h *APIHandlers) transition(
	c fiber.Ctx,
	op func(ctx context.Context, id string) (*models.Workflow, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := op(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	executions, err := h.engine.GetWorkflowExecutions(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	summaries := make([]ExecutionSummary, 0, len(executions))
	for _, execution := range executions {
		summaries = append(summaries, TransformExecutionSummary(execution))
	}

	return c.JSON(fiber.Map{
		"executions":  summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.engine.GetExecution(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetSafeTransaction(c fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return badRequest(c, "Safe transaction hash is required")
	}

	status, err := h.engine.SafeTransactionStatus(c.Context(), hash)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) ExecuteSafeTransaction(c fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return badRequest(c, "Safe transaction hash is required")
	}

	receipt, err := h.engine.ExecuteSafeTransaction(c.Context(), hash)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(SafeExecuteResponse{SafeTxHash: hash, ReceiptHash: receipt})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.engine.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Shiftflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Shiftflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"monitoring": h.engine.Monitoring(),
		"timestamp":  time.Now().UTC(),
	})
}
