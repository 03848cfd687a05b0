package web

import (
	"errors"

	"github.com/dukex/shiftflow/pkg/engine"
	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/safe"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func problem(c fiber.Ctx, status int, kind string, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

// handleEngineError maps engine, persistence and multi-sig errors to problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())

	case engine.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")

	case safe.IsInsufficientConfirmations(err):
		return problem(c, fiber.StatusConflict, "insufficient_confirmations", err.Error())

	case errors.Is(err, safe.ErrAlreadyExecuted):
		return problem(c, fiber.StatusConflict, "already_executed", err.Error())

	case errors.Is(err, engine.ErrSafeNotConfigured):
		return problem(c, fiber.StatusNotImplemented, "safe_not_configured", err.Error())

	default:
		p := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}
