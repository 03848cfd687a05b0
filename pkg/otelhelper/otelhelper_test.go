package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/shiftflow/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartSpan_NoopWithoutProvider(t *testing.T) {
	t.Parallel()

	ctx, span := otelhelper.StartSpan(context.Background(), "scheduler.tick",
		attribute.String(otelhelper.WorkflowIDKey, "wf-1"))
	defer span.End()

	assert.NotNil(t, ctx)

	otelhelper.SetError(span, errors.New("boom"), attribute.String(otelhelper.ShiftIDKey, "shift-1"))
}
