package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyDSNIsNoop(t *testing.T) {
	shutdown, err := Init(Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestSpan_UsableWithoutSentry(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "Pipeline.Process", SpanAttributes{
		DocumentID: "doc-1",
		Operation:  "ingest",
	})
	require.NotNil(t, ctx)

	assert.NotPanics(t, func() {
		span.SetCount("chunks_accepted", 3)
		span.SetError(errors.New("embedding service failed"))
		span.SetError(nil)
		span.End()
	})
}

func TestSpan_ZeroValue(t *testing.T) {
	var span Span
	assert.NotPanics(t, func() {
		span.SetCount("results", 1)
		span.SetError(errors.New("x"))
		span.End()
	})
}

func TestUntracedTransactions(t *testing.T) {
	assert.True(t, untracedTransactions["GET /health"])
	assert.False(t, untracedTransactions["POST /search"])
}
