package tracing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracing(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "spans.txt")
	assert.NoError(t, Init("labq-test", "0.0.1", fname))

	ctx, span := StartSpan(context.Background(), "test.operation", "INTERNAL")
	span.WithAttributes(map[string]string{"reservation.id": "res-1"})

	childCtx, child := StartSpan(ctx, "test.child", "CLIENT")
	EndSpan(child, errors.New("boom"))
	EndSpan(span, nil)

	recovered, ok := SpanFromContext(childCtx)
	assert.True(t, ok)
	assert.NotNil(t, recovered)

	// nil-safety
	EndSpan(nil, nil)
	var missing *Span
	missing.SetStatus(nil)
}
