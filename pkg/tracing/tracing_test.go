package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

func TestStartSpanWithoutTracer(t *testing.T) {
	SetTracer(nil)
	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()

	assert.Equal(t, "", GetTraceID(ctx))
	RecordError(span, errors.New("ignored"))
}

func TestInitProducesTraceIDs(t *testing.T) {
	shutdown := Init("fern-test", exporters.NoopExporter{})
	defer func() {
		_ = shutdown(context.Background())
		SetTracer(nil)
	}()

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()

	assert.Len(t, GetTraceID(ctx), 32)
	assert.Len(t, GetSpanID(ctx), 16)
	assert.NotEmpty(t, GetTraceParent(ctx))
}
