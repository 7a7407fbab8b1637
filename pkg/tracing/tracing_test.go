package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	p, err := Init("testpilot-test", &buf)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "step", AttrStep.Int(2))
	AddEvent(ctx, "transition", AttrState.String("deciding"))
	EndWithError(span, errors.New("step timed out"))

	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name": "step"`)
	assert.Contains(t, out, "testpilot.step.number")
	assert.Contains(t, out, "step timed out")
	assert.Contains(t, out, "testpilot-test")
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
