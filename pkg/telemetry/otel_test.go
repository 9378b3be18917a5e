package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	shutdown, err := Setup(ctx, true, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "unit")
	span.End()

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), `"Name": "unit"`)
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), false, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
