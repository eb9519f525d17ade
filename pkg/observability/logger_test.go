package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info", "json", &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.WithField("tenant_id", "tenant-a").Info("pool created")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "pool created", entry["msg"])
	assert.Equal(t, "tenant-a", entry["tenant_id"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("DEBUG", "text", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger("loud", "json", nil)
	assert.Error(t, err)

	_, err = NewLogger("info", "xml", nil)
	assert.Error(t, err)
}

func TestWithTraceContext(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entry := logrus.NewEntry(logger)

	WithTraceContext(context.Background(), entry).Info("no span")
	assert.NotContains(t, hook.LastEntry().Data, "trace_id")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	WithTraceContext(ctx, entry).Info("with span")
	assert.Equal(t, span.SpanContext().TraceID().String(), hook.LastEntry().Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), hook.LastEntry().Data["span_id"])
}

func TestRecoverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	func() {
		defer RecoverPanic(logger, "worker")
		panic("boom")
	}()

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])
	assert.Equal(t, "worker", hook.LastEntry().Data["context"])

	hook.Reset()
	func() {
		defer RecoverPanic(logger, "quiet")
	}()
	assert.Empty(t, hook.Entries)
}
