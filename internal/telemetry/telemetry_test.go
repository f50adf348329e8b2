package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.Profiling.Enabled)
	assert.Equal(t, "ccsd", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())

	ctx, span := StartSpan(ctx, SpanLockRequest, Object("ccache:1"), LockMode("write"))
	defer span.End()

	assert.NotPanics(t, func() {
		AddEvent(ctx, "granted", Queued(true))
		SetAttributes(ctx, Status("Success"))
		RecordError(ctx, nil)
		RecordError(ctx, errors.New("boom"))
	})
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, stop())
}

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes([]string{"cpu", "mutex_count"})
	require.NoError(t, err)
	assert.Len(t, types, 2)

	_, err = ParseProfileTypes([]string{"heap"})
	assert.Error(t, err)
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, AttrRequestID, string(RequestID(9).Key))
	assert.Equal(t, int64(9), RequestID(9).Value.AsInt64())
	assert.Equal(t, "API:a", Cache("API:a").Value.AsString())
	assert.Equal(t, AttrClientID, string(ClientID("x").Key))
	assert.True(t, Queued(true).Value.AsBool())
	assert.Equal(t, "LOCK", Operation("LOCK").Value.AsString())
	assert.Equal(t, "id", LockID("id").Value.AsString())
}
