package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.Len(t, id1, 36)
	assert.NotEqual(t, id1, id2)
}

func TestGetters_EmptyContext(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetCommandID(ctx))
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetClientID(ctx))
}

func TestWithIDs_AccumulateWithoutMutatingParent(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-123")
	child := WithCommandID(WithRunID(parent, "run-456"), "cmd-789")
	child = WithClientID(WithRequestID(child, "req-abc"), "client-1")

	assert.Equal(t, TraceContext{
		TraceID:   "trace-123",
		RunID:     "run-456",
		CommandID: "cmd-789",
		RequestID: "req-abc",
		ClientID:  "client-1",
	}, FromContext(child))

	assert.Equal(t, TraceContext{TraceID: "trace-123"}, FromContext(parent))
}

func TestNewRequestContext(t *testing.T) {
	t.Run("mints a trace id", func(t *testing.T) {
		ctx := NewRequestContext(context.Background(), "", "req-1")
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.Equal(t, "req-1", GetRequestID(ctx))
	})

	t.Run("uses the presented trace id", func(t *testing.T) {
		ctx := NewRequestContext(context.Background(), "trace-hdr", "req-2")
		assert.Equal(t, "trace-hdr", GetTraceID(ctx))
	})

	t.Run("keeps an existing trace id", func(t *testing.T) {
		parent := WithTraceID(context.Background(), "trace-parent")
		ctx := NewRequestContext(parent, "trace-hdr", "req-3")
		assert.Equal(t, "trace-parent", GetTraceID(ctx))
	})
}

func TestNewCommandRunContext(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-parent")

	first := NewCommandRunContext(parent, "cmd-1")
	second := NewCommandRunContext(parent, "cmd-1")

	assert.Equal(t, "trace-parent", GetTraceID(first))
	assert.Equal(t, "cmd-1", GetCommandID(first))
	assert.NotEmpty(t, GetRunID(first))
	assert.NotEqual(t, GetRunID(first), GetRunID(second))
}
