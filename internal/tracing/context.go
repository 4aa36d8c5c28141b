package tracing

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// TraceContext is the set of correlation ids a context carries. Empty
// fields are unset.
type TraceContext struct {
	TraceID   string
	RunID     string
	CommandID string
	RequestID string
	ClientID  string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// FromContext returns a copy of the ids carried by ctx
func FromContext(ctx context.Context) TraceContext {
	tc, _ := ctx.Value(traceKey{}).(TraceContext)
	return tc
}

func update(ctx context.Context, fn func(*TraceContext)) context.Context {
	tc := FromContext(ctx)
	fn(&tc)
	return context.WithValue(ctx, traceKey{}, tc)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.TraceID = traceID })
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.RunID = runID })
}

func WithCommandID(ctx context.Context, commandID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.CommandID = commandID })
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.RequestID = requestID })
}

// WithClientID tags ctx with the gateway client that issued a request
func WithClientID(ctx context.Context, clientID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.ClientID = clientID })
}

func GetTraceID(ctx context.Context) string   { return FromContext(ctx).TraceID }
func GetRunID(ctx context.Context) string     { return FromContext(ctx).RunID }
func GetCommandID(ctx context.Context) string { return FromContext(ctx).CommandID }
func GetRequestID(ctx context.Context) string { return FromContext(ctx).RequestID }
func GetClientID(ctx context.Context) string  { return FromContext(ctx).ClientID }

// NewRequestContext prepares the context of one gateway request. The trace
// id is kept when ctx has one, taken from traceID when given, and minted
// otherwise.
func NewRequestContext(ctx context.Context, traceID, requestID string) context.Context {
	return update(ctx, func(tc *TraceContext) {
		if tc.TraceID == "" {
			tc.TraceID = traceID
		}
		if tc.TraceID == "" {
			tc.TraceID = NewTraceID()
		}
		tc.RequestID = requestID
	})
}

// NewCommandRunContext creates a context for one execution of a queued
// command, with a fresh run ID
func NewCommandRunContext(ctx context.Context, commandID string) context.Context {
	return update(ctx, func(tc *TraceContext) {
		tc.RunID = NewRunID()
		tc.CommandID = commandID
	})
}
