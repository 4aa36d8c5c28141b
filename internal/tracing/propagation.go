package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns base annotated with every id ctx carries
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	fields := []struct{ key, value string }{
		{"trace_id", tc.TraceID},
		{"run_id", tc.RunID},
		{"command_id", tc.CommandID},
		{"request_id", tc.RequestID},
		{"client_id", tc.ClientID},
	}

	lc := base.With()
	for _, f := range fields {
		if f.value != "" {
			lc = lc.Str(f.key, f.value)
		}
	}
	return lc.Logger()
}
