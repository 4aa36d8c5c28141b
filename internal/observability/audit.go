package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/harun/cmdq/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event types
const (
	AuditCommand  = "command"
	AuditControl  = "control"
	AuditSecurity = "security"
)

// AuditEvent is one line of the audit log
type AuditEvent struct {
	Type      string
	Timestamp time.Time
	Actor     string // command id, rpc client or "daemon"
	Action    string // e.g. "run", "processor.stop"
	Status    string
	Metadata  map[string]interface{}
}

// AuditLogger writes audit events as JSON lines
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditLogger writes events to w. Close closes w when it is an io.Closer.
func NewAuditLogger(w io.Writer) *AuditLogger {
	a := &AuditLogger{logger: zerolog.New(w)}
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		a.closer = c
	}
	return a
}

var (
	auditMu   sync.RWMutex
	auditInst = NewAuditLogger(os.Stderr)
)

// GetAuditLogger returns the process audit logger, stderr until
// InitAuditLogger is called
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger points the process audit logger at a file
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	auditMu.Lock()
	auditInst = NewAuditLogger(file)
	auditMu.Unlock()
	return nil
}

// Record writes event. The trace id comes from the active span, else from
// the ids ctx carries; a valid span also gets the event attached.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ids := tracing.FromContext(ctx)
	traceID := ids.TraceID
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if traceID != "" {
		entry.Str("trace_id", traceID)
	}
	if ids.RequestID != "" {
		entry.Str("request_id", ids.RequestID)
	}
	if len(event.Metadata) > 0 {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close releases the underlying file. Later events go to stderr.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	a.logger = zerolog.New(os.Stderr)
	return err
}

func RecordCommandAudit(ctx context.Context, commandID, action, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{Type: AuditCommand, Actor: commandID, Action: action, Status: status, Metadata: metadata})
}

func RecordControlAudit(ctx context.Context, action, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{Type: AuditControl, Actor: actor, Action: action, Status: status, Metadata: metadata})
}

func RecordSecurityAudit(ctx context.Context, action, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{Type: AuditSecurity, Actor: actor, Action: action, Status: status, Metadata: metadata})
}
