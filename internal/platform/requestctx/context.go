package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/korisu-sushi/sushi-bot/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/korisu-sushi/sushi-bot/internal/platform/requestctx/trace"
	eventContextKey  contextKey = "github.com/korisu-sushi/sushi-bot/internal/platform/requestctx/event"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// EventInfo identifies the chat event being processed.
type EventInfo struct {
	EventID string
	OwnerID string
	Kind    string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type eventSlot struct {
	mu   sync.Mutex
	info EventInfo
	set  bool
}

// WithEventSlot reserves room for the event identity so middleware wrapping the handler can read
// it once the body has been decoded.
func WithEventSlot(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, eventContextKey, &eventSlot{})
}

// SetEvent records the event identity in the slot. It is a no-op without a slot.
func SetEvent(ctx context.Context, info EventInfo) {
	if ctx == nil {
		return
	}
	slot, ok := ctx.Value(eventContextKey).(*eventSlot)
	if !ok {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.info = info
	slot.set = true
}

// Event retrieves the chat event identity when present.
func Event(ctx context.Context) (EventInfo, bool) {
	if ctx == nil {
		return EventInfo{}, false
	}
	slot, ok := ctx.Value(eventContextKey).(*eventSlot)
	if !ok {
		return EventInfo{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.info, slot.set
}
