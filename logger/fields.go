package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldJobID       = "job_id"
	FieldOrgID       = "org_id"
	FieldExecutionID = "execution_id"
	FieldEntityID    = "entity_id"
	FieldRequestID   = "request_id"

	// Components
	FieldComponent = "component"
	FieldKind      = "kind"

	// Scheduling
	FieldTriggerType = "trigger_type"
	FieldNextRunAt   = "next_run_at"
	FieldDueAt       = "due_at"
	FieldPeriod      = "period"
	FieldWakeup      = "wakeup"
	FieldTarget      = "target"
	FieldMethod      = "method"
	FieldTopic       = "topic"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount   = "count"
	FieldAttempt = "attempt"

	// Status
	FieldStatus  = "status"
	FieldSuccess = "success"
	FieldVersion = "version"
)

type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	componentKey contextKey = "logger_component"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base (or the global logger) with fields extracted from context.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	log := Or(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
//	ticker := wakeup.NewTicker(store, deliverer, cfg, logger.ComponentLogger("pulse.wakeup"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
