package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across strata.
const (
	// Orchestration identity
	FieldJob     = "job"
	FieldTrigger = "trigger"
	FieldRunID   = "run_id"
	FieldRunKey  = "run_key"
	FieldTick    = "tick"

	// Graph elements
	FieldAsset = "asset"
	FieldCheck = "check"
	FieldGroup = "group"

	// Components
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError  = "error"
	FieldReason = "reason"

	// Counts and status
	FieldCount    = "count"
	FieldStatus   = "status"
	FieldSeverity = "severity"

	// Files
	FieldFile = "file"
	FieldPath = "path"

	// Marker field carrying a component glyph
	FieldSymbol = "symbol"
)

// Component glyphs, logged as the "symbol" field.
const (
	SymbolPulse = "꩜"
	SymbolAsset = "◆"
	SymbolCheck = "✓"
)

type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// PulseLogger pre-attaches the pulse glyph to log.
func PulseLogger(log *zap.SugaredLogger) *zap.SugaredLogger {
	return log.With(FieldSymbol, SymbolPulse)
}
