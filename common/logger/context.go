package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (run_id, section index, etc.) is automatically included in all log statements.
type LogFields struct {
	RunID     *int64  // Pipeline run ID
	ArticleID *int64  // Generated article ID
	MessageID *string // Redis stream message ID
	Section   *int    // Section index during content generation
	Stage     *string // Pipeline stage name (e.g., "structure", "keywords")
	Component string  // Component name (OTel semantic convention style, e.g., "pipeline.brain.coordinator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, updated LogFields) LogFields {
	result := existing

	if updated.RunID != nil {
		result.RunID = updated.RunID
	}
	if updated.ArticleID != nil {
		result.ArticleID = updated.ArticleID
	}
	if updated.MessageID != nil {
		result.MessageID = updated.MessageID
	}
	if updated.Section != nil {
		result.Section = updated.Section
	}
	if updated.Stage != nil {
		result.Stage = updated.Stage
	}
	if updated.Component != "" {
		result.Component = updated.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{RunID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like prompts or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
