package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that carries them.
type LogFields struct {
	FeedbackID *string // queue item id
	CommentID  *int64
	ProjectID  *int64
	Component  string // e.g. "feedback.worker.sentiment"
}

// WithLogFields merges fields into ctx; newer non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.FeedbackID != nil {
		result.FeedbackID = next.FeedbackID
	}
	if next.CommentID != nil {
		result.CommentID = next.CommentID
	}
	if next.ProjectID != nil {
		result.ProjectID = next.ProjectID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

// Ptr returns a pointer to v, handy for inline LogFields literals.
func Ptr[T any](v T) *T {
	return &v
}
