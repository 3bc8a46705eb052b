package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	issueKey contextKey = iota
	eventTypeKey
	tokenKey
)

// WithIssue attaches an issue number to the context for log correlation.
func WithIssue(ctx context.Context, issueNumber int) context.Context {
	return context.WithValue(ctx, issueKey, issueNumber)
}

// IssueFromContext returns the issue number, or 0 if unset.
func IssueFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(issueKey).(int); ok {
		return n
	}
	return 0
}

// WithEventType attaches the event type being handled to the context.
func WithEventType(ctx context.Context, eventType string) context.Context {
	return context.WithValue(ctx, eventTypeKey, eventType)
}

// EventTypeFromContext returns the event type, or "" if unset.
func EventTypeFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(eventTypeKey).(string); ok {
		return s
	}
	return ""
}

// WithToken attaches a dispatch idempotency token to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the idempotency token, or "" if unset.
func TokenFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(tokenKey).(string); ok {
		return s
	}
	return ""
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if issue := IssueFromContext(ctx); issue > 0 {
		fields = append(fields, zap.Int("issue", issue))
	}
	if eventType := EventTypeFromContext(ctx); eventType != "" {
		fields = append(fields, zap.String("event.type", eventType))
	}
	if token := TokenFromContext(ctx); token != "" {
		fields = append(fields, zap.String("event.token", token))
	}

	return fields
}
