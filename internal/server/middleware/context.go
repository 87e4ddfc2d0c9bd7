package middleware

import (
	"context"
)

type contextKey string

const (
	ContextKeySubject   contextKey = "subject"
	ContextKeyWorkspace contextKey = "workspace"
)

func SubjectFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeySubject).(string)
	return v, ok
}

func WorkspaceFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyWorkspace).(string)
	return v, ok
}
