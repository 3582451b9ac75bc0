package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/homerunhq/homerun-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxActorRole contextKey = "actor_role"
	ctxRequestID contextKey = "request_id"
)

func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func WithActorRole(ctx context.Context, role enums.ActorRole) context.Context {
	return context.WithValue(ctx, ctxActorRole, role)
}

func ActorRoleFromContext(ctx context.Context) (enums.ActorRole, bool) {
	role, ok := ctx.Value(ctxActorRole).(enums.ActorRole)
	if !ok || !role.IsValid() {
		return "", false
	}
	return role, true
}

func withRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}
