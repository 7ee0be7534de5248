package utils

import (
	"context"
)

type contextKey string

const (
	ContextKeyToken         = contextKey("Token")
	ContextKeyUserId        = contextKey("UserId")
	ContextKeyUserName      = contextKey("UserName")
	ContextKeyCorrelationId = contextKey("CorrelationId")
)

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyToken)
}

// GetUserIdFromContext returns the authenticated user set by the session
// middleware. Zero is never a valid user.
func GetUserIdFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(ContextKeyUserId).(int)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextKeyToken, token)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return context.WithValue(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}
