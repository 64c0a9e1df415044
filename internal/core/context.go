package core

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/stockimport/internal/logging"
)

type contextKey string

const (
	ctxKeyIPAddress contextKey = "client_ip"
	ctxKeyUserAgent contextKey = "client_ua"
)

// ContextWithIPAddress records the client IP for run logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent records the client User-Agent for run logging.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// GetIPAddressFromContext extracts IP address from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// GetUserAgentFromContext extracts User-Agent from context.
func GetUserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}

// LoggerFromContext returns the request logger with the client fields
// recorded in ctx, so operator actions on a run can be traced back.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger := logging.FromContext(ctx)
	if ip := GetIPAddressFromContext(ctx); ip != "" {
		logger = logger.With("client_ip", ip)
	}
	if ua := GetUserAgentFromContext(ctx); ua != "" {
		logger = logger.With("user_agent", ua)
	}
	return logger
}
