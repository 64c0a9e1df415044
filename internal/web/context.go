package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/stockimport/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx so run
// logs record who staged or controlled an import.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr) // resolved by TrustedRealIP
	ctx = core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}

// clientContext applies WithRequestMetadata to every request.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestMetadata(r.Context(), r)))
	})
}
