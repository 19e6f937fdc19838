package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/web/middleware"
)

// WithRequestMetadata adds the client IP to context for attribution logs.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithIPAddress(ctx, middleware.ClientIP(r))
}
