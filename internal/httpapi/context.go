package httpapi

import (
	"context"
	"net/http"
	"time"
)

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives from b (keeping its values) and is also canceled
// when a ends. The cancel func must be called when the handler returns.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b)
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// requestContext is canceled on client disconnect, server shutdown, or after
// limit when it is positive.
func requestContext(r *http.Request, limit time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if limit <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, limit)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

// aborted reports whether the client or the server went away.
func aborted(r *http.Request) bool {
	return r.Context().Err() != nil || serverBaseCtx.Err() != nil
}
