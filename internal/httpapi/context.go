package httpapi

import "context"

// serverBaseCtx is cancelled when the process shuts down. Job submission
// joins it with the request context.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context. Nil resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context derived from a that is also cancelled
// when b is done. The cancel func releases the b registration.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
