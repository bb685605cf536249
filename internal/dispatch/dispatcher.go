package dispatch

import "context"

// Dispatcher runs functions on a fixed execution context.
type Dispatcher interface {
	// RunSync executes fn on the context and blocks until it returns. fn
	// always runs; when ctx is already canceled it receives a context that
	// carries ctx's values without its cancellation.
	RunSync(ctx context.Context, fn func(context.Context))
	// RunAsync schedules fn on the context and returns immediately.
	RunAsync(fn func())
}

// neutral strips an already-fired cancellation so cleanup callbacks are never
// short-circuited by the signal that triggered them.
func neutral(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if ctx.Err() != nil {
		return context.WithoutCancel(ctx)
	}
	return ctx
}

// Inline executes everything immediately on the calling goroutine.
type Inline struct{}

// RunSync implements Dispatcher.
func (Inline) RunSync(ctx context.Context, fn func(context.Context)) {
	if fn == nil {
		return
	}
	fn(neutral(ctx))
}

// RunAsync implements Dispatcher.
func (Inline) RunAsync(fn func()) {
	if fn == nil {
		return
	}
	fn()
}
