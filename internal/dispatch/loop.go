package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"discflow/internal/logging"
)

var (
	// ErrLoopRunning is returned when Run is called on a loop that already has
	// an owning goroutine.
	ErrLoopRunning = errors.New("dispatch loop already running")
	// ErrLoopClosed is returned when Run is called after Close.
	ErrLoopClosed = errors.New("dispatch loop closed")
)

type loopKey struct{}

// Loop is a FIFO execution context owned by the goroutine that calls Run.
type Loop struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running bool
	closed  bool
	exited  bool
	done    chan struct{}
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger used to report callbacks that panic.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLoopName labels the loop in logs.
func WithLoopName(name string) LoopOption {
	return func(l *Loop) {
		l.name = name
	}
}

// NewLoop constructs an idle loop. Submissions queue up until Run is called.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		name:   "callback",
		logger: logging.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Go runs the loop on a new goroutine and returns once it owns the queue.
func (l *Loop) Go(ctx context.Context) {
	started := make(chan struct{})
	go func() {
		l.RunSync(ctx, func(context.Context) { close(started) })
	}()
	go func() {
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Debug("dispatch loop stopped", logging.String("loop", l.name), logging.Error(err))
		}
	}()
	<-started
}

// Run executes queued functions on the calling goroutine until ctx ends or
// Close is called, then drains whatever is still queued.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	switch {
	case l.running:
		l.mu.Unlock()
		return ErrLoopRunning
	case l.closed:
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.running = true
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, l.Close)
	defer stop()
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.exited = true
			l.running = false
			l.mu.Unlock()
			return ctx.Err()
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
	}
}

// Close stops the loop after the queue drains. Later submissions run inline
// on the submitting goroutine.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// RunSync implements Dispatcher. Calls made from inside a callback of the same
// loop run immediately instead of deadlocking on the queue.
func (l *Loop) RunSync(ctx context.Context, fn func(context.Context)) {
	if fn == nil {
		return
	}
	ctx = neutral(ctx)
	if owner, ok := ctx.Value(loopKey{}).(*Loop); ok && owner == l {
		fn(ctx)
		return
	}
	cbCtx := context.WithValue(ctx, loopKey{}, l)
	done := make(chan struct{})
	l.submit(func() {
		defer close(done)
		fn(cbCtx)
	})
	<-done
}

// RunAsync implements Dispatcher.
func (l *Loop) RunAsync(fn func()) {
	if fn == nil {
		return
	}
	l.submit(fn)
}

func (l *Loop) submit(fn func()) {
	l.mu.Lock()
	if l.exited || (l.closed && !l.running) {
		l.mu.Unlock()
		l.invoke(fn)
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	l.mu.Unlock()
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(l.logger, "dispatched callback panicked", "dispatch_panic",
				logging.String("loop", l.name),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "fix the callback; the loop keeps running"),
			)
		}
	}()
	fn()
}
