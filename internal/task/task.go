package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"discflow/internal/dispatch"
	"discflow/internal/logging"
	"discflow/internal/services"
)

// Work is the body executed off the callback context.
type Work func(ctx context.Context) error

// Task is a single-use async work wrapper.
type Task struct {
	name        string
	callback    dispatch.Dispatcher
	background  dispatch.Dispatcher
	logger      *slog.Logger
	work        Work
	beforeStart func(context.Context) error
	succeed     func()
	fail        func(error)
	always      func()

	mu      sync.Mutex
	started bool
	running bool
	ctx     context.Context
	err     error
	done    chan struct{}
}

// Option customizes a Task.
type Option func(*Task)

// WithBeforeStart runs fn on the callback context before the work begins. An
// error skips the work and routes to the fail callback.
func WithBeforeStart(fn func(context.Context) error) Option {
	return func(t *Task) { t.beforeStart = fn }
}

// OnSucceed runs on the callback context when the work finished without error
// and without cancellation.
func OnSucceed(fn func()) Option {
	return func(t *Task) { t.succeed = fn }
}

// OnFail runs on the callback context for errors and cancellation.
func OnFail(fn func(error)) Option {
	return func(t *Task) { t.fail = fn }
}

// Always runs on the callback context after succeed or fail.
func Always(fn func()) Option {
	return func(t *Task) { t.always = fn }
}

// WithBackground schedules Start on the given dispatcher instead of a new
// goroutine.
func WithBackground(d dispatch.Dispatcher) Option {
	return func(t *Task) { t.background = d }
}

// WithName labels the task in errors and logs.
func WithName(name string) Option {
	return func(t *Task) {
		if name = strings.TrimSpace(name); name != "" {
			t.name = name
		}
	}
}

// WithLogger sets the logger used for recovered callback panics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New builds an unstarted task. A nil callback dispatcher runs callbacks
// inline.
func New(callback dispatch.Dispatcher, work Work, opts ...Option) *Task {
	if callback == nil {
		callback = dispatch.Inline{}
	}
	t := &Task{
		name:     "task",
		callback: callback,
		logger:   logging.NewNop(),
		work:     work,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the task label.
func (t *Task) Name() string {
	return t.name
}

// Start schedules the task and returns immediately.
func (t *Task) Start(ctx context.Context) error {
	ctx, err := t.claim(ctx)
	if err != nil {
		return err
	}
	if t.background != nil {
		t.background.RunAsync(func() { t.execute(ctx) })
		return nil
	}
	go t.execute(ctx)
	return nil
}

// Run executes the whole lifecycle on the calling goroutine and returns the
// outcome. It is the synchronous form used for nested work.
func (t *Task) Run(ctx context.Context) error {
	ctx, err := t.claim(ctx)
	if err != nil {
		return err
	}
	t.execute(ctx)
	return t.Err()
}

// Wait blocks until the always callback has run and returns the outcome.
func (t *Task) Wait() error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return fmt.Errorf("%w: wait on unstarted task %s", services.ErrInvalidState, t.name)
	}
	<-t.done
	return t.Err()
}

// Done is closed once the task has fully finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the task started and has not finished.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Err returns the last recorded error.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// CancelRequested reports whether the context the task was started with has
// been canceled.
func (t *Task) CancelRequested() bool {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	return ctx != nil && ctx.Err() != nil
}

func (t *Task) claim(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil, fmt.Errorf("%w: task %s", services.ErrAlreadyStarted, t.name)
	}
	t.started = true
	t.running = true
	t.ctx = ctx
	return ctx, nil
}

func (t *Task) execute(ctx context.Context) {
	defer close(t.done)

	err := t.runBeforeStart(ctx)
	if err == nil {
		if ctx.Err() != nil {
			err = services.Canceled(t.name, "start", context.Cause(ctx))
		} else {
			err = t.runWork(ctx)
		}
	}
	err = t.classify(ctx, err)

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()

	if err == nil {
		if t.succeed != nil {
			t.callback.RunSync(ctx, func(context.Context) { t.guard("succeed", t.succeed) })
		}
	} else if t.fail != nil {
		t.callback.RunSync(ctx, func(context.Context) { t.guard("fail", func() { t.fail(err) }) })
	}
	if t.always != nil {
		t.callback.RunSync(ctx, func(context.Context) { t.guard("always", t.always) })
	}

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

func (t *Task) runBeforeStart(ctx context.Context) error {
	if t.beforeStart == nil {
		return nil
	}
	var err error
	t.callback.RunSync(ctx, func(cbCtx context.Context) {
		err = t.protect("before start", func() error { return t.beforeStart(cbCtx) })
	})
	return err
}

func (t *Task) runWork(ctx context.Context) error {
	if t.work == nil {
		return nil
	}
	return t.protect("work", func() error { return t.work(ctx) })
}

// classify tags cancellation so callers can tell it apart from failure.
func (t *Task) classify(ctx context.Context, err error) error {
	switch {
	case err == nil && ctx.Err() != nil:
		return services.Canceled(t.name, "work", context.Cause(ctx))
	case err != nil && !errors.Is(err, services.ErrCanceled) && services.IsCanceled(err):
		return services.Canceled(t.name, "work", err)
	default:
		return err
	}
}

func (t *Task) protect(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrPanic, t.name, op, fmt.Sprint(r), nil)
			logging.ErrorWithContext(t.logger, "task panicked", "task_panic",
				logging.String("task", t.name),
				logging.String("operation", op),
				logging.String("stack", string(debug.Stack())),
				logging.Error(err),
			)
		}
	}()
	return fn()
}

func (t *Task) guard(op string, fn func()) {
	_ = t.protect(op, func() error {
		fn()
		return nil
	})
}
