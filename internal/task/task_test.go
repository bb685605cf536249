package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"discflow/internal/dispatch"
	"discflow/internal/services"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func lifecycle(j *journal) []Option {
	return []Option{
		WithBeforeStart(func(context.Context) error { j.add("before"); return nil }),
		OnSucceed(func() { j.add("succeed") }),
		OnFail(func(err error) { j.add("fail") }),
		Always(func() { j.add("always") }),
	}
}

func TestTaskSuccessOrder(t *testing.T) {
	j := &journal{}
	tk := New(dispatch.Inline{}, func(context.Context) error {
		j.add("work")
		return nil
	}, lifecycle(j)...)

	require.NoError(t, tk.Start(context.Background()))
	require.NoError(t, tk.Wait())
	require.Equal(t, []string{"before", "work", "succeed", "always"}, j.list())
	require.False(t, tk.Running())
	require.False(t, tk.CancelRequested())
}

func TestTaskFailureRoutesToFail(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	var failed error
	opts := append(lifecycle(j), OnFail(func(err error) { failed = err; j.add("fail") }))
	tk := New(dispatch.Inline{}, func(context.Context) error { return boom }, opts...)

	err := tk.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, failed, boom)
	require.Equal(t, []string{"before", "fail", "always"}, j.list())
	require.ErrorIs(t, tk.Err(), boom)
}

func TestTaskBeforeStartErrorSkipsWork(t *testing.T) {
	j := &journal{}
	veto := errors.New("veto")
	opts := append(lifecycle(j), WithBeforeStart(func(context.Context) error { return veto }))
	tk := New(dispatch.Inline{}, func(context.Context) error {
		j.add("work")
		return nil
	}, opts...)

	require.ErrorIs(t, tk.Run(context.Background()), veto)
	require.Equal(t, []string{"fail", "always"}, j.list())
}

func TestTaskStartTwiceFails(t *testing.T) {
	tk := New(nil, nil)
	require.NoError(t, tk.Start(context.Background()))
	require.ErrorIs(t, tk.Start(context.Background()), services.ErrAlreadyStarted)
	require.ErrorIs(t, tk.Run(context.Background()), services.ErrAlreadyStarted)
	require.NoError(t, tk.Wait())
}

func TestTaskWaitBeforeStart(t *testing.T) {
	tk := New(nil, nil)
	require.ErrorIs(t, tk.Wait(), services.ErrInvalidState)
}

func TestTaskCancellationIsTagged(t *testing.T) {
	j := &journal{}
	ctx, cancel := context.WithCancel(context.Background())
	var failed error
	opts := append(lifecycle(j), OnFail(func(err error) { failed = err; j.add("fail") }))
	tk := New(dispatch.Inline{}, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}, opts...)

	err := tk.Run(ctx)
	require.ErrorIs(t, err, services.ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, services.IsCanceled(failed))
	require.True(t, tk.CancelRequested())
	require.Equal(t, []string{"before", "fail", "always"}, j.list())
}

func TestTaskCancelledWorkThatReturnsNilStillFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	succeeded := false
	tk := New(dispatch.Inline{}, func(context.Context) error {
		cancel()
		return nil
	}, OnSucceed(func() { succeeded = true }))

	require.ErrorIs(t, tk.Run(ctx), services.ErrCanceled)
	require.False(t, succeeded)
}

func TestTaskAlreadyCanceledSkipsWorkButRunsCallbacks(t *testing.T) {
	j := &journal{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tk := New(dispatch.Inline{}, func(context.Context) error {
		j.add("work")
		return nil
	}, lifecycle(j)...)

	require.ErrorIs(t, tk.Run(ctx), services.ErrCanceled)
	require.Equal(t, []string{"before", "fail", "always"}, j.list())
}

func TestTaskRecoversPanic(t *testing.T) {
	var failed error
	tk := New(dispatch.Inline{}, func(context.Context) error {
		panic("kaboom")
	}, OnFail(func(err error) { failed = err }), WithName("panicky"))

	err := tk.Run(context.Background())
	require.ErrorIs(t, err, services.ErrPanic)
	require.Contains(t, err.Error(), "kaboom")
	require.Contains(t, err.Error(), "panicky")
	require.ErrorIs(t, failed, services.ErrPanic)
}

func TestTaskCallbackPanicStillRunsAlways(t *testing.T) {
	alwaysRan := false
	tk := New(dispatch.Inline{}, nil,
		OnSucceed(func() { panic("bad callback") }),
		Always(func() { alwaysRan = true }),
	)
	require.NoError(t, tk.Run(context.Background()))
	require.True(t, alwaysRan)
}

func TestTaskCallbacksRunOnCallbackLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	callback := dispatch.NewLoop(dispatch.WithLoopName("ui"))
	callback.Go(ctx)
	background := dispatch.NewLoop(dispatch.WithLoopName("worker"))
	background.Go(ctx)

	// Hold the callback loop so anything routed through it must wait.
	gate := make(chan struct{})
	callback.RunAsync(func() { <-gate })

	workDone := make(chan struct{})
	j := &journal{}
	tk := New(callback, func(context.Context) error {
		close(workDone)
		return nil
	},
		WithBackground(background),
		OnSucceed(func() { j.add("succeed") }),
		Always(func() { j.add("always") }),
	)
	require.NoError(t, tk.Start(ctx))

	<-workDone
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, j.list())
	require.True(t, tk.Running())

	close(gate)
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	require.NoError(t, tk.Wait())
	require.Equal(t, []string{"succeed", "always"}, j.list())
}
