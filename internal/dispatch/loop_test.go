package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop()
	loop.Go(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, cancel
}

func TestLoopPreservesSubmissionOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.RunAsync(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	loop.RunSync(context.Background(), func(context.Context) {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestLoopRunSyncBlocksUntilDone(t *testing.T) {
	loop, _ := startLoop(t)

	var ran atomic.Bool
	loop.RunSync(context.Background(), func(context.Context) {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
	})
	require.True(t, ran.Load())
}

func TestLoopRunSyncCanceledContextStillRuns(t *testing.T) {
	loop, _ := startLoop(t)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), struct{}{}, "kept"))
	cancel()

	var sawErr error
	var sawValue any
	loop.RunSync(ctx, func(cbCtx context.Context) {
		sawErr = cbCtx.Err()
		sawValue = cbCtx.Value(struct{}{})
	})
	require.NoError(t, sawErr, "callback must receive a neutral context")
	require.Equal(t, "kept", sawValue)
}

func TestLoopNestedRunSyncDoesNotDeadlock(t *testing.T) {
	loop, _ := startLoop(t)

	var order []string
	loop.RunSync(context.Background(), func(ctx context.Context) {
		order = append(order, "outer")
		loop.RunSync(ctx, func(context.Context) {
			order = append(order, "inner")
		})
	})
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoopRunsOnSingleGoroutine(t *testing.T) {
	loop, _ := startLoop(t)

	var active, overlaps atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				loop.RunSync(context.Background(), func(context.Context) {
					if active.Add(1) > 1 {
						overlaps.Add(1)
					}
					active.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	require.Zero(t, overlaps.Load())
}

func TestLoopDrainsOnCloseAndRunsInlineAfter(t *testing.T) {
	loop := NewLoop()
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	release := make(chan struct{})
	entered := make(chan struct{})
	loop.RunAsync(func() {
		close(entered)
		<-release
	})
	<-entered

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		loop.RunAsync(func() { count.Add(1) })
	}
	loop.Close()
	close(release)
	require.NoError(t, <-done)
	require.Equal(t, int32(5), count.Load())

	loop.RunAsync(func() { count.Add(1) })
	loop.RunSync(context.Background(), func(context.Context) { count.Add(1) })
	require.Equal(t, int32(7), count.Load())
}

func TestLoopRunTwiceFails(t *testing.T) {
	loop, _ := startLoop(t)
	require.ErrorIs(t, loop.Run(context.Background()), ErrLoopRunning)

	closed := NewLoop()
	closed.Close()
	require.ErrorIs(t, closed.Run(context.Background()), ErrLoopClosed)
}

func TestLoopStopsWhenContextEnds(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestLoopSurvivesPanickingCallback(t *testing.T) {
	loop, _ := startLoop(t)
	loop.RunAsync(func() { panic("boom") })

	var ran atomic.Bool
	loop.RunSync(context.Background(), func(context.Context) { ran.Store(true) })
	require.True(t, ran.Load())
}

func TestInlineRunsImmediately(t *testing.T) {
	var d Dispatcher = Inline{}
	ran := false
	d.RunAsync(func() { ran = true })
	require.True(t, ran)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.RunSync(ctx, func(cbCtx context.Context) {
		require.NoError(t, cbCtx.Err())
	})
}
