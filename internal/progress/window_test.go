package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"discflow/internal/services"
)

func newTestWindow(t *testing.T, minSize, maxSize int) (*Window, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts := WindowOptions{MinSampleSize: minSize, MaxSampleSize: maxSize, CoalesceWindow: DefaultCoalesceWindow}
	require.NoError(t, opts.Validate())
	return NewWindow(opts, WithClock(clock.Now)), clock
}

func TestWindowAddRecordsDurationsAndRuns(t *testing.T) {
	w, clock := newTestWindow(t, 2, 10)
	require.Equal(t, WindowStopped, w.State())

	w.Add(0)
	clock.Advance(2 * time.Second)
	w.Add(10)

	samples := w.Samples()
	require.Len(t, samples, 2)
	require.Zero(t, samples[0].Duration)
	require.Equal(t, 2*time.Second, samples[1].Duration)
	require.Equal(t, WindowRunning, w.State())
}

func TestWindowCoalescesCloseSamples(t *testing.T) {
	w, clock := newTestWindow(t, 2, 10)
	w.Add(10)
	clock.Advance(50 * time.Millisecond)
	w.Add(11)

	samples := w.Samples()
	require.Len(t, samples, 1)
	require.Equal(t, 10.0, samples[0].Percent, "later sample is the one dropped")

	clock.Advance(60 * time.Millisecond)
	w.Add(12)
	require.Equal(t, 2, w.Len())
}

func TestWindowEstimateScenario(t *testing.T) {
	w, clock := newTestWindow(t, 2, 10)
	w.Add(0)
	clock.Advance(10 * time.Second)
	w.Add(20)
	clock.Advance(10 * time.Second)
	w.Add(40)

	require.Equal(t, 30*time.Second, w.EstimatedTimeRemaining())

	samples := w.Samples()
	require.NotNil(t, samples[len(samples)-1].ETA)
	require.Equal(t, 30*time.Second, *samples[len(samples)-1].ETA)
	for _, s := range samples[:len(samples)-1] {
		require.Nil(t, s.ETA)
	}
}

func TestWindowEstimateRequiresMinimumSamples(t *testing.T) {
	w, clock := newTestWindow(t, 5, 10)
	require.Zero(t, w.EstimatedTimeRemaining())
	for i := 0; i < 4; i++ {
		w.Add(float64(i * 10))
		clock.Advance(time.Second)
	}
	require.Zero(t, w.EstimatedTimeRemaining())

	w.Add(40)
	require.Equal(t, 6*time.Second, w.EstimatedTimeRemaining())
}

func TestWindowEstimateUsesNewestSamples(t *testing.T) {
	w, clock := newTestWindow(t, 2, 3)
	// Slow start, then 10%/s.
	w.Add(0)
	clock.Advance(100 * time.Second)
	w.Add(1)
	for _, p := range []float64{11, 21, 31} {
		clock.Advance(time.Second)
		w.Add(p)
	}
	require.Equal(t, 6*time.Second, w.EstimatedTimeRemaining())
}

func TestWindowRetentionIsBounded(t *testing.T) {
	w, clock := newTestWindow(t, 2, 3)
	for i := 0; i < 20; i++ {
		w.Add(float64(i))
		clock.Advance(time.Second)
	}
	require.Equal(t, 6, w.Len())
	samples := w.Samples()
	require.Equal(t, 14.0, samples[0].Percent)
}

func TestWindowPauseResumeAddsZeroDurationSample(t *testing.T) {
	w, clock := newTestWindow(t, 2, 10)
	w.Add(0)
	clock.Advance(time.Second)
	w.Add(55)

	require.NoError(t, w.Pause())
	require.Equal(t, WindowPaused, w.State())

	clock.Advance(time.Hour)
	require.NoError(t, w.Resume(nil))
	require.Equal(t, WindowRunning, w.State())

	samples := w.Samples()
	last := samples[len(samples)-1]
	require.Equal(t, 55.0, last.Percent)
	require.Zero(t, last.Duration, "paused time must not count toward velocity")
}

func TestWindowResumeAtExplicitPercent(t *testing.T) {
	w, clock := newTestWindow(t, 2, 10)
	w.Add(30)
	clock.Advance(time.Second)
	require.NoError(t, w.Pause())

	pct := 42.0
	require.NoError(t, w.Resume(&pct))
	require.Equal(t, 42.0, w.LastPercent())
}

func TestWindowAddWhilePausedResumes(t *testing.T) {
	w, clock := newTestWindow(t, 2, 10)
	w.Add(10)
	clock.Advance(time.Second)
	require.NoError(t, w.Pause())
	clock.Advance(time.Minute)

	w.Add(20)
	require.Equal(t, WindowRunning, w.State())
	samples := w.Samples()
	last := samples[len(samples)-1]
	require.Equal(t, 20.0, last.Percent)
	require.Zero(t, last.Duration)
}

func TestWindowPauseAndResumeRejectWrongState(t *testing.T) {
	w, _ := newTestWindow(t, 2, 10)
	err := w.Pause()
	require.True(t, errors.Is(err, services.ErrInvalidState))

	err = w.Resume(nil)
	require.True(t, errors.Is(err, services.ErrInvalidState))
}

func TestWindowStopKeepsHistoryResetClears(t *testing.T) {
	w, clock := newTestWindow(t, 2, 10)
	w.Add(10)
	clock.Advance(time.Second)
	w.Add(20)

	w.Stop()
	require.Equal(t, WindowStopped, w.State())
	require.Equal(t, 2, w.Len())

	w.Reset()
	require.Equal(t, WindowStopped, w.State())
	require.Zero(t, w.Len())
}

func TestWindowOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultWindowOptions().Validate())
	require.Error(t, WindowOptions{MinSampleSize: 1, MaxSampleSize: 10}.Validate())
	require.Error(t, WindowOptions{MinSampleSize: 5, MaxSampleSize: 4}.Validate())
	require.Error(t, WindowOptions{MinSampleSize: 2, MaxSampleSize: 4, CoalesceWindow: -time.Second}.Validate())

	w := NewWindow(WindowOptions{MinSampleSize: 0, MaxSampleSize: 0})
	require.Equal(t, DefaultMinSampleSize, w.Options().MinSampleSize)
	require.Equal(t, DefaultMaxSampleSize, w.Options().MaxSampleSize)
}
