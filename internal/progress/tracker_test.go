package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"discflow/internal/services"
)

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *snapshotRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func newTestTracker(t *testing.T) (*Tracker, *fakeClock, *snapshotRecorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &snapshotRecorder{}
	tr := NewTracker("bdrom-reader",
		WithTrackerClock(clock.Now),
		WithWindowOptions(WindowOptions{MinSampleSize: 2, MaxSampleSize: 10, CoalesceWindow: DefaultCoalesceWindow}),
	)
	tr.SetListener(rec.record)
	return tr, clock, rec
}

func TestTrackerStartsReady(t *testing.T) {
	tr := NewTracker("muxer")
	snap := tr.Snapshot()
	require.Equal(t, "muxer", snap.PluginID)
	require.Equal(t, StateReady, snap.State)
	require.Zero(t, snap.Percent)
}

func TestTrackerDuplicateUpdatesNotifyOnce(t *testing.T) {
	tr, clock, rec := newTestTracker(t)
	require.NoError(t, tr.Start())

	clock.Advance(time.Second)
	tr.Update(25, "reading playlists")
	clock.Advance(time.Second)
	tr.Update(25, "reading playlists")

	snaps := rec.all()
	require.Len(t, snaps, 2)
	require.Equal(t, StateRunning, snaps[0].State)
	require.Equal(t, 25.0, snaps[1].Percent)
	require.Equal(t, "reading playlists", snaps[1].Status)
}

func TestTrackerStatusChangeNotifies(t *testing.T) {
	tr, clock, rec := newTestTracker(t)
	require.NoError(t, tr.Start())
	clock.Advance(time.Second)
	tr.Update(25, "a")
	clock.Advance(time.Second)
	tr.Update(25, "b")
	require.Len(t, rec.all(), 3)
}

func TestTrackerTerminalStatesRejectUpdates(t *testing.T) {
	finishers := map[State]func(*Tracker) error{
		StateSucceeded: (*Tracker).Succeed,
		StateCanceled:  (*Tracker).Cancel,
		StateError:     func(tr *Tracker) error { return tr.Fail(errors.New("boom")) },
	}
	for want, finish := range finishers {
		t.Run(string(want), func(t *testing.T) {
			tr, clock, rec := newTestTracker(t)
			require.NoError(t, tr.Start())
			clock.Advance(time.Second)
			tr.Update(40, "working")
			require.NoError(t, finish(tr))

			before := tr.Snapshot()
			count := len(rec.all())
			clock.Advance(time.Second)
			tr.Update(80, "late")

			after := tr.Snapshot()
			require.Equal(t, want, after.State)
			require.Equal(t, before.Percent, after.Percent)
			require.Equal(t, before.Status, after.Status)
			require.Len(t, rec.all(), count)

			require.True(t, errors.Is(tr.Succeed(), services.ErrInvalidState))

			tr.Reset()
			require.Equal(t, StateReady, tr.State())
			require.NoError(t, tr.Start())
			clock.Advance(time.Second)
			tr.Update(10, "again")
			require.Equal(t, 10.0, tr.Snapshot().Percent)
		})
	}
}

func TestTrackerSucceedPinsPercent(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	require.NoError(t, tr.Start())
	clock.Advance(time.Second)
	tr.Update(90, "finishing")
	require.NoError(t, tr.Succeed())
	snap := tr.Snapshot()
	require.Equal(t, 100.0, snap.Percent)
	require.Zero(t, snap.EstimatedRemaining)
}

func TestTrackerFailKeepsError(t *testing.T) {
	tr, _, rec := newTestTracker(t)
	require.NoError(t, tr.Start())
	cause := errors.New("read error")
	require.NoError(t, tr.Fail(cause))

	snaps := rec.all()
	last := snaps[len(snaps)-1]
	require.Equal(t, StateError, last.State)
	require.ErrorIs(t, last.Err, cause)

	tr.Reset()
	require.NoError(t, tr.Snapshot().Err)
}

func TestTrackerPauseResume(t *testing.T) {
	tr, clock, rec := newTestTracker(t)
	require.NoError(t, tr.Start())
	clock.Advance(10 * time.Second)
	tr.Update(55, "muxing")

	require.NoError(t, tr.Pause())
	require.Equal(t, StatePaused, tr.State())
	clock.Advance(time.Hour)
	require.Equal(t, 10*time.Second, tr.Snapshot().Elapsed, "paused time is excluded from elapsed")

	require.NoError(t, tr.Resume())
	require.Equal(t, StateRunning, tr.State())

	samples := tr.Window().Samples()
	last := samples[len(samples)-1]
	require.Equal(t, 55.0, last.Percent)
	require.Zero(t, last.Duration)

	states := []State{}
	for _, s := range rec.all() {
		states = append(states, s.State)
	}
	require.Equal(t, []State{StateRunning, StateRunning, StatePaused, StateRunning}, states)
}

func TestTrackerUpdateWhilePausedResumes(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	require.NoError(t, tr.Start())
	clock.Advance(time.Second)
	require.NoError(t, tr.Pause())
	clock.Advance(time.Second)
	tr.Update(30, "resumed by plugin")
	require.Equal(t, StateRunning, tr.State())
	require.Equal(t, WindowRunning, tr.Window().State())
}

func TestTrackerInvalidTransitionsFailLoudly(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	require.True(t, errors.Is(tr.Pause(), services.ErrInvalidState))
	require.True(t, errors.Is(tr.Resume(), services.ErrInvalidState))
	require.True(t, errors.Is(tr.Cancel(), services.ErrInvalidState))

	require.NoError(t, tr.Start())
	require.True(t, errors.Is(tr.Start(), services.ErrInvalidState))
	require.True(t, errors.Is(tr.Resume(), services.ErrInvalidState))
}

func TestTrackerUpdateIgnoredBeforeStart(t *testing.T) {
	tr, _, rec := newTestTracker(t)
	tr.Update(50, "early")
	require.Equal(t, StateReady, tr.State())
	require.Empty(t, rec.all())
}

func TestTrackerClampsPercent(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	require.NoError(t, tr.Start())
	clock.Advance(time.Second)
	tr.Update(140, "")
	require.Equal(t, 100.0, tr.Snapshot().Percent)
	clock.Advance(time.Second)
	tr.Update(-3, "")
	require.Equal(t, 0.0, tr.Snapshot().Percent)
}

func TestTrackerEstimatesRemaining(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	require.NoError(t, tr.Start())
	clock.Advance(10 * time.Second)
	tr.Update(20, "")
	clock.Advance(10 * time.Second)
	tr.Update(40, "")
	require.Equal(t, 30*time.Second, tr.Snapshot().EstimatedRemaining)
	require.Equal(t, 20*time.Second, tr.Snapshot().Elapsed)
}

func TestTrackerSetListenerReplaces(t *testing.T) {
	tr, clock, first := newTestTracker(t)
	second := &snapshotRecorder{}
	tr.SetListener(second.record)
	tr.SetListener(second.record)

	require.NoError(t, tr.Start())
	clock.Advance(time.Second)
	tr.Update(5, "")
	require.Empty(t, first.all())
	require.Len(t, second.all(), 2)
}

func TestTrackerConcurrentUpdatesAndReads(t *testing.T) {
	tr := NewTracker("remux")
	require.NoError(t, tr.Start())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i <= 100; i++ {
			tr.Update(float64(i), "copying")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = tr.Snapshot()
		}
	}()
	wg.Wait()
	require.Equal(t, 100.0, tr.Snapshot().Percent)
}
