package progress

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"discflow/internal/services"
)

// State is the execution state of one unit of work.
type State string

const (
	StateReady     State = "ready"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCanceled  State = "canceled"
	StateError     State = "error"
	StateSucceeded State = "succeeded"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCanceled, StateError, StateSucceeded:
		return true
	default:
		return false
	}
}

// Active reports whether the state accepts progress updates.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// Snapshot is the read model of a Tracker.
type Snapshot struct {
	PluginID           string
	State              State
	Percent            float64
	Status             string
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
	Err                error
}

// observable is the tuple that decides whether a change is worth announcing.
type observable struct {
	state   State
	percent float64
	status  string
}

func (s Snapshot) observable() observable {
	return observable{state: s.State, percent: s.Percent, status: s.Status}
}

// Equivalent reports whether two snapshots carry the same state, percent and
// status, ignoring timing fields.
func (s Snapshot) Equivalent(other Snapshot) bool {
	return s.observable() == other.observable()
}

// Tracker is the per-plugin progress state machine.
type Tracker struct {
	id     string
	window *Window
	now    func() time.Time

	mu          sync.Mutex
	state       State
	percent     float64
	status      string
	err         error
	runningFrom time.Time
	elapsed     time.Duration
	listener    func(Snapshot)
	last        observable
	notified    bool
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*trackerConfig)

type trackerConfig struct {
	window WindowOptions
	now    func() time.Time
}

// WithWindowOptions overrides the sample window bounds.
func WithWindowOptions(opts WindowOptions) TrackerOption {
	return func(c *trackerConfig) {
		c.window = opts
	}
}

// WithTrackerClock overrides the time source for both the tracker and its
// sample window.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(c *trackerConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTracker builds a Ready tracker owned by the given identity.
func NewTracker(id string, opts ...TrackerOption) *Tracker {
	cfg := trackerConfig{window: DefaultWindowOptions(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tracker{
		id:     id,
		window: NewWindow(cfg.window, WithClock(cfg.now)),
		now:    cfg.now,
		state:  StateReady,
	}
}

// ID returns the owning identity.
func (t *Tracker) ID() string {
	return t.id
}

// Window exposes the sample window for inspection.
func (t *Tracker) Window() *Window {
	return t.window
}

// SetListener installs the change sink, replacing any previous one. Passing
// nil detaches it.
func (t *Tracker) SetListener(fn func(Snapshot)) {
	t.mu.Lock()
	t.listener = fn
	t.mu.Unlock()
}

// Snapshot returns the current read model.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset returns the tracker to Ready for reuse.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.state = StateReady
	t.percent = 0
	t.status = ""
	t.err = nil
	t.elapsed = 0
	t.runningFrom = time.Time{}
	t.window.Reset()
	t.notifyLocked()
}

// Start moves a Ready tracker to Running and begins timing.
func (t *Tracker) Start() error {
	t.mu.Lock()
	if t.state != StateReady {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: start %s: tracker is %s", services.ErrInvalidState, t.id, state)
	}
	t.state = StateRunning
	t.runningFrom = t.now()
	t.window.Add(0)
	t.notifyLocked()
	return nil
}

// Update records progress. Updates outside Running/Paused are ignored, which
// keeps terminal states final until Reset. A paused tracker resumes.
func (t *Tracker) Update(percent float64, status string) {
	t.mu.Lock()
	if !t.state.Active() {
		t.mu.Unlock()
		return
	}
	percent = clampPercent(percent)
	if t.state == StatePaused {
		t.runningFrom = t.now()
	}
	t.state = StateRunning
	t.percent = percent
	t.status = strings.TrimSpace(status)
	t.window.Add(percent)
	t.notifyLocked()
}

// ReportProgress satisfies the plugin reporting contract.
func (t *Tracker) ReportProgress(percent float64, status string) {
	t.Update(percent, status)
}

// Pause suspends a running tracker.
func (t *Tracker) Pause() error {
	t.mu.Lock()
	if t.state != StateRunning {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: pause %s: tracker is %s", services.ErrInvalidState, t.id, state)
	}
	if err := t.window.Pause(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.accumulateLocked()
	t.state = StatePaused
	t.notifyLocked()
	return nil
}

// Resume continues a paused tracker at its last known percent.
func (t *Tracker) Resume() error {
	t.mu.Lock()
	if t.state != StatePaused {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: resume %s: tracker is %s", services.ErrInvalidState, t.id, state)
	}
	if err := t.window.Resume(nil); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state = StateRunning
	t.runningFrom = t.now()
	t.notifyLocked()
	return nil
}

// Succeed finishes the run successfully.
func (t *Tracker) Succeed() error {
	return t.finish(StateSucceeded, nil)
}

// Cancel finishes the run as canceled.
func (t *Tracker) Cancel() error {
	return t.finish(StateCanceled, nil)
}

// Fail finishes the run with an error.
func (t *Tracker) Fail(err error) error {
	return t.finish(StateError, err)
}

func (t *Tracker) finish(state State, err error) error {
	t.mu.Lock()
	if !t.state.Active() {
		current := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: %s %s: tracker is %s", services.ErrInvalidState, state, t.id, current)
	}
	if t.state == StateRunning {
		t.accumulateLocked()
	}
	t.state = state
	t.err = err
	if state == StateSucceeded {
		t.percent = 100
	}
	t.window.Stop()
	t.notifyLocked()
	return nil
}

func (t *Tracker) accumulateLocked() {
	if !t.runningFrom.IsZero() {
		t.elapsed += t.now().Sub(t.runningFrom)
		t.runningFrom = time.Time{}
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	elapsed := t.elapsed
	if t.state == StateRunning && !t.runningFrom.IsZero() {
		elapsed += t.now().Sub(t.runningFrom)
	}
	var eta time.Duration
	if t.state.Active() {
		eta = t.window.EstimatedTimeRemaining()
	}
	return Snapshot{
		PluginID:           t.id,
		State:              t.state,
		Percent:            t.percent,
		Status:             t.status,
		Elapsed:            elapsed,
		EstimatedRemaining: eta,
		Err:                t.err,
	}
}

// notifyLocked releases the lock and invokes the listener at most once, only
// when the observable tuple changed since the last notification.
func (t *Tracker) notifyLocked() {
	snap := t.snapshotLocked()
	key := snap.observable()
	if t.notified && key == t.last {
		t.mu.Unlock()
		return
	}
	t.last = key
	t.notified = true
	listener := t.listener
	t.mu.Unlock()
	if listener != nil {
		listener(snap)
	}
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
