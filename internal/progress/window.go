package progress

import (
	"fmt"
	"sync"
	"time"

	"discflow/internal/services"
)

const (
	// DefaultMinSampleSize is the number of samples required before an
	// estimate is produced.
	DefaultMinSampleSize = 5
	// DefaultMaxSampleSize is the number of newest samples considered by the
	// estimator.
	DefaultMaxSampleSize = 10
	// DefaultCoalesceWindow drops samples that arrive closer together than
	// this so bursts of updates do not dominate the velocity.
	DefaultCoalesceWindow = 100 * time.Millisecond
)

// WindowState is the lifecycle of a sample window.
type WindowState int

const (
	WindowStopped WindowState = iota
	WindowRunning
	WindowPaused
)

func (s WindowState) String() string {
	switch s {
	case WindowRunning:
		return "running"
	case WindowPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Sample is one percent-complete reading.
type Sample struct {
	SampledAt time.Time
	// Duration is the time elapsed since the previous sample; zero for the
	// first sample and for the sample recorded on resume.
	Duration time.Duration
	Percent  float64
	// ETA is only set on the newest sample, when an estimate was computed.
	ETA *time.Duration
}

// WindowOptions bounds the sample series.
type WindowOptions struct {
	MinSampleSize  int
	MaxSampleSize  int
	CoalesceWindow time.Duration
}

// DefaultWindowOptions returns the stock sample bounds.
func DefaultWindowOptions() WindowOptions {
	return WindowOptions{
		MinSampleSize:  DefaultMinSampleSize,
		MaxSampleSize:  DefaultMaxSampleSize,
		CoalesceWindow: DefaultCoalesceWindow,
	}
}

// Validate reports whether the options are usable as given.
func (o WindowOptions) Validate() error {
	if o.MinSampleSize < 2 {
		return fmt.Errorf("%w: min sample size must be at least 2, got %d", services.ErrValidation, o.MinSampleSize)
	}
	if o.MaxSampleSize < o.MinSampleSize {
		return fmt.Errorf("%w: max sample size %d is below min sample size %d", services.ErrValidation, o.MaxSampleSize, o.MinSampleSize)
	}
	if o.CoalesceWindow < 0 {
		return fmt.Errorf("%w: coalesce window must not be negative", services.ErrValidation)
	}
	return nil
}

func (o WindowOptions) normalized() WindowOptions {
	if o.MinSampleSize < 2 {
		o.MinSampleSize = DefaultMinSampleSize
	}
	if o.MaxSampleSize < o.MinSampleSize {
		o.MaxSampleSize = o.MinSampleSize
		if DefaultMaxSampleSize > o.MaxSampleSize {
			o.MaxSampleSize = DefaultMaxSampleSize
		}
	}
	if o.CoalesceWindow < 0 {
		o.CoalesceWindow = 0
	}
	return o
}

// Window is a bounded time series of percent-complete samples.
type Window struct {
	mu      sync.Mutex
	opts    WindowOptions
	now     func() time.Time
	samples []Sample
	state   WindowState
}

// WindowOption customizes a Window.
type WindowOption func(*Window)

// WithClock overrides the time source; tests use it to produce deterministic
// sample spacing.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWindow builds a stopped, empty window. Invalid bounds fall back to the
// defaults.
func NewWindow(opts WindowOptions, options ...WindowOption) *Window {
	w := &Window{opts: opts.normalized(), now: time.Now}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Options returns the effective bounds.
func (w *Window) Options() WindowOptions {
	return w.opts
}

// State reports the window lifecycle state.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Len reports how many samples are retained.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Samples returns a copy of the retained samples, oldest first.
func (w *Window) Samples() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// LastPercent returns the newest recorded percent, or zero when empty.
func (w *Window) LastPercent() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPercentLocked()
}

// Add records a reading. A paused window resumes at percent first. Samples
// arriving within the coalesce window of the previous one are dropped.
func (w *Window) Add(percent float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.state == WindowPaused {
		w.resumeLocked(now, percent)
	}

	var duration time.Duration
	if n := len(w.samples); n > 0 {
		duration = now.Sub(w.samples[n-1].SampledAt)
		if duration < w.opts.CoalesceWindow {
			return
		}
	}
	w.appendLocked(Sample{SampledAt: now, Duration: duration, Percent: percent})
	w.state = WindowRunning
}

// Pause records a closing sample at the last known percent and freezes the
// series. The window must be running.
func (w *Window) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WindowRunning {
		return fmt.Errorf("%w: pause requires a running window, state is %s", services.ErrInvalidState, w.state)
	}
	now := w.now()
	var duration time.Duration
	if n := len(w.samples); n > 0 {
		duration = now.Sub(w.samples[n-1].SampledAt)
	}
	w.appendLocked(Sample{SampledAt: now, Duration: duration, Percent: w.lastPercentLocked()})
	w.state = WindowPaused
	return nil
}

// Resume restarts a paused window with a zero-duration sample so the paused
// interval never counts toward velocity. A nil percent reuses the last known
// value.
func (w *Window) Resume(percent *float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WindowPaused {
		return fmt.Errorf("%w: resume requires a paused window, state is %s", services.ErrInvalidState, w.state)
	}
	value := w.lastPercentLocked()
	if percent != nil {
		value = *percent
	}
	w.resumeLocked(w.now(), value)
	return nil
}

// Stop marks the window stopped without discarding history.
func (w *Window) Stop() {
	w.mu.Lock()
	w.state = WindowStopped
	w.mu.Unlock()
}

// Reset clears history and stops the window before a fresh run.
func (w *Window) Reset() {
	w.mu.Lock()
	w.samples = nil
	w.state = WindowStopped
	w.mu.Unlock()
}

// EstimatedTimeRemaining estimates the time left using the newest
// MaxSampleSize samples. It returns zero until MinSampleSize samples exist and
// stamps the result onto the newest sample.
func (w *Window) EstimatedTimeRemaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.samples)
	if n == 0 {
		return 0
	}
	start := 0
	if n > w.opts.MaxSampleSize {
		start = n - w.opts.MaxSampleSize
	}
	trimmed := w.samples[start:]
	if len(trimmed) < w.opts.MinSampleSize {
		return 0
	}
	eta := EstimateRemaining(trimmed)
	stamped := eta
	w.samples[n-1].ETA = &stamped
	return eta
}

func (w *Window) resumeLocked(now time.Time, percent float64) {
	w.appendLocked(Sample{SampledAt: now, Percent: percent})
	w.state = WindowRunning
}

func (w *Window) appendLocked(sample Sample) {
	if n := len(w.samples); n > 0 {
		if prev := w.samples[n-1].SampledAt; sample.SampledAt.Before(prev) {
			sample.SampledAt = prev
		}
		w.samples[n-1].ETA = nil
	}
	w.samples = append(w.samples, sample)
	if limit := w.retentionLimit(); len(w.samples) > limit {
		drop := len(w.samples) - limit
		copy(w.samples, w.samples[drop:])
		w.samples = w.samples[:limit]
	}
}

func (w *Window) retentionLimit() int {
	return w.opts.MaxSampleSize * 2
}

func (w *Window) lastPercentLocked() float64 {
	if n := len(w.samples); n > 0 {
		return w.samples[n-1].Percent
	}
	return 0
}
