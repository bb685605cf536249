package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"discflow/internal/dispatch"
	"discflow/internal/logging"
	"discflow/internal/plugin"
	"discflow/internal/progress"
	"discflow/internal/services"
	"discflow/internal/task"
)

// AllStages registers hooks that fire for every stage.
const AllStages = "*"

// Orchestrator runs stages on one sequential background worker and relays
// lifecycle and progress events onto the callback dispatcher.
type Orchestrator struct {
	callback dispatch.Dispatcher
	worker   *dispatch.Loop
	stop     context.CancelFunc
	logger   *slog.Logger
	window   progress.WindowOptions
	now      func() time.Time
	newRunID func() string
	sampler  *logging.ProgressSampler

	mu          sync.Mutex
	trackers    map[string]*progress.Tracker
	hooks       map[string][]Hooks
	progress    []func(id string, snap progress.Snapshot)
	unhandled   []func(id string, err error)
	relayMu     sync.Mutex
	lastRelayed map[string]progress.Snapshot
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithWindowOptions sets the sample bounds for every plugin tracker.
func WithWindowOptions(opts progress.WindowOptions) Option {
	return func(o *Orchestrator) { o.window = opts }
}

// WithClock overrides the time source for trackers and stage timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunIDs overrides stage run identifier generation.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newRunID = next
		}
	}
}

// WithProgressLogBucket sets the percent step at which plugin progress is
// logged.
func WithProgressLogBucket(percent float64) Option {
	return func(o *Orchestrator) { o.sampler = logging.NewProgressSampler(percent) }
}

// New builds an orchestrator whose callbacks run on callback and starts its
// background worker. A nil callback runs callbacks inline.
func New(callback dispatch.Dispatcher, opts ...Option) *Orchestrator {
	if callback == nil {
		callback = dispatch.Inline{}
	}
	o := &Orchestrator{
		callback:    callback,
		logger:      logging.NewNop(),
		window:      progress.DefaultWindowOptions(),
		now:         time.Now,
		newRunID:    func() string { return uuid.NewString() },
		sampler:     logging.NewProgressSampler(10),
		trackers:    make(map[string]*progress.Tracker),
		hooks:       make(map[string][]Hooks),
		lastRelayed: make(map[string]progress.Snapshot),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "pipeline")
	o.worker = dispatch.NewLoop(dispatch.WithLoopName("pipeline"), dispatch.WithLoopLogger(o.logger))
	ctx, cancel := context.WithCancel(context.Background())
	o.stop = cancel
	o.worker.Go(ctx)
	return o
}

// Close stops the background worker once queued stages drain. It does not
// wait, so it is safe to call from a callback.
func (o *Orchestrator) Close() {
	o.worker.Close()
	o.stop()
}

// OnStage registers lifecycle hooks for the named stage, or for every stage
// when name is AllStages. Hooks accumulate.
func (o *Orchestrator) OnStage(name string, hooks Hooks) {
	name = strings.TrimSpace(name)
	o.mu.Lock()
	o.hooks[name] = append(o.hooks[name], hooks)
	o.mu.Unlock()
}

// OnProgress subscribes to the aggregate, per-plugin deduplicated progress
// stream.
func (o *Orchestrator) OnProgress(fn func(id string, snap progress.Snapshot)) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.progress = append(o.progress, fn)
	o.mu.Unlock()
}

// OnUnhandledError subscribes to plugin failures that were not cancellation.
func (o *Orchestrator) OnUnhandledError(fn func(id string, err error)) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.unhandled = append(o.unhandled, fn)
	o.mu.Unlock()
}

// Tracker returns the tracker for a plugin that has been invoked at least once.
func (o *Orchestrator) Tracker(id string) (*progress.Tracker, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.trackers[id]
	return t, ok
}

// Snapshots returns the current state of every known plugin, ordered by id.
func (o *Orchestrator) Snapshots() []progress.Snapshot {
	o.mu.Lock()
	trackers := make([]*progress.Tracker, 0, len(o.trackers))
	for _, t := range o.trackers {
		trackers = append(trackers, t)
	}
	o.mu.Unlock()

	out := make([]progress.Snapshot, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// RunStage schedules stage on the background worker and returns its handle.
// The stage's own callbacks and the registered hooks run on the callback
// dispatcher: before start first, then succeed or fail, then completed.
func (o *Orchestrator) RunStage(ctx context.Context, stage Stage) (*task.Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stage.Name = strings.TrimSpace(stage.Name)
	if stage.Name == "" {
		return nil, fmt.Errorf("%w: stage name is required", services.ErrValidation)
	}
	if stage.Critical == nil {
		return nil, fmt.Errorf("%w: stage %s has no critical phase", services.ErrValidation, stage.Name)
	}

	run := StageRun{Stage: stage.Name, RunID: o.newRunID()}
	ctx = services.WithStage(ctx, stage.Name)
	ctx = services.WithRequestID(ctx, run.RunID)
	logger := logging.WithContext(ctx, o.logger)
	hooks := o.hooksFor(stage.Name)

	finish := func(err error) StageRun {
		run.FinishedAt = o.now()
		run.Err = err
		return run
	}

	t := task.New(o.callback,
		func(ctx context.Context) error { return o.execute(ctx, stage, logger) },
		task.WithName(stage.Name),
		task.WithBackground(o.worker),
		task.WithLogger(logger),
		task.WithBeforeStart(func(cbCtx context.Context) error {
			run.StartedAt = o.now()
			logger.Info("stage started",
				logging.String(logging.FieldEventType, "stage_start"),
				logging.Int("optional_phases", len(stage.Optional)),
			)
			var err error
			if stage.BeforeStart != nil {
				err = stage.BeforeStart(cbCtx)
			}
			for _, h := range hooks {
				if h.BeforeStart != nil {
					h.BeforeStart(run)
				}
			}
			if err != nil {
				return services.Wrap(services.ErrCriticalPhase, stage.Name, "before start", "", err)
			}
			return nil
		}),
		task.OnSucceed(func() {
			snapshot := finish(nil)
			logger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Duration("duration", snapshot.Duration()),
			)
			if stage.OnSucceed != nil {
				stage.OnSucceed()
			}
			for _, h := range hooks {
				if h.Succeeded != nil {
					h.Succeeded(snapshot)
				}
			}
		}),
		task.OnFail(func(err error) {
			snapshot := finish(err)
			if services.IsCanceled(err) {
				logger.Info("stage canceled",
					logging.String(logging.FieldEventType, "stage_canceled"),
					logging.Duration("duration", snapshot.Duration()),
				)
			} else {
				logging.ErrorWithContext(logger, "stage failed", "stage_failure",
					logging.Duration("duration", snapshot.Duration()),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "inspect the failing plugin above; earlier optional phases are not rolled back"),
				)
			}
			if stage.OnFail != nil {
				stage.OnFail(err)
			}
			for _, h := range hooks {
				if h.Failed != nil {
					h.Failed(snapshot, err)
				}
			}
		}),
		task.Always(func() {
			for _, h := range hooks {
				if h.Completed != nil {
					h.Completed(run)
				}
			}
		}),
	)
	if err := t.Start(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// execute is the background body: critical phase, then optional phases while
// nothing failed and no cancellation was requested.
func (o *Orchestrator) execute(ctx context.Context, stage Stage, logger *slog.Logger) error {
	logger.Debug("critical phase started", logging.String(logging.FieldEventType, "phase_start"))
	ok, err := stage.Critical(ctx)
	switch {
	case err != nil && services.IsCanceled(err):
		return err
	case err != nil:
		return services.Wrap(services.ErrCriticalPhase, stage.Name, "critical", "", err)
	case !ok:
		return services.Wrap(services.ErrCriticalPhase, stage.Name, "critical", "critical phase reported failure", nil)
	}

	for i, phase := range stage.Optional {
		name := phase.Name
		if name == "" {
			name = fmt.Sprintf("optional %d", i+1)
		}
		if ctx.Err() != nil {
			return services.Canceled(stage.Name, name, context.Cause(ctx))
		}
		if phase.Run == nil {
			continue
		}
		logger.Debug("optional phase started",
			logging.String(logging.FieldEventType, "phase_start"),
			logging.String("phase", name),
		)
		if err := phase.Run(ctx); err != nil {
			if services.IsCanceled(err) {
				return err
			}
			skipped := len(stage.Optional) - i - 1
			logging.WarnWithContext(logger, "optional phase failed", "optional_phase_failure",
				logging.String("phase", name),
				logging.Int("skipped_phases", skipped),
				logging.Error(err),
				logging.String(logging.FieldImpact, "remaining optional phases skipped; stage reported failed"),
			)
			return services.Wrap(services.ErrOptionalPhase, stage.Name, name, "", err)
		}
	}
	return nil
}

// InvokePlugin runs p synchronously on the calling goroutine with a fresh
// tracker run. Progress flows into the aggregate stream; a non-cancellation
// failure also raises the unhandled error stream.
func (o *Orchestrator) InvokePlugin(ctx context.Context, p plugin.Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", services.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := p.ID()
	ctx = services.WithPlugin(ctx, id)
	logger := logging.WithContext(ctx, o.logger)

	tracker := o.trackerFor(id)
	tracker.SetListener(func(snap progress.Snapshot) { o.relay(ctx, logger, id, snap) })
	o.sampler.Reset(id)
	tracker.Reset()
	if err := tracker.Start(); err != nil {
		return err
	}
	logger.Debug("plugin started",
		logging.String(logging.FieldEventType, "plugin_start"),
		logging.String("plugin_kind", string(p.Kind())),
	)

	nested := task.New(dispatch.Inline{},
		func(ctx context.Context) error { return p.Invoke(ctx, tracker) },
		task.WithName(id),
		task.WithLogger(logger),
		task.OnSucceed(func() { _ = tracker.Succeed() }),
		task.OnFail(func(err error) {
			if services.IsCanceled(err) {
				_ = tracker.Cancel()
				return
			}
			_ = tracker.Fail(err)
			o.raiseUnhandled(ctx, logger, id, err)
		}),
	)
	return nested.Run(ctx)
}

func (o *Orchestrator) trackerFor(id string) *progress.Tracker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.trackers[id]; ok {
		return t
	}
	t := progress.NewTracker(id,
		progress.WithWindowOptions(o.window),
		progress.WithTrackerClock(o.now),
	)
	o.trackers[id] = t
	return t
}

func (o *Orchestrator) hooksFor(stage string) []Hooks {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Hooks, 0, len(o.hooks[AllStages])+len(o.hooks[stage]))
	out = append(out, o.hooks[AllStages]...)
	out = append(out, o.hooks[stage]...)
	return out
}
