package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"discflow/internal/config"
	"discflow/internal/dispatch"
	"discflow/internal/history"
	"discflow/internal/logging"
	"discflow/internal/metrics"
	"discflow/internal/pipeline"
	"discflow/internal/plugin"
	"discflow/internal/progress"
	"discflow/internal/services"
	"discflow/internal/task"
)

// Runner runs configured stages one at a time.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *plugin.Registry
	orch     *pipeline.Orchestrator
	summary  collector

	runMu sync.Mutex
}

// Option customizes a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	logger     *slog.Logger
	metrics    *metrics.Sink
	history    *history.Store
	registry   *plugin.Registry
	onProgress func(id string, snap progress.Snapshot)
	pipeline   []pipeline.Option
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runnerOptions) { o.logger = logger }
}

// WithMetrics attaches a Prometheus sink to every run.
func WithMetrics(sink *metrics.Sink) Option {
	return func(o *runnerOptions) { o.metrics = sink }
}

// WithHistory records every run in store.
func WithHistory(store *history.Store) Option {
	return func(o *runnerOptions) { o.history = store }
}

// WithRegistry replaces the registry built from configuration.
func WithRegistry(registry *plugin.Registry) Option {
	return func(o *runnerOptions) { o.registry = registry }
}

// WithProgress subscribes fn to the deduplicated plugin progress stream.
func WithProgress(fn func(id string, snap progress.Snapshot)) Option {
	return func(o *runnerOptions) { o.onProgress = fn }
}

// WithPipelineOptions passes extra options to the orchestrator.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *runnerOptions) { o.pipeline = append(o.pipeline, opts...) }
}

// NewRunner builds the registry and orchestrator for cfg. Stage callbacks and
// sinks run on callback.
func NewRunner(cfg *config.Config, callback dispatch.Dispatcher, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", services.ErrConfiguration)
	}
	options := runnerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := options.registry
	if registry == nil {
		var err error
		registry, err = BuildRegistry(cfg)
		if err != nil {
			return nil, err
		}
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithWindowOptions(progress.WindowOptions{
			MinSampleSize:  cfg.Progress.MinSampleSize,
			MaxSampleSize:  cfg.Progress.MaxSampleSize,
			CoalesceWindow: cfg.CoalesceWindow(),
		}),
	}
	if cfg.Logging.ProgressBucket > 0 {
		pipelineOpts = append(pipelineOpts, pipeline.WithProgressLogBucket(cfg.Logging.ProgressBucket))
	}
	pipelineOpts = append(pipelineOpts, options.pipeline...)

	r := &Runner{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		registry: registry,
		orch:     pipeline.New(callback, pipelineOpts...),
	}

	if options.metrics != nil {
		options.metrics.Attach(r.orch)
	}
	if options.history != nil {
		history.NewRecorder(options.history, logger).Attach(r.orch)
	}
	if options.onProgress != nil {
		r.orch.OnProgress(options.onProgress)
	}
	r.orch.OnProgress(func(_ string, snap progress.Snapshot) { r.summary.plugin(snap) })
	r.orch.OnStage(pipeline.AllStages, pipeline.Hooks{Completed: r.logSummary})
	return r, nil
}

// Registry exposes the plugin registry.
func (r *Runner) Registry() *plugin.Registry {
	return r.registry
}

// Orchestrator exposes the underlying orchestrator for extra subscriptions.
func (r *Runner) Orchestrator() *pipeline.Orchestrator {
	return r.orch
}

// Close stops the orchestrator worker.
func (r *Runner) Close() {
	r.orch.Close()
}

// Stage composes the named stage from configuration.
func (r *Runner) Stage(name string) (pipeline.Stage, error) {
	def, ok := r.cfg.Stage(name)
	if !ok {
		return pipeline.Stage{}, fmt.Errorf("%w: stage %q is not configured", services.ErrNotFound, name)
	}
	critical, err := r.registry.Resolve(def.Critical)
	if err != nil {
		return pipeline.Stage{}, fmt.Errorf("stage %s critical phase: %w", def.Name, err)
	}
	if len(critical) == 0 {
		return pipeline.Stage{}, fmt.Errorf("%w: stage %s has no critical plugins", services.ErrConfiguration, def.Name)
	}
	optional, err := r.registry.Resolve(def.Optional)
	if err != nil {
		return pipeline.Stage{}, fmt.Errorf("stage %s optional phase: %w", def.Name, err)
	}

	stage := pipeline.Stage{
		Name:     def.Name,
		Critical: r.orch.CriticalFromPlugins(critical...),
	}
	for _, p := range optional {
		stage.Optional = append(stage.Optional, r.orch.PhaseFromPlugins(p.ID(), p))
	}
	return stage, nil
}

// Start schedules the named stage and returns its handle without waiting.
func (r *Runner) Start(ctx context.Context, name string) (*task.Task, error) {
	stage, err := r.Stage(name)
	if err != nil {
		return nil, err
	}
	r.summary.begin(stage.Name)
	return r.orch.RunStage(ctx, stage)
}

// Run executes the named stage to completion and returns its summary along
// with the stage error. Calls are serialized.
func (r *Runner) Run(ctx context.Context, name string) (Summary, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	t, err := r.Start(ctx, name)
	if err != nil {
		r.summary.take()
		return Summary{Stage: name, Label: StageLabel(name), Outcome: services.Outcome(err), Err: err}, err
	}
	err = t.Wait()
	return r.summary.take(), err
}

func (r *Runner) logSummary(run pipeline.StageRun) {
	summary := r.summary.finish(run.RunID, run.Duration(), run.Err)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_summary"),
		logging.String(logging.FieldStage, run.Stage),
		logging.String(logging.FieldCorrelationID, run.RunID),
		logging.String("stage_label", StageLabel(run.Stage)),
		logging.String("outcome", summary.Outcome),
		logging.Duration("duration", run.Duration()),
		logging.Int("plugins", len(summary.Plugins)),
	}
	if run.Err != nil {
		attrs = append(attrs, logging.String("error_message", run.Err.Error()))
	}
	r.logger.Info(fmt.Sprintf("%s %s", StageLabel(run.Stage), summary.Outcome), logging.Args(attrs...)...)
}
