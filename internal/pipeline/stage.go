package pipeline

import (
	"context"
	"time"

	"discflow/internal/plugin"
	"discflow/internal/services"
)

// Phase is one optional step of a stage.
type Phase struct {
	Name string
	Run  func(ctx context.Context) error
}

// CriticalFunc gates a stage. Returning false or an error fails the stage and
// skips every optional phase.
type CriticalFunc func(ctx context.Context) (bool, error)

// Stage is constructed per invocation and discarded when the run ends.
type Stage struct {
	Name string
	// BeforeStart runs on the callback context; an error prevents the
	// critical phase from running.
	BeforeStart func(ctx context.Context) error
	Critical    CriticalFunc
	Optional    []Phase
	OnFail      func(err error)
	OnSucceed   func()
}

// StageRun describes one execution of a stage for lifecycle hooks.
type StageRun struct {
	Stage      string
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Duration is the wall-clock time between start and finish.
func (r StageRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome is the services.Outcome label of the run error.
func (r StageRun) Outcome() string {
	return services.Outcome(r.Err)
}

// Hooks are host lifecycle sinks for a stage. Each fires on the callback
// context after the stage's own callbacks; Completed always fires last.
type Hooks struct {
	BeforeStart func(StageRun)
	Succeeded   func(StageRun)
	Failed      func(StageRun, error)
	Completed   func(StageRun)
}

// PhaseFromPlugins builds an optional phase that invokes plugins in order,
// stopping at the first error or cancellation.
func (o *Orchestrator) PhaseFromPlugins(name string, plugins ...plugin.Plugin) Phase {
	return Phase{
		Name: name,
		Run: func(ctx context.Context) error {
			return o.invokeAll(ctx, name, plugins)
		},
	}
}

// CriticalFromPlugins builds a critical phase that succeeds when every plugin
// succeeds.
func (o *Orchestrator) CriticalFromPlugins(plugins ...plugin.Plugin) CriticalFunc {
	return func(ctx context.Context) (bool, error) {
		if err := o.invokeAll(ctx, "critical", plugins); err != nil {
			return false, err
		}
		return true, nil
	}
}

func (o *Orchestrator) invokeAll(ctx context.Context, phase string, plugins []plugin.Plugin) error {
	for _, p := range plugins {
		if err := ctx.Err(); err != nil {
			stage, _ := services.StageFromContext(ctx)
			return services.Canceled(stage, phase, context.Cause(ctx))
		}
		if err := o.InvokePlugin(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
