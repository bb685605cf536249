package pipeline

import (
	"context"
	"log/slog"

	"discflow/internal/logging"
	"discflow/internal/progress"
)

// relay forwards a tracker snapshot to progress subscribers unless it repeats
// the last one relayed for the same plugin. Terminal snapshots are delivered
// synchronously so observers see the final state before the plugin's caller
// moves on.
//
// relayMu only guards the dedup map. It is released before delivery so a
// subscriber may drive a tracker (Pause, Resume) from inside its callback.
func (o *Orchestrator) relay(ctx context.Context, logger *slog.Logger, id string, snap progress.Snapshot) {
	o.relayMu.Lock()
	if prev, ok := o.lastRelayed[id]; ok && prev.Equivalent(snap) {
		o.relayMu.Unlock()
		return
	}
	o.lastRelayed[id] = snap
	o.relayMu.Unlock()

	if o.sampler.ShouldLog(id, snap.Percent, string(snap.State)) {
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "plugin_progress"),
			logging.String("plugin_state", string(snap.State)),
			logging.Float64("progress_percent", snap.Percent),
		}
		if snap.Status != "" {
			attrs = append(attrs, logging.String("status_message", snap.Status))
		}
		if snap.EstimatedRemaining > 0 {
			attrs = append(attrs, logging.Duration("eta", snap.EstimatedRemaining))
		}
		logger.Info("plugin progress", logging.Args(attrs...)...)
	}

	o.mu.Lock()
	sinks := append([]func(string, progress.Snapshot){}, o.progress...)
	o.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	deliver := func() {
		for _, sink := range sinks {
			sink(id, snap)
		}
	}
	if snap.State.Terminal() {
		o.callback.RunSync(ctx, func(context.Context) { deliver() })
		return
	}
	o.callback.RunAsync(deliver)
}

func (o *Orchestrator) raiseUnhandled(ctx context.Context, logger *slog.Logger, id string, err error) {
	logging.ErrorWithContext(logger, "plugin failed", "plugin_failure",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the plugin configuration and rerun the stage"),
	)

	o.mu.Lock()
	sinks := append([]func(string, error){}, o.unhandled...)
	o.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	o.callback.RunSync(ctx, func(context.Context) {
		for _, sink := range sinks {
			sink(id, err)
		}
	})
}
