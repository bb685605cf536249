package history

import (
	"context"
	"log/slog"
	"sync"

	"discflow/internal/logging"
	"discflow/internal/pipeline"
	"discflow/internal/progress"
)

// Recorder writes stage and plugin outcomes to a Store as an orchestrator
// reports them. Write failures are logged and never fail the stage.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu      sync.Mutex
	current string
}

// NewRecorder builds a recorder for store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{store: store, logger: logging.NewComponentLogger(logger, "history")}
}

// Attach subscribes the recorder to every stage of o. Stages run one at a
// time, so terminal plugin snapshots belong to the run that started last.
func (r *Recorder) Attach(o *pipeline.Orchestrator) {
	o.OnStage(pipeline.AllStages, pipeline.Hooks{
		BeforeStart: func(run pipeline.StageRun) { r.setCurrent(run.RunID) },
		Completed:   r.stageCompleted,
	})
	o.OnProgress(r.pluginProgress)
}

func (r *Recorder) setCurrent(runID string) {
	r.mu.Lock()
	r.current = runID
	r.mu.Unlock()
}

func (r *Recorder) currentRun() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Recorder) stageCompleted(run pipeline.StageRun) {
	if err := r.store.RecordStage(context.Background(), run); err != nil {
		logging.WarnWithContext(r.logger, "stage history not recorded", "history_write_failed",
			logging.String(logging.FieldStage, run.Stage),
			logging.Error(err),
			logging.String(logging.FieldImpact, "run missing from discflow history"),
		)
	}
	r.setCurrent("")
}

func (r *Recorder) pluginProgress(id string, snap progress.Snapshot) {
	if !snap.State.Terminal() {
		return
	}
	runID := r.currentRun()
	if runID == "" {
		return
	}
	if err := r.store.RecordPlugin(context.Background(), runID, snap); err != nil {
		logging.WarnWithContext(r.logger, "plugin history not recorded", "history_write_failed",
			logging.String(logging.FieldPluginID, id),
			logging.Error(err),
		)
	}
}
