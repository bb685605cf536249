package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"discflow/internal/pipeline"
	"discflow/internal/progress"
)

// Sink records stage and plugin activity.
type Sink struct {
	stageRuns      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stagesRunning  prometheus.Gauge
	pluginProgress *prometheus.GaugeVec
	pluginRuns     *prometheus.CounterVec
	pluginFailures *prometheus.CounterVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewSink registers the collectors against reg. A nil reg uses the default
// registerer.
func NewSink(reg prometheus.Registerer) (*Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Sink{
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discflow_stage_runs_total",
			Help: "Completed stage runs partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discflow_stage_duration_seconds",
			Help:    "Wall time per completed stage run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"stage", "outcome"}),
		stagesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discflow_stages_running",
			Help: "Stage runs that have started and not yet completed.",
		}),
		pluginProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "discflow_plugin_progress_percent",
			Help: "Last reported percent complete per plugin.",
		}, []string{"plugin"}),
		pluginRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discflow_plugin_runs_total",
			Help: "Finished plugin runs partitioned by plugin and final state.",
		}, []string{"plugin", "state"}),
		pluginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discflow_plugin_failures_total",
			Help: "Plugin failures that were not cancellation.",
		}, []string{"plugin"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.stageRuns,
		s.stageDuration,
		s.stagesRunning,
		s.pluginProgress,
		s.pluginRuns,
		s.pluginFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register pipeline collector: %w", err)
		}
	}
	return s, nil
}

// Attach subscribes the sink to every stage and plugin of o.
func (s *Sink) Attach(o *pipeline.Orchestrator) {
	o.OnStage(pipeline.AllStages, pipeline.Hooks{
		BeforeStart: s.StageStarted,
		Completed:   s.StageCompleted,
	})
	o.OnProgress(s.ObserveProgress)
	o.OnUnhandledError(s.ObserveFailure)
}

// StageStarted counts a run as in flight.
func (s *Sink) StageStarted(run pipeline.StageRun) {
	if s.track(run.RunID, true) {
		s.stagesRunning.Inc()
	}
}

// StageCompleted records the outcome and duration of a run.
func (s *Sink) StageCompleted(run pipeline.StageRun) {
	outcome := run.Outcome()
	s.stageRuns.WithLabelValues(run.Stage, outcome).Inc()
	if d := run.Duration(); d > 0 {
		s.stageDuration.WithLabelValues(run.Stage, outcome).Observe(d.Seconds())
	}
	if s.track(run.RunID, false) {
		s.stagesRunning.Dec()
	}
}

// ObserveProgress mirrors a plugin snapshot.
func (s *Sink) ObserveProgress(id string, snap progress.Snapshot) {
	s.pluginProgress.WithLabelValues(id).Set(snap.Percent)
	if snap.State.Terminal() {
		s.pluginRuns.WithLabelValues(id, string(snap.State)).Inc()
	}
}

// ObserveFailure counts an unhandled plugin error.
func (s *Sink) ObserveFailure(id string, _ error) {
	s.pluginFailures.WithLabelValues(id).Inc()
}

func (s *Sink) track(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[runID]
	if start {
		if ok {
			return false
		}
		s.running[runID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, runID)
	return true
}
