package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"discflow/internal/dispatch"
	"discflow/internal/pipeline"
	"discflow/internal/plugin"
	"discflow/internal/progress"
)

func TestSinkRecordsStageRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewSink(reg)
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	run := pipeline.StageRun{Stage: "scan", RunID: "r1", StartedAt: start}
	sink.StageStarted(run)
	sink.StageStarted(run)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stagesRunning))

	run.FinishedAt = start.Add(3 * time.Second)
	sink.StageCompleted(run)
	sink.StageCompleted(run)
	require.Equal(t, 0.0, testutil.ToFloat64(sink.stagesRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.stageRuns.WithLabelValues("scan", "succeeded")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.stageDuration, "discflow_stage_duration_seconds"))

	failed := pipeline.StageRun{Stage: "convert", RunID: "r2", Err: errors.New("boom")}
	sink.StageCompleted(failed)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageRuns.WithLabelValues("convert", "failed")))
}

func TestSinkRecordsPluginProgress(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(prometheus.NewRegistry())
	require.NoError(t, err)

	sink.ObserveProgress("reader", progress.Snapshot{State: progress.StateRunning, Percent: 40})
	require.InDelta(t, 40.0, testutil.ToFloat64(sink.pluginProgress.WithLabelValues("reader")), 1e-9)
	require.Equal(t, 0, testutil.CollectAndCount(sink.pluginRuns))

	sink.ObserveProgress("reader", progress.Snapshot{State: progress.StateError, Percent: 40})
	sink.ObserveFailure("reader", errors.New("read error"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pluginRuns.WithLabelValues("reader", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pluginFailures.WithLabelValues("reader")))
}

func TestNewSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewSink(reg)
	require.NoError(t, err)
	_, err = NewSink(reg)
	require.Error(t, err)
}

func TestSinkAttachedToOrchestrator(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(prometheus.NewRegistry())
	require.NoError(t, err)

	o := pipeline.New(dispatch.Inline{})
	defer o.Close()
	sink.Attach(o)

	reader := plugin.Func{PluginID: "reader", PluginKind: plugin.KindDiscReader, Fn: func(_ context.Context, r plugin.Reporter) error {
		r.ReportProgress(50, "reading")
		return nil
	}}
	tagger := plugin.Func{PluginID: "tagger", PluginKind: plugin.KindPostProcessor, Fn: func(context.Context, plugin.Reporter) error {
		return errors.New("tag write failed")
	}}
	task, err := o.RunStage(context.Background(), pipeline.Stage{
		Name:     "scan",
		Critical: o.CriticalFromPlugins(reader),
		Optional: []pipeline.Phase{o.PhaseFromPlugins("tag", tagger)},
	})
	require.NoError(t, err)
	require.Error(t, task.Wait())

	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageRuns.WithLabelValues("scan", "failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.stagesRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pluginRuns.WithLabelValues("reader", "succeeded")))
	require.InDelta(t, 100.0, testutil.ToFloat64(sink.pluginProgress.WithLabelValues("reader")), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pluginFailures.WithLabelValues("tagger")))
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewSink(reg)
	require.NoError(t, err)
	sink.ObserveFailure("muxer", errors.New("x"))

	ts := httptest.NewServer(Router(reg))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), `discflow_plugin_failures_total{plugin="muxer"} 1`))
}

func TestServerStartAndStop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer("127.0.0.1:0", prometheus.NewRegistry(), nil)
	require.NoError(t, srv.Start(ctx))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	srv.Stop()
}
