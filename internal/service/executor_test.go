package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/strixlab/strix/internal/analyzer"
	"github.com/strixlab/strix/internal/model"
	"github.com/strixlab/strix/internal/service"
	"github.com/strixlab/strix/internal/store"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	name   string
	result map[string]any
	err    error
}

func (s stubAnalyzer) Name() string { return s.name }

func (s stubAnalyzer) Run(_ context.Context, _ model.Target) (map[string]any, error) {
	return s.result, s.err
}

func stubFactory(a stubAnalyzer) service.Factory {
	return func(model.AnalyzerConfig) (analyzer.Analyzer, error) {
		return a, nil
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})
	return st
}

func createJob(t *testing.T, st *store.Store, analyzers ...string) model.Job {
	t.Helper()
	job := model.Job{
		ID:                   "job-1",
		Status:               model.StatusPending,
		Target:               model.ObservableTarget("example.com", "domain"),
		AnalyzersToExecute:   analyzers,
		ReceivedAnalysisTime: time.Now().UTC(),
	}
	require.NoError(t, st.Create(t.Context(), job))
	return job
}

func TestRegistryNames(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()
	registry.Register("zeta", stubFactory(stubAnalyzer{name: "zeta"}))
	registry.Register("alpha", stubFactory(stubAnalyzer{name: "alpha"}))
	require.Equal(t, []string{"alpha", "zeta"}, registry.Names())
}

func TestExecutorRunAllSucceed(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()
	registry.Register("one", stubFactory(stubAnalyzer{name: "one", result: map[string]any{"verdict": "clean"}}))
	registry.Register("two", stubFactory(stubAnalyzer{name: "two", result: map[string]any{"verdict": "clean"}}))

	st := newStore(t)
	job := createJob(t, st, "one", "two")

	final, err := service.NewExecutor(registry, nil, st).Run(t.Context(), job)
	require.NoError(t, err)
	require.Equal(t, model.StatusReportedWithoutFails, final.Status)
	require.Len(t, final.AnalysisReports, 2)
	require.NotNil(t, final.FinishedAnalysisTime)
	for _, report := range final.AnalysisReports {
		require.True(t, report.Success)
	}
}

func TestExecutorRunMixedOutcomes(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()
	registry.Register("good", stubFactory(stubAnalyzer{name: "good", result: map[string]any{"ok": true}}))
	registry.Register("bad", stubFactory(stubAnalyzer{name: "bad", err: analyzer.Runf("dependency unreachable")}))
	// "ghost" is intentionally not registered

	st := newStore(t)
	job := createJob(t, st, "good", "bad", "ghost")

	final, err := service.NewExecutor(registry, nil, st).Run(t.Context(), job)
	require.NoError(t, err)
	require.Equal(t, model.StatusReportedWithFails, final.Status)
	require.Len(t, final.AnalysisReports, 3)

	byName := make(map[string]model.AnalyzerReport)
	for _, report := range final.AnalysisReports {
		byName[report.Name] = report
	}
	require.True(t, byName["good"].Success)
	require.False(t, byName["bad"].Success)
	require.Contains(t, byName["bad"].Errors[0], "job_id:job-1, analyzer:'bad'. Analyzer error: '")
	require.False(t, byName["ghost"].Success)
	require.Contains(t, byName["ghost"].Errors[0], "no analyzer registered")
}

func TestExecutorRunAllFail(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()
	registry.Register("bad", stubFactory(stubAnalyzer{name: "bad", err: analyzer.Runf("down")}))

	st := newStore(t)
	job := createJob(t, st, "bad")

	final, err := service.NewExecutor(registry, nil, st).Run(t.Context(), job)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, final.Status)
	require.Len(t, final.AnalysisReports, 1)
}

func TestExecutorFactoryError(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()
	registry.Register("broken", func(model.AnalyzerConfig) (analyzer.Analyzer, error) {
		return nil, analyzer.Configurationf("url is missing")
	})

	st := newStore(t)
	job := createJob(t, st, "broken")

	final, err := service.NewExecutor(registry, nil, st).Run(t.Context(), job)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, final.Status)
	require.Len(t, final.AnalysisReports, 1)
	require.Contains(t, final.AnalysisReports[0].Errors[0], "url is missing")
}

func TestReaperSweep(t *testing.T) {
	t.Parallel()
	st := newStore(t)

	stuck := model.Job{
		ID:                   "stuck",
		Status:               model.StatusRunning,
		Target:               model.ObservableTarget("example.com", "domain"),
		AnalyzersToExecute:   []string{"a"},
		ReceivedAnalysisTime: time.Now().UTC().Add(-3 * time.Hour),
	}
	require.NoError(t, st.Create(t.Context(), stuck))

	reaper, err := service.NewReaper(t.Context(), st, model.ReaperConfig{Schedule: "10m", MaxAge: "1h"})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, reaper.Shutdown())
	})

	reaper.Sweep(t.Context())

	got, err := st.Get(t.Context(), "stuck")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.FinishedAnalysisTime)
}

func TestNewReaperBadConfig(t *testing.T) {
	t.Parallel()
	st := newStore(t)

	_, err := service.NewReaper(t.Context(), st, model.ReaperConfig{Schedule: "???", MaxAge: "1h"})
	require.Error(t, err)

	_, err = service.NewReaper(t.Context(), st, model.ReaperConfig{Schedule: "10m", MaxAge: "-5m"})
	require.Error(t, err)
}
