package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strixlab/strix/internal/aggregate"
	"github.com/strixlab/strix/internal/analyzer"
	"github.com/strixlab/strix/internal/log"
	"github.com/strixlab/strix/internal/model"
)

// Factory builds a configured analyzer instance. A factory returning an
// error stands for invalid setup (missing params, bad credentials), the
// executor converts it into a failed report instead of propagating.
type Factory func(cfg model.AnalyzerConfig) (analyzer.Analyzer, error)

// Registry maps analyzer names to their factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Names returns registered analyzer names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Executor runs all analyzers of a job concurrently and waits for the
// aggregator to settle the job.
type Executor struct {
	registry   *Registry
	config     map[string]model.AnalyzerConfig
	store      aggregate.JobStore
	aggregator *aggregate.Aggregator
	limit      int
}

func NewExecutor(registry *Registry, config map[string]model.AnalyzerConfig, store aggregate.JobStore) *Executor {
	return &Executor{
		registry:   registry,
		config:     config,
		store:      store,
		aggregator: aggregate.New(store),
		limit:      4,
	}
}

// WithLimit changes the analyzer concurrency limit.
func (e *Executor) WithLimit(limit int) *Executor {
	if limit > 0 {
		e.limit = limit
	}
	return e
}

// Run marks the job as running, starts one runner per analyzer in
// job.AnalyzersToExecute and waits for all of them. The returned job is
// re-read from the store, so its status is whatever the aggregator
// settled on. Analyzer failures stay inside their reports, Run only
// fails on store access problems.
func (e *Executor) Run(ctx context.Context, job model.Job) (model.Job, error) {
	ctx = log.ContextAttrs(ctx, slog.String("job_id", job.ID))
	if err := aggregate.SetJobStatus(ctx, e.store, job.ID, model.StatusRunning, nil); err != nil {
		return model.Job{}, fmt.Errorf("marking job running: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for _, name := range job.AnalyzersToExecute {
		g.Go(func() error {
			e.runOne(gctx, job, name)
			return nil // a failing analyzer never cancels siblings
		})
	}
	_ = g.Wait() // goroutines do not return an error

	final, err := e.store.Get(ctx, job.ID)
	if err != nil {
		return model.Job{}, fmt.Errorf("reloading job: %w", err)
	}
	return final, nil
}

// runOne builds the analyzer and drives it through its lifecycle. A
// factory failure is recorded as a failed report so the job report
// count still adds up (every name in AnalyzersToExecute reports exactly
// once).
func (e *Executor) runOne(ctx context.Context, job model.Job, name string) {
	factory, ok := e.registry.factories[name]
	if !ok {
		e.submitFailed(ctx, job.ID, name,
			analyzer.Configurationf("no analyzer registered under name %q", name))
		return
	}

	a, err := factory(e.config[name])
	if err != nil {
		e.submitFailed(ctx, job.ID, name, err)
		return
	}

	analyzer.NewRunner(a, job.ID, job.Target, e.aggregator).Start(ctx)
}

func (e *Executor) submitFailed(ctx context.Context, jobID, name string, cause error) {
	slog.ErrorContext(ctx, "analyzer setup failed",
		"analyzer", name, "error", cause)
	report := analyzer.NewReport(name, time.Now())
	report.Errors = append(report.Errors,
		fmt.Sprintf("job_id:%s, analyzer:'%s'. Analyzer error: '%s'", jobID, name, cause))
	e.aggregator.Submit(ctx, jobID, report)
}
