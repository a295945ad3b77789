package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strixlab/strix/internal/log"
	"github.com/strixlab/strix/internal/model"
)

// Analyzer is one unit of work producing one report for a job. Run
// returns the analyzer specific payload or a typed error; it must not
// mutate the job, results flow exclusively through the returned value.
type Analyzer interface {
	Name() string
	Run(ctx context.Context, target model.Target) (map[string]any, error)
}

// Sink receives the finalized report of one analyzer run. The job
// report aggregator is the production implementation.
type Sink interface {
	Submit(ctx context.Context, jobID string, report model.AnalyzerReport)
}

// Runner drives a single analyzer instance through its lifecycle and
// contains every failure into the produced report. One analyzer failing
// must never abort sibling analyzers nor corrupt the job, so nothing
// escapes Start.
type Runner struct {
	analyzer Analyzer
	jobID    string
	target   model.Target
	sink     Sink
	now      func() time.Time
}

func NewRunner(a Analyzer, jobID string, target model.Target, sink Sink) *Runner {
	return &Runner{
		analyzer: a,
		jobID:    jobID,
		target:   target,
		sink:     sink,
		now:      time.Now,
	}
}

// WithClock overrides the time source. For unit testing only.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Start executes the analyzer lifecycle:
//
//	beforeRun -> NewReport -> Run -> finalize -> submit -> afterRun
//
// and returns the finalized report. Failures of any kind end up inside
// the report, never in the caller.
func (r *Runner) Start(ctx context.Context) model.AnalyzerReport {
	attrs := append([]slog.Attr{
		slog.String("job_id", r.jobID),
		slog.String("analyzer", r.analyzer.Name()),
	}, r.target.Attrs()...)
	ctx = log.ContextAttrs(ctx, attrs...)

	r.beforeRun(ctx)

	report := NewReport(r.analyzer.Name(), r.now())
	result, err := r.run(ctx)
	switch {
	case err == nil:
		report.Report = result
		report.Success = true
	case IsExpected(err):
		msg := fmt.Sprintf("job_id:%s, analyzer:'%s'. Analyzer error: '%s'",
			r.jobID, r.analyzer.Name(), err)
		slog.ErrorContext(ctx, "analyzer failed", "error", err)
		report.Errors = append(report.Errors, msg)
	default:
		slog.ErrorContext(ctx, "analyzer failed unexpectedly",
			"error", err, "error_chain", fmt.Sprintf("%+v", err))
		report.Errors = append(report.Errors, err.Error())
	}

	report.ProcessTime = r.now().Sub(report.StartedTime).Seconds()
	r.sink.Submit(ctx, r.jobID, report)

	r.afterRun(ctx)

	return report
}

// run invokes Analyzer.Run converting a panic into an unexpected error,
// so a misbehaving analyzer cannot take down its siblings.
func (r *Runner) run(ctx context.Context) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("analyzer panic: %v", rec)
		}
	}()
	return r.analyzer.Run(ctx, r.target)
}

func (r *Runner) beforeRun(ctx context.Context) {
	slog.InfoContext(ctx, "started analyzer", "phase", "before_run")
}

func (r *Runner) afterRun(ctx context.Context) {
	slog.InfoContext(ctx, "ended analyzer", "phase", "after_run")
}
