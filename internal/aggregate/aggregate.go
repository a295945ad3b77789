// Package aggregate decides when a job is done and what its terminal
// status is. Submit is the single synchronization point across all
// analyzers of a job: every lifecycle runner hands its finalized report
// here, and exactly one of those submissions closes the job.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/strixlab/strix/internal/model"
)

// JobStore is the persistence consumed by the aggregator. AppendReport
// must perform the failed-status check and the append atomically and
// return the resulting report set plus the expected count from the same
// consistent view; *store.Store is the production implementation.
type JobStore interface {
	Get(ctx context.Context, id string) (model.Job, error)
	AppendReport(ctx context.Context, id string, report model.AnalyzerReport) (reports []model.AnalyzerReport, expected int, err error)
	SetStatus(ctx context.Context, id string, status model.JobStatus, errs []string) error
	SetFinishedTime(ctx context.Context, id string, t time.Time) error
}

type Aggregator struct {
	store JobStore
	now   func() time.Time
}

func New(store JobStore) *Aggregator {
	return &Aggregator{
		store: store,
		now:   time.Now,
	}
}

// WithClock overrides the time source. For unit testing only.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Submit appends the report to the job and, when it is the completing
// submission, computes and commits the terminal status and the finished
// timestamp. It never returns an error to the calling analyzer: a job
// already failed drops the report, any aggregation failure forces the
// job to failed with the error recorded.
func (a *Aggregator) Submit(ctx context.Context, jobID string, report model.AnalyzerReport) {
	slog.InfoContext(ctx, "submitting analyzer report",
		"job_id", jobID, "analyzer", report.Name)

	reports, expected, err := a.store.AppendReport(ctx, jobID, report)
	switch {
	case errors.Is(err, model.ErrJobAlreadyFailed):
		slog.ErrorContext(ctx, "job status failed, report not processed",
			"job_id", jobID, "analyzer", report.Name)
		return
	case err != nil:
		a.forceFail(ctx, jobID, err)
		return
	}

	slog.InfoContext(ctx, "report appended",
		"job_id", jobID, "analyzer", report.Name,
		"num_reports", len(reports), "num_analyzers_to_execute", expected)

	// The append above returned the post-append report set atomically,
	// so the count passes expected in exactly one submission. Reports
	// are immutable once appended, the status computation needs no lock.
	if len(reports) != expected {
		return
	}

	failed := 0
	for _, r := range reports {
		if !r.Success {
			failed++
		}
	}
	status := model.StatusReportedWithoutFails
	switch {
	case failed == len(reports):
		status = model.StatusFailed
	case failed >= 1:
		status = model.StatusReportedWithFails
	}

	if err := SetJobStatus(ctx, a.store, jobID, status, nil); err != nil {
		a.forceFail(ctx, jobID, err)
		return
	}
	if err := a.store.SetFinishedTime(ctx, jobID, a.now()); err != nil {
		a.forceFail(ctx, jobID, err)
	}
}

// forceFail is the last resort of aggregation: the job goes to failed
// with the error recorded and the error stops here.
func (a *Aggregator) forceFail(ctx context.Context, jobID string, cause error) {
	slog.ErrorContext(ctx, "aggregation failed, forcing job to failed",
		"job_id", jobID, "error", cause)
	if err := SetJobStatus(ctx, a.store, jobID, model.StatusFailed, []string{cause.Error()}); err != nil {
		slog.ErrorContext(ctx, "forcing job status failed", "job_id", jobID, "error", err)
		return
	}
	if err := a.store.SetFinishedTime(ctx, jobID, a.now()); err != nil {
		slog.ErrorContext(ctx, "setting finished time failed", "job_id", jobID, "error", err)
	}
}

// SetJobStatus applies a status value and optional errors to a job.
// Going to failed is logged at error level, everything else is info.
func SetJobStatus(ctx context.Context, store JobStore, jobID string, status model.JobStatus, errs []string) error {
	if status == model.StatusFailed {
		slog.ErrorContext(ctx, "setting job status", "job_id", jobID, "status", status)
	} else {
		slog.InfoContext(ctx, "setting job status", "job_id", jobID, "status", status)
	}
	return store.SetStatus(ctx, jobID, status, errs)
}
