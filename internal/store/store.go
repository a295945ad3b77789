// Package store persists jobs in SQLite. It is the single shared
// mutable resource of a running analysis: report appends, status
// transitions and the finished timestamp all go through here.
//
// AppendReport performs the sticky-failure check and the report append
// in one transaction and returns the resulting report set atomically,
// so the caller can decide "am I the completing submission" without a
// second racy read.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strixlab/strix/internal/model"
)

type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database on path and makes sure the
// jobs table exists. Use path ":memory:" for tests.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// concurrent report appends serialize on a single connection,
	// sqlite has no row level locking
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			target TEXT NOT NULL,
			analyzers_to_execute TEXT NOT NULL,
			analysis_reports TEXT NOT NULL,
			errors TEXT NOT NULL,
			received_analysis_time TEXT NOT NULL,
			finished_analysis_time TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new job. The analyzer list is fixed from this point
// on, its length is the expected report count.
func (s *Store) Create(ctx context.Context, job model.Job) error {
	target, err := json.Marshal(job.Target)
	if err != nil {
		return fmt.Errorf("encoding target: %w", err)
	}
	analyzers, err := json.Marshal(job.AnalyzersToExecute)
	if err != nil {
		return fmt.Errorf("encoding analyzers: %w", err)
	}
	reports, err := json.Marshal(orEmptyReports(job.AnalysisReports))
	if err != nil {
		return fmt.Errorf("encoding reports: %w", err)
	}
	jobErrors, err := json.Marshal(orEmpty(job.Errors))
	if err != nil {
		return fmt.Errorf("encoding errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs
			(id, status, target, analyzers_to_execute, analysis_reports, errors, received_analysis_time)
		 VALUES (?,?,?,?,?,?,?);`,
		job.ID, string(job.Status), string(target), string(analyzers),
		string(reports), string(jobErrors), job.ReceivedAnalysisTime.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	return nil
}

// Get returns the job identified by id or model.ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, target, analyzers_to_execute, analysis_reports, errors,
		        received_analysis_time, finished_analysis_time
		 FROM jobs WHERE id=?`, id,
	)
	return scanJob(row)
}

// AppendReport appends the report to the job unless the job is already
// failed. The failed-status check and the append run in one transaction
// and the post-append report set plus the expected count are returned
// from the same consistent view, so exactly one submission can ever
// observe len(reports) == expected.
//
// Returns model.ErrJobAlreadyFailed without appending when the job
// failed earlier, model.ErrJobNotFound for an unknown id.
func (s *Store) AppendReport(ctx context.Context, id string, report model.AnalyzerReport) ([]model.AnalyzerReport, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func(ctx context.Context, id string) {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("job_id", id))
		}
	}(ctx, id)

	var status, analyzersRaw, reportsRaw string
	row := tx.QueryRowContext(ctx,
		`SELECT status, analyzers_to_execute, analysis_reports FROM jobs WHERE id=?`, id,
	)
	err = row.Scan(&status, &analyzersRaw, &reportsRaw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, 0, model.ErrJobNotFound
	case err != nil:
		return nil, 0, fmt.Errorf("executing sql query failed: %w", err)
	}

	if model.JobStatus(status) == model.StatusFailed {
		return nil, 0, model.ErrJobAlreadyFailed
	}

	var analyzers []string
	if err := json.Unmarshal([]byte(analyzersRaw), &analyzers); err != nil {
		return nil, 0, fmt.Errorf("decoding analyzers: %w", err)
	}
	var reports []model.AnalyzerReport
	if err := json.Unmarshal([]byte(reportsRaw), &reports); err != nil {
		return nil, 0, fmt.Errorf("decoding reports: %w", err)
	}

	reports = append(reports, report)
	raw, err := json.Marshal(reports)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding reports: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET analysis_reports=? WHERE id=?;`, string(raw), id,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("committing transaction failed: %w", err)
	}
	return reports, len(analyzers), nil
}

// SetStatus sets the job status and extends the job errors when errs is
// not empty. It is a single-field write, callers needing atomicity with
// other fields wrap it themselves.
func (s *Store) SetStatus(ctx context.Context, id string, status model.JobStatus, errs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(ctx context.Context, id string) {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("job_id", id))
		}
	}(ctx, id)

	var errorsRaw string
	row := tx.QueryRowContext(ctx, `SELECT errors FROM jobs WHERE id=?`, id)
	err = row.Scan(&errorsRaw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.ErrJobNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	var jobErrors []string
	if err := json.Unmarshal([]byte(errorsRaw), &jobErrors); err != nil {
		return fmt.Errorf("decoding errors: %w", err)
	}
	jobErrors = append(jobErrors, errs...)
	raw, err := json.Marshal(orEmpty(jobErrors))
	if err != nil {
		return fmt.Errorf("encoding errors: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status=?, errors=? WHERE id=?;`, string(status), string(raw), id,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// SetFinishedTime stamps the moment the job reached a terminal status.
func (s *Store) SetFinishedTime(ctx context.Context, id string, t time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET finished_analysis_time=? WHERE id=?;`,
		t.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return model.ErrJobNotFound
	}
	return nil
}

// FailStale forces every non-terminal job received before cutoff into
// the failed status and returns their ids. Used by the reaper, there is
// no job level timeout anywhere else.
func (s *Store) FailStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs
		 WHERE status IN (?, ?) AND received_analysis_time < ?`,
		string(model.StatusPending), string(model.StatusRunning),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows failed: %w", err)
	}

	for _, id := range ids {
		err := s.SetStatus(ctx, id, model.StatusFailed,
			[]string{fmt.Sprintf("job stale since %s, reaped", cutoff.UTC().Format(time.RFC3339))})
		if err != nil {
			return ids, err
		}
		if err := s.SetFinishedTime(ctx, id, time.Now()); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

func scanJob(row *sql.Row) (model.Job, error) {
	var job model.Job
	var status, targetRaw, analyzersRaw, reportsRaw, errorsRaw, received string
	var finished *string

	err := row.Scan(&job.ID, &status, &targetRaw, &analyzersRaw, &reportsRaw,
		&errorsRaw, &received, &finished)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Job{}, model.ErrJobNotFound
	case err != nil:
		return model.Job{}, fmt.Errorf("executing sql query failed: %w", err)
	}

	job.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(targetRaw), &job.Target); err != nil {
		return model.Job{}, fmt.Errorf("decoding target: %w", err)
	}
	if err := json.Unmarshal([]byte(analyzersRaw), &job.AnalyzersToExecute); err != nil {
		return model.Job{}, fmt.Errorf("decoding analyzers: %w", err)
	}
	if err := json.Unmarshal([]byte(reportsRaw), &job.AnalysisReports); err != nil {
		return model.Job{}, fmt.Errorf("decoding reports: %w", err)
	}
	if err := json.Unmarshal([]byte(errorsRaw), &job.Errors); err != nil {
		return model.Job{}, fmt.Errorf("decoding errors: %w", err)
	}
	job.ReceivedAnalysisTime, err = time.Parse(time.RFC3339Nano, received)
	if err != nil {
		return model.Job{}, fmt.Errorf("parsing received time: %w", err)
	}
	if finished != nil {
		t, err := time.Parse(time.RFC3339Nano, *finished)
		if err != nil {
			return model.Job{}, fmt.Errorf("parsing finished time: %w", err)
		}
		job.FinishedAnalysisTime = &t
	}
	return job, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyReports(r []model.AnalyzerReport) []model.AnalyzerReport {
	if r == nil {
		return []model.AnalyzerReport{}
	}
	return r
}
