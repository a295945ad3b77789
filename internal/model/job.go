package model

import (
	"time"
)

// JobStatus is a lifecycle state of a Job. Jobs are created as pending,
// switch to running once analyzers are dispatched and end up in exactly
// one of the terminal states.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"

	// terminal states
	StatusReportedWithoutFails JobStatus = "reported_without_fails"
	StatusReportedWithFails    JobStatus = "reported_with_fails"
	StatusFailed               JobStatus = "failed"
)

// IsFinal tells if no further mutation of a job is expected.
func (s JobStatus) IsFinal() bool {
	switch s {
	case StatusReportedWithoutFails, StatusReportedWithFails, StatusFailed:
		return true
	default:
		return false
	}
}

// Job is one logical analysis request spanning multiple analyzers.
// AnalyzersToExecute is fixed once the job starts, its length is the
// expected number of reports. AnalysisReports grows by appends only,
// reports are never mutated after they were appended.
type Job struct {
	ID                   string           `json:"id"`
	Status               JobStatus        `json:"status"`
	Target               Target           `json:"target"`
	AnalyzersToExecute   []string         `json:"analyzers_to_execute"`
	AnalysisReports      []AnalyzerReport `json:"analysis_reports"`
	Errors               []string         `json:"errors"`
	ReceivedAnalysisTime time.Time        `json:"received_analysis_time"`
	FinishedAnalysisTime *time.Time       `json:"finished_analysis_time,omitempty"`
}

// AnalyzerReport is the outcome of a single analyzer run. It is produced
// by exactly one lifecycle runner and handed over to the aggregator,
// immutable from that point on.
type AnalyzerReport struct {
	Name           string         `json:"name"`
	Success        bool           `json:"success"`
	Report         map[string]any `json:"report"`
	Errors         []string       `json:"errors"`
	ProcessTime    float64        `json:"process_time"`
	StartedTime    time.Time      `json:"started_time"`
	StartedTimeStr string         `json:"started_time_str"`
}
