package analyzer

import (
	"time"

	"github.com/strixlab/strix/internal/model"
)

// startedTimeLayout matches the human readable timestamp stored next to
// the machine one in every report.
const startedTimeLayout = "2006-01-02 15:04:05"

// NewReport returns the canonical result envelope of one analyzer run:
// not successful, empty payload, no errors, zero process time and the
// started timestamps set to now.
func NewReport(name string, now time.Time) model.AnalyzerReport {
	return model.AnalyzerReport{
		Name:           name,
		Success:        false,
		Report:         map[string]any{},
		Errors:         []string{},
		ProcessTime:    0,
		StartedTime:    now,
		StartedTimeStr: now.Format(startedTimeLayout),
	}
}
