// internal/reporting/report.go
package reporting

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a single spreadsheet row.
type Status string

const (
	StatusAdded   Status = "added"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// RowResult records what happened to one spreadsheet row.
type RowResult struct {
	Row      int    `json:"row"`
	Question string `json:"question"`
	Weight   int    `json:"weight,omitempty"`
	Status   Status `json:"status"`
	Reason   string `json:"reason,omitempty"`
	// Warnings holds non-fatal problems, such as a value that did not stick.
	Warnings   []string `json:"warnings,omitempty"`
	Screenshot string   `json:"screenshot,omitempty"`
}

// Summary counts rows per status.
type Summary struct {
	Total   int `json:"total"`
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Report is the record of one fill run. It is safe for concurrent use.
type Report struct {
	RunID       string      `json:"run_id"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Spreadsheet string      `json:"spreadsheet"`
	Sheet       string      `json:"sheet"`
	LoginURL    string      `json:"login_url"`
	Aborted     bool        `json:"aborted"`
	Error       string      `json:"error,omitempty"`
	Rows        []RowResult `json:"rows"`
	Summary     Summary     `json:"summary"`

	mu  sync.Mutex
	now func() time.Time
}

// NewReport starts a report for a run against loginURL.
func NewReport(spreadsheet, sheet, loginURL string) *Report {
	r := &Report{
		RunID:       uuid.New().String(),
		Spreadsheet: spreadsheet,
		Sheet:       sheet,
		LoginURL:    loginURL,
		Rows:        []RowResult{},
		now:         time.Now,
	}
	r.StartedAt = r.now().UTC()
	return r
}

// Record adds a row outcome and updates the summary. Rows stay in
// spreadsheet order whatever order they are recorded in.
func (r *Report) Record(row RowResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.Rows), func(i int) bool { return r.Rows[i].Row > row.Row })
	r.Rows = slices.Insert(r.Rows, i, row)
	r.Summary.Total++
	switch row.Status {
	case StatusAdded:
		r.Summary.Added++
	case StatusSkipped:
		r.Summary.Skipped++
	case StatusFailed:
		r.Summary.Failed++
	}
}

// Finish stamps the end time. A non-nil err marks the run as aborted.
func (r *Report) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FinishedAt = r.now().UTC()
	if err != nil {
		r.Aborted = true
		r.Error = err.Error()
	}
}

// Snapshot returns the current summary.
func (r *Report) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Summary
}

// Duration is the wall time of the run, or zero before Finish.
func (r *Report) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
