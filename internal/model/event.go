package model

import "time"

// RowStatus describes how an analyzed row terminated.
type RowStatus string

const (
	RowAccepted RowStatus = "accepted"
	RowFallback RowStatus = "fallback"
	RowSkipped  RowStatus = "skipped"
)

// RowEvent is one structured audit record per analyzed row, written to the
// run log and the store.
type RowEvent struct {
	RunID             string             `json:"run_id"`
	Dataset           string             `json:"dataset"`
	RowIndex          int                `json:"row_index"`
	Vendor            string             `json:"vendor,omitempty"`
	Status            RowStatus          `json:"status"`
	ExtractionMethods []ExtractionMethod `json:"extraction_methods,omitempty"`
	Decision          *DecisionRecord    `json:"decision,omitempty"`
	Violations        []string           `json:"violations,omitempty"`
	Attempts          int                `json:"attempts"`
	DurationMS        int64              `json:"duration_ms"`
	Timestamp         time.Time          `json:"timestamp"`
}

// RunSummary is the trailing record of a run log and the terminal state of a
// stored run.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Dataset      string    `json:"dataset"`
	RowsTotal    int       `json:"rows_total"`
	Accepted     int       `json:"accepted"`
	Fallbacks    int       `json:"fallbacks"`
	Skipped      int       `json:"skipped"`
	RefundTotal  float64   `json:"refund_total"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Run is a persisted analysis run.
type Run struct {
	ID         string      `json:"id"`
	Dataset    string      `json:"dataset"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
}
