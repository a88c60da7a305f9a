package model

import "time"

// RunStatus represents the current state of a site run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusSeeding   RunStatus = "seeding"
	RunStatusResolving RunStatus = "resolving"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// Site is a seed website and the hint keywords used to steer link discovery.
type Site struct {
	URL      string   `json:"url" yaml:"url" mapstructure:"url"`
	Keywords []string `json:"keywords" yaml:"keywords" mapstructure:"keywords"`
}

// Run represents a single resolution run for a site.
type Run struct {
	ID        string     `json:"id"`
	Site      Site       `json:"site"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Ledger     Ledger     `json:"ledger"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	Visited    []string   `json:"visited"`
	Iterations int        `json:"iterations"`
	Steps      []Step     `json:"steps"`
	TokenUsage TokenUsage `json:"token_usage"`
	Duration   int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
}

// StepOutcome classifies what happened to one frontier URL.
type StepOutcome string

const (
	StepExtracted   StepOutcome = "extracted"
	StepFetchFailed StepOutcome = "fetch_failed"
	StepMalformed   StepOutcome = "malformed"
	StepOracleError StepOutcome = "oracle_error"
	StepExhausted   StepOutcome = "retry_exhausted"
)

// Step records the handling of one frontier URL in one iteration.
type Step struct {
	Iteration int         `json:"iteration"`
	URL       string      `json:"url"`
	Outcome   StepOutcome `json:"outcome"`
	Completed int         `json:"completed"`
	Error     string      `json:"error,omitempty"`
}

// Row is one line of campaign output: a single question for a single site.
type Row struct {
	OriginalLink string   `json:"original_link"`
	Question     string   `json:"question"`
	Status       Status   `json:"status"`
	Msg          string   `json:"msg"`
	Link         []string `json:"link"`
}

// Rows flattens a ledger into output rows tagged with the seed site.
func Rows(site string, l Ledger) []Row {
	rows := make([]Row, 0, len(l))
	for _, r := range l {
		rows = append(rows, Row{
			OriginalLink: site,
			Question:     r.Question,
			Status:       r.Status,
			Msg:          r.MessageText(),
			Link:         r.Links,
		})
	}
	return rows
}
