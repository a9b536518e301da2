package model

import "time"

type CrawlStatus string

const (
	StatusPending    CrawlStatus = "pending"
	StatusProcessing CrawlStatus = "processing"
	StatusCompleted  CrawlStatus = "completed"
	StatusFailed     CrawlStatus = "failed"
	StatusNoChange   CrawlStatus = "no_change"
)

// CrawlRecord is an append-only audit entry for one crawl attempt.
// A record is created when the attempt starts and finalized exactly once
// with a terminal status.
type CrawlRecord struct {
	ID             int64       `json:"id"`
	SourceID       int64       `json:"source_id"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	Status         CrawlStatus `json:"status"`
	Fingerprint    string      `json:"fingerprint,omitempty"`
	ExtractedChars int         `json:"extracted_chars"`
	RawContentRef  string      `json:"raw_content_ref,omitempty"` // s3 link, not the bytes
	ErrorDetail    string      `json:"error_detail,omitempty"`
	CardsUpdated   int         `json:"cards_updated"`
}

// FetchResult is the output of the content fetcher for one source.
type FetchResult struct {
	Body        []byte `json:"-"`
	FinalURL    string `json:"final_url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	ETag        string `json:"etag,omitempty"`
	Mechanism   string `json:"mechanism"`
	TimeToFetch int64  `json:"time_to_fetch"` // in milliseconds
}

type CrawlTarget string

const (
	TargetAll    CrawlTarget = "all"
	TargetBank   CrawlTarget = "bank"
	TargetSource CrawlTarget = "source"
)

func (t CrawlTarget) Valid() bool {
	switch t {
	case TargetAll, TargetBank, TargetSource:
		return true
	}
	return false
}

// CrawlTrigger is the invocation message for one crawl run. It arrives
// from kafka (manual trigger) or from the cron scheduler (target: all).
type CrawlTrigger struct {
	Target   CrawlTarget `json:"target"`
	BankID   int64       `json:"bank_id,omitempty"`
	SourceID int64       `json:"source_id,omitempty"`
	DryRun   bool        `json:"dry_run,omitempty"`
}

type SourceOutcome string

const (
	OutcomeSuccess         SourceOutcome = "success"
	OutcomeNoChange        SourceOutcome = "no_change"
	OutcomeFailed          SourceOutcome = "failed"
	OutcomeSkippedInactive SourceOutcome = "skipped_inactive"
	OutcomeWouldProcess    SourceOutcome = "would_process" // dry run, content changed
)

// SourceResult is the terminal result of one per-source pipeline run.
type SourceResult struct {
	SourceID     int64         `json:"source_id"`
	BankName     string        `json:"bank_name"`
	URL          string        `json:"url"`
	Outcome      SourceOutcome `json:"outcome"`
	Reason       string        `json:"reason,omitempty"`
	CardsUpdated int           `json:"cards_updated"`
	Deactivated  bool          `json:"deactivated,omitempty"`
}

// CrawlReport aggregates the results of one crawl run.
type CrawlReport struct {
	RunID      string          `json:"run_id"`
	Trigger    CrawlTrigger    `json:"trigger"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Succeeded  int             `json:"succeeded"`
	NoChange   int             `json:"no_change"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Results    []*SourceResult `json:"results"`
}

func (r *CrawlReport) Add(res *SourceResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeSuccess, OutcomeWouldProcess:
		r.Succeeded++
	case OutcomeNoChange:
		r.NoChange++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkippedInactive:
		r.Skipped++
	}
}
