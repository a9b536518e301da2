package model

import "time"

type ContentKind string

const (
	KindPDF     ContentKind = "pdf"
	KindWebpage ContentKind = "webpage"
	KindImage   ContentKind = "image"
	KindCSV     ContentKind = "csv"
)

func (k ContentKind) Valid() bool {
	switch k {
	case KindPDF, KindWebpage, KindImage, KindCSV:
		return true
	}
	return false
}

type FetchMechanism int

const (
	Curl FetchMechanism = iota
	HeadlessBrowser
)

func (fm FetchMechanism) String() string {
	return [...]string{"curl", "headless browser"}[fm]
}

// Source is a crawlable bank document endpoint. Mutated only through
// SourceStorage; the crawler never hard-deletes a source.
type Source struct {
	ID              int64       `json:"id"`
	BankID          int64       `json:"bank_id"`
	BankName        string      `json:"bank_name"`
	URL             string      `json:"url"`
	ContentKind     ContentKind `json:"content_kind"`
	Description     string      `json:"description,omitempty"`
	RenderMode      int         `json:"render_mode"` // FetchMechanism for webpage sources
	Active          bool        `json:"active"`
	FailedAttempts  int         `json:"failed_attempts"`
	LastCrawledAt   *time.Time  `json:"last_crawled_at,omitempty"`
	LastSuccessAt   *time.Time  `json:"last_success_at,omitempty"`
	LastFingerprint string      `json:"last_fingerprint,omitempty"`
}
