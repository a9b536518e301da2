package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/aws_s3"
	"github.com/creditmate/card-data-worker/internal/cache"
	"github.com/creditmate/card-data-worker/internal/extractor"
	"github.com/creditmate/card-data-worker/internal/fetcher"
	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/creditmate/card-data-worker/internal/parser"
	"github.com/creditmate/card-data-worker/internal/persistence"
	"github.com/creditmate/card-data-worker/internal/validator"
)

// CrawlWorker runs the per-source pipeline:
// fetch -> extract -> hash -> [no-change | parse -> validate -> reconcile].
// One source's failure never touches another source; every terminal
// outcome updates that source's health exactly once.
type CrawlWorker struct {
	Fetcher    fetcher.Fetcher
	Extractors *extractor.Registry
	Parser     parser.StructuredParser
	Validator  *validator.RecordValidator
	Sources    persistence.SourceStorage
	Cards      persistence.CardStorage
	Records    persistence.CrawlRecordStorage
	Cache      cache.FingerprintCache
	S3         aws_s3.BucketClient
	Cfg        *config.WorkerConfig
	Log        *slog.Logger
}

// ProcessSource runs one pipeline attempt for one source. forced is set
// when the caller targeted the source by id, which overrides the
// inactive skip.
func (w *CrawlWorker) ProcessSource(ctx context.Context, src *model.Source,
	dryRun, forced bool) *model.SourceResult {
	res := &model.SourceResult{SourceID: src.ID, BankName: src.BankName, URL: src.URL}

	if !src.Active && !forced {
		res.Outcome = model.OutcomeSkippedInactive
		return res
	}
	if dryRun {
		return w.dryRun(ctx, src, res)
	}

	recordID, err := w.Records.Create(ctx, src.ID)
	if err != nil {
		w.Log.Error("failed to create crawl record.", slog.Int64("source_id", src.ID),
			slog.String("err", err.Error()))
		return w.fail(ctx, src, res, &model.CrawlRecord{}, model.NewStorageError(err))
	}
	rec := &model.CrawlRecord{ID: recordID, SourceID: src.ID, Status: model.StatusProcessing}

	fetched, text, fingerprint, err := w.fetchAndHash(ctx, src)
	if err != nil {
		return w.fail(ctx, src, res, rec, err)
	}
	rec.Fingerprint = fingerprint
	rec.ExtractedChars = len(text)

	if fingerprint == w.lastFingerprint(ctx, src) {
		return w.noChange(ctx, src, res, rec)
	}

	w.Log.Info("content changed. processing...", slog.Int64("source_id", src.ID),
		slog.String("bank", src.BankName))
	rec.RawContentRef = w.S3.WriteRawContent(src.ID, rec.ID, src.ContentKind, fetched.Body)

	rawRecords, err := w.Parser.Parse(ctx, &parser.ParseRequest{
		Content:     text,
		BankName:    src.BankName,
		ContentKind: src.ContentKind,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return w.fail(ctx, src, res, rec, err)
	}

	// Validation degrades per record, never the whole attempt: a bank
	// page often describes several cards where only some extract cleanly.
	cards := make([]*model.CardData, 0, len(rawRecords))
	for _, raw := range rawRecords {
		if card, ok := w.Validator.Validate(raw); ok {
			cards = append(cards, card)
		}
	}

	updated, err := w.Cards.UpsertCards(ctx, src.BankID, rec.ID, cards)
	if err != nil {
		return w.fail(ctx, src, res, rec, model.NewStorageError(err))
	}

	return w.succeed(ctx, src, res, rec, fingerprint, updated)
}

// fetchAndHash covers the FETCHING, EXTRACTING and HASHING states.
// Retryable fetch errors are retried with exponential backoff within
// this attempt.
func (w *CrawlWorker) fetchAndHash(ctx context.Context, src *model.Source) (*model.FetchResult, string, string, error) {
	var fetched *model.FetchResult
	var err error
	delay := w.Cfg.RetryDelay
	for attempt := 0; attempt <= w.Cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			w.Log.Warn("retrying fetch.", slog.Int64("source_id", src.ID),
				slog.Int("attempts_left", w.Cfg.RetryAttempts-attempt+1))
			select {
			case <-ctx.Done():
				return nil, "", "", model.NewNetworkError(ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		fetched, err = w.Fetcher.Fetch(ctx, src)
		if err == nil || !model.IsRetryable(err) {
			break
		}
	}
	if err != nil {
		return nil, "", "", err
	}

	text, err := w.Extractors.Extract(src.ContentKind, fetched.Body)
	if err != nil {
		return nil, "", "", err
	}

	return fetched, text, Fingerprint(text), nil
}

// lastFingerprint prefers the cache, then the source row, then the most
// recent completed crawl record.
func (w *CrawlWorker) lastFingerprint(ctx context.Context, src *model.Source) string {
	if fp, ok := w.Cache.GetFingerprint(src.ID); ok {
		return fp
	}
	if src.LastFingerprint != "" {
		return src.LastFingerprint
	}
	fp, err := w.Records.LastCompletedFingerprint(ctx, src.ID)
	if err != nil {
		w.Log.Warn("failed to read last fingerprint.", slog.Int64("source_id", src.ID),
			slog.String("err", err.Error()))
		return ""
	}

	return fp
}

// dryRun executes fetch, extraction and change detection but never calls
// the parser and never mutates the source, the catalogue or the audit
// trail. It only reports what a real run would do.
func (w *CrawlWorker) dryRun(ctx context.Context, src *model.Source,
	res *model.SourceResult) *model.SourceResult {
	_, _, fingerprint, err := w.fetchAndHash(ctx, src)
	if err != nil {
		res.Outcome = model.OutcomeFailed
		res.Reason = string(model.ReasonOf(err)) + " (dry run)"
		return res
	}
	if fingerprint == w.lastFingerprint(ctx, src) {
		res.Outcome = model.OutcomeNoChange
		res.Reason = "dry run: content unchanged"
	} else {
		res.Outcome = model.OutcomeWouldProcess
		res.Reason = "dry run: would parse and reconcile"
	}

	return res
}

// noChange is the short-circuit terminal state: reachable source, same
// content. Still a success signal for source health, and still audited.
func (w *CrawlWorker) noChange(ctx context.Context, src *model.Source,
	res *model.SourceResult, rec *model.CrawlRecord) *model.SourceResult {
	w.Log.Info("no changes detected.", slog.Int64("source_id", src.ID),
		slog.String("bank", src.BankName))
	if err := w.Sources.RecordNoChange(ctx, src.ID); err != nil {
		w.Log.Error("failed to record no-change.", slog.Int64("source_id", src.ID),
			slog.String("err", err.Error()))
	}
	w.Cache.SaveFingerprint(src.ID, rec.Fingerprint)
	rec.Status = model.StatusNoChange
	w.finalize(ctx, rec)
	res.Outcome = model.OutcomeNoChange

	return res
}

func (w *CrawlWorker) succeed(ctx context.Context, src *model.Source, res *model.SourceResult,
	rec *model.CrawlRecord, fingerprint string, updated int) *model.SourceResult {
	if err := w.Sources.RecordSuccess(ctx, src.ID, fingerprint); err != nil {
		w.Log.Error("failed to record success.", slog.Int64("source_id", src.ID),
			slog.String("err", err.Error()))
	}
	w.Cache.SaveFingerprint(src.ID, fingerprint)
	rec.Status = model.StatusCompleted
	rec.CardsUpdated = updated
	w.finalize(ctx, rec)

	res.Outcome = model.OutcomeSuccess
	res.CardsUpdated = updated
	w.Log.Info("source crawled successfully.", slog.Int64("source_id", src.ID),
		slog.String("bank", src.BankName), slog.Int("cards_updated", updated))

	return res
}

func (w *CrawlWorker) fail(ctx context.Context, src *model.Source, res *model.SourceResult,
	rec *model.CrawlRecord, err error) *model.SourceResult {
	reason := model.ReasonOf(err)
	w.Log.Error("source crawl failed.", slog.Int64("source_id", src.ID),
		slog.String("bank", src.BankName), slog.String("reason", string(reason)),
		slog.String("err", err.Error()))

	if rec.ID != 0 {
		rec.Status = model.StatusFailed
		rec.ErrorDetail = err.Error()
		w.finalize(ctx, rec)
	}

	deactivated, healthErr := w.Sources.RecordFailure(ctx, src.ID)
	if healthErr != nil {
		w.Log.Error("failed to record failure.", slog.Int64("source_id", src.ID),
			slog.String("err", healthErr.Error()))
	}

	res.Outcome = model.OutcomeFailed
	res.Reason = string(reason)
	res.Deactivated = deactivated

	return res
}

// finalize uses a fresh context so audit rows are still written when the
// run context was canceled mid-pipeline.
func (w *CrawlWorker) finalize(ctx context.Context, rec *model.CrawlRecord) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := w.Records.Finalize(ctx, rec); err != nil {
		w.Log.Error("failed to finalize crawl record.", slog.Int64("record_id", rec.ID),
			slog.String("err", err.Error()))
	}
}

// Fingerprint is the content hash used for change detection.
func Fingerprint(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
