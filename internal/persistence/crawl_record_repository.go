package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creditmate/card-data-worker/internal/model"
)

var ErrAlreadyFinalized = errors.New("crawl record already finalized")

// CrawlRecordStorage is the append-only audit trail. Records are created
// pending at the start of an attempt and finalized exactly once.
type CrawlRecordStorage interface {
	Create(ctx context.Context, sourceID int64) (int64, error)
	Finalize(ctx context.Context, rec *model.CrawlRecord) error
	LastCompletedFingerprint(ctx context.Context, sourceID int64) (string, error)
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

type CrawlRecordRepository struct {
	db  *sql.DB
	log *slog.Logger
}

func NewCrawlRecordRepository(db *sql.DB, log *slog.Logger) *CrawlRecordRepository {
	return &CrawlRecordRepository{db: db, log: log}
}

func (rr *CrawlRecordRepository) Create(ctx context.Context, sourceID int64) (int64, error) {
	res, err := rr.db.ExecContext(ctx,
		"INSERT INTO crawl_records (source_id, started_at, status) VALUES (?, NOW(), ?)",
		sourceID, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("create crawl record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("crawl record id: %w", err)
	}

	return id, nil
}

func (rr *CrawlRecordRepository) Finalize(ctx context.Context, rec *model.CrawlRecord) error {
	res, err := rr.db.ExecContext(ctx,
		`UPDATE crawl_records SET finished_at = NOW(), status = ?, fingerprint = ?,
			extracted_chars = ?, raw_content_ref = ?, error_detail = ?, cards_updated = ?
			WHERE id = ? AND finished_at IS NULL`,
		rec.Status, rec.Fingerprint, rec.ExtractedChars, rec.RawContentRef,
		rec.ErrorDetail, rec.CardsUpdated, rec.ID)
	if err != nil {
		return fmt.Errorf("finalize crawl record %d: %w", rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize crawl record %d: %w", rec.ID, err)
	}
	if affected == 0 {
		return ErrAlreadyFinalized
	}
	rr.log.Debug("crawl record finalized.", slog.Int64("id", rec.ID),
		slog.String("status", string(rec.Status)))

	return nil
}

// LastCompletedFingerprint is the database fallback for change detection
// when the fingerprint cache and the source row are both cold.
func (rr *CrawlRecordRepository) LastCompletedFingerprint(ctx context.Context, sourceID int64) (string, error) {
	var fp sql.NullString
	err := rr.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM crawl_records
			WHERE source_id = ? AND status IN (?, ?)
			ORDER BY started_at DESC LIMIT 1`,
		sourceID, model.StatusCompleted, model.StatusNoChange).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last fingerprint for source %d: %w", sourceID, err)
	}

	return fp.String, nil
}

func (rr *CrawlRecordRepository) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := rr.db.ExecContext(ctx,
		"DELETE FROM crawl_records WHERE started_at < ?", time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete old crawl records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old crawl records: %w", err)
	}
	if deleted > 0 {
		rr.log.Info("old crawl records deleted.", slog.Int64("count", deleted))
	}

	return deleted, nil
}
