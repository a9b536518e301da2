package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/creditmate/card-data-worker/internal/model"
)

var ErrSourceNotFound = errors.New("source not found")

// SourceStorage is the selection and health-tracking contract for crawl
// sources. RecordSuccess, RecordNoChange and RecordFailure are each
// invoked exactly once per terminal pipeline outcome; all three touch
// last_crawled_at. Counter updates are single-row atomic statements so
// concurrent workers never lose increments.
type SourceStorage interface {
	ActiveSources(ctx context.Context) ([]*model.Source, error)
	SourcesByBank(ctx context.Context, bankID int64) ([]*model.Source, error)
	SourceByID(ctx context.Context, id int64) (*model.Source, error)
	RecordSuccess(ctx context.Context, id int64, fingerprint string) error
	RecordNoChange(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64) (deactivated bool, err error)
}

type SourceRepository struct {
	db        *sql.DB
	log       *slog.Logger
	threshold int
}

func NewSourceRepository(db *sql.DB, log *slog.Logger, failureThreshold int) *SourceRepository {
	return &SourceRepository{db: db, log: log, threshold: failureThreshold}
}

const sourceColumns = `id, bank_id, bank_name, url, content_kind, description, render_mode,
	active, failed_attempts, last_crawled_at, last_success_at, last_fingerprint`

func (sr *SourceRepository) ActiveSources(ctx context.Context) ([]*model.Source, error) {
	rows, err := sr.db.QueryContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE active = TRUE ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("select active sources: %w", err)
	}
	defer rows.Close()

	return scanSources(rows)
}

func (sr *SourceRepository) SourcesByBank(ctx context.Context, bankID int64) ([]*model.Source, error) {
	rows, err := sr.db.QueryContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE bank_id = ? AND active = TRUE ORDER BY id", bankID)
	if err != nil {
		return nil, fmt.Errorf("select sources for bank %d: %w", bankID, err)
	}
	defer rows.Close()

	return scanSources(rows)
}

func (sr *SourceRepository) SourceByID(ctx context.Context, id int64) (*model.Source, error) {
	row := sr.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE id = ?", id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select source %d: %w", id, err)
	}

	return s, nil
}

// RecordSuccess caches the new fingerprint and resets the failure counter.
func (sr *SourceRepository) RecordSuccess(ctx context.Context, id int64, fingerprint string) error {
	_, err := sr.db.ExecContext(ctx,
		`UPDATE sources SET failed_attempts = 0, last_fingerprint = ?,
			last_crawled_at = NOW(), last_success_at = NOW() WHERE id = ?`, fingerprint, id)
	if err != nil {
		return fmt.Errorf("record success for source %d: %w", id, err)
	}
	sr.log.Debug("source success recorded.", slog.Int64("source_id", id))

	return nil
}

// RecordNoChange resets the failure counter without touching the cached
// fingerprint. Unchanged content from a reachable source is still a
// success signal.
func (sr *SourceRepository) RecordNoChange(ctx context.Context, id int64) error {
	_, err := sr.db.ExecContext(ctx,
		`UPDATE sources SET failed_attempts = 0, last_crawled_at = NOW(),
			last_success_at = NOW() WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("record no-change for source %d: %w", id, err)
	}

	return nil
}

// RecordFailure increments the failure counter and flips active off when
// the counter reaches the threshold, all inside one UPDATE.
func (sr *SourceRepository) RecordFailure(ctx context.Context, id int64) (bool, error) {
	_, err := sr.db.ExecContext(ctx,
		`UPDATE sources SET failed_attempts = failed_attempts + 1,
			active = IF(failed_attempts >= ?, FALSE, active),
			last_crawled_at = NOW() WHERE id = ?`, sr.threshold, id)
	if err != nil {
		return false, fmt.Errorf("record failure for source %d: %w", id, err)
	}

	var attempts int
	var active bool
	err = sr.db.QueryRowContext(ctx,
		"SELECT failed_attempts, active FROM sources WHERE id = ?", id).Scan(&attempts, &active)
	if err != nil {
		return false, fmt.Errorf("read failure count for source %d: %w", id, err)
	}
	deactivated := !active && attempts >= sr.threshold
	if deactivated {
		sr.log.Warn("source deactivated after repeated failures.",
			slog.Int64("source_id", id), slog.Int("failed_attempts", attempts))
	}

	return deactivated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.Source, error) {
	s := &model.Source{}
	var lastCrawled, lastSuccess sql.NullTime
	var fingerprint sql.NullString
	err := row.Scan(&s.ID, &s.BankID, &s.BankName, &s.URL, &s.ContentKind, &s.Description,
		&s.RenderMode, &s.Active, &s.FailedAttempts, &lastCrawled, &lastSuccess, &fingerprint)
	if err != nil {
		return nil, err
	}
	if lastCrawled.Valid {
		s.LastCrawledAt = &lastCrawled.Time
	}
	if lastSuccess.Valid {
		s.LastSuccessAt = &lastSuccess.Time
	}
	s.LastFingerprint = fingerprint.String

	return s, nil
}

func scanSources(rows *sql.Rows) ([]*model.Source, error) {
	var sources []*model.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}

	return sources, rows.Err()
}
