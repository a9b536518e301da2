package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/extractor"
	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/creditmate/card-data-worker/internal/parser"
	"github.com/creditmate/card-data-worker/internal/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	body  []byte
	err   error
	calls int
	// failures before succeeding, for retry tests
	failFirst int
}

func (f *fakeFetcher) Fetch(ctx context.Context, src *model.Source) (*model.FetchResult, error) {
	f.calls++
	if f.failFirst > 0 {
		f.failFirst--
		return nil, model.NewNetworkError(errors.New("connection reset"))
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.FetchResult{Body: f.body, StatusCode: 200}, nil
}

type passthroughExtractor struct{}

func (passthroughExtractor) Kind() model.ContentKind { return model.KindWebpage }

func (passthroughExtractor) Extract(raw []byte) (string, error) { return string(raw), nil }

type fakeParser struct {
	records []model.RawCardRecord
	err     error
	calls   int
}

func (p *fakeParser) Parse(ctx context.Context, req *parser.ParseRequest) ([]model.RawCardRecord, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.records, nil
}

type fakeSourceStore struct {
	mu           sync.Mutex
	sources      []*model.Source
	successes    []int64
	noChanges    []int64
	failures     []int64
	deactivateOn int64
}

func (s *fakeSourceStore) ActiveSources(ctx context.Context) ([]*model.Source, error) {
	var active []*model.Source
	for _, src := range s.sources {
		if src.Active {
			active = append(active, src)
		}
	}
	return active, nil
}

func (s *fakeSourceStore) SourcesByBank(ctx context.Context, bankID int64) ([]*model.Source, error) {
	var out []*model.Source
	for _, src := range s.sources {
		if src.BankID == bankID && src.Active {
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *fakeSourceStore) SourceByID(ctx context.Context, id int64) (*model.Source, error) {
	for _, src := range s.sources {
		if src.ID == id {
			return src, nil
		}
	}
	return nil, errors.New("source not found")
}

func (s *fakeSourceStore) RecordSuccess(ctx context.Context, id int64, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes = append(s.successes, id)
	return nil
}

func (s *fakeSourceStore) RecordNoChange(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noChanges = append(s.noChanges, id)
	return nil
}

func (s *fakeSourceStore) RecordFailure(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, id)
	return id == s.deactivateOn, nil
}

type fakeCardStore struct {
	mu      sync.Mutex
	batches [][]*model.CardData
	err     error
}

func (c *fakeCardStore) UpsertCards(ctx context.Context, bankID, crawlRecordID int64,
	cards []*model.CardData) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, cards)
	return len(cards), nil
}

type fakeRecordStore struct {
	mu        sync.Mutex
	nextID    int64
	created   []int64
	finalized []*model.CrawlRecord
	lastFp    string
}

func (r *fakeRecordStore) Create(ctx context.Context, sourceID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.created = append(r.created, sourceID)
	return r.nextID, nil
}

func (r *fakeRecordStore) Finalize(ctx context.Context, rec *model.CrawlRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *rec
	r.finalized = append(r.finalized, &copied)
	return nil
}

func (r *fakeRecordStore) LastCompletedFingerprint(ctx context.Context, sourceID int64) (string, error) {
	return r.lastFp, nil
}

func (r *fakeRecordStore) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

type fakeCache struct {
	mu    sync.Mutex
	store map[int64]string
}

func newFakeCache() *fakeCache { return &fakeCache{store: make(map[int64]string)} }

func (c *fakeCache) GetFingerprint(sourceID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fp, ok := c.store[sourceID]
	return fp, ok
}

func (c *fakeCache) SaveFingerprint(sourceID int64, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[sourceID] = fingerprint
}

func (c *fakeCache) Close() {}

type fakeBucket struct{}

func (fakeBucket) WriteRawContent(sourceID, crawlRecordID int64, kind model.ContentKind, body []byte) string {
	return "https://bucket.example/raw"
}

type pipelineFixture struct {
	worker  *CrawlWorker
	fetcher *fakeFetcher
	parser  *fakeParser
	sources *fakeSourceStore
	cards   *fakeCardStore
	records *fakeRecordStore
	cache   *fakeCache
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log := testLogger()
	registry := extractor.NewRegistry(&config.ExtractorConfig{}, log)
	registry.Register(passthroughExtractor{})

	f := &pipelineFixture{
		fetcher: &fakeFetcher{body: []byte("Gold Card annual fee TK 1,500")},
		parser:  &fakeParser{records: []model.RawCardRecord{{"name": "Gold Card", "annual_fee": 1500.0}}},
		sources: &fakeSourceStore{},
		cards:   &fakeCardStore{},
		records: &fakeRecordStore{},
		cache:   newFakeCache(),
	}
	f.worker = &CrawlWorker{
		Fetcher:    f.fetcher,
		Extractors: registry,
		Parser:     f.parser,
		Validator:  validator.NewRecordValidator(log),
		Sources:    f.sources,
		Cards:      f.cards,
		Records:    f.records,
		Cache:      f.cache,
		S3:         fakeBucket{},
		Cfg:        &config.WorkerConfig{MaxConcurrentSources: 2, RetryAttempts: 2, RetryDelay: time.Millisecond},
		Log:        log,
	}
	return f
}

func testSource() *model.Source {
	return &model.Source{ID: 1, BankID: 10, BankName: "Test Bank",
		URL: "https://bank.example/cards", ContentKind: model.KindWebpage, Active: true}
}

func TestProcessSourceSuccess(t *testing.T) {
	f := newPipelineFixture(t)

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.CardsUpdated)
	assert.Equal(t, []int64{1}, f.sources.successes)
	require.Len(t, f.records.finalized, 1)
	assert.Equal(t, model.StatusCompleted, f.records.finalized[0].Status)

	fp, ok := f.cache.GetFingerprint(1)
	assert.True(t, ok)
	assert.Equal(t, Fingerprint("Gold Card annual fee TK 1,500"), fp)
}

func TestProcessSourceNoChangeSkipsParser(t *testing.T) {
	f := newPipelineFixture(t)
	f.cache.SaveFingerprint(1, Fingerprint("Gold Card annual fee TK 1,500"))

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeNoChange, res.Outcome)
	assert.Zero(t, f.parser.calls, "unchanged content must never reach the parser")
	assert.Empty(t, f.cards.batches)
	assert.Equal(t, []int64{1}, f.sources.noChanges, "no-change still resets the failure counter")
	require.Len(t, f.records.finalized, 1)
	assert.Equal(t, model.StatusNoChange, f.records.finalized[0].Status)
}

func TestProcessSourceSkipsInactive(t *testing.T) {
	f := newPipelineFixture(t)
	src := testSource()
	src.Active = false

	res := f.worker.ProcessSource(context.Background(), src, false, false)

	assert.Equal(t, model.OutcomeSkippedInactive, res.Outcome)
	assert.Zero(t, f.fetcher.calls)
	assert.Empty(t, f.records.created)
}

func TestProcessSourceForcedRunsInactive(t *testing.T) {
	f := newPipelineFixture(t)
	src := testSource()
	src.Active = false

	res := f.worker.ProcessSource(context.Background(), src, false, true)

	assert.Equal(t, model.OutcomeSuccess, res.Outcome, "targeting by id overrides the inactive skip")
}

func TestProcessSourceRetriesTransientFetch(t *testing.T) {
	f := newPipelineFixture(t)
	f.fetcher.failFirst = 2

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, f.fetcher.calls)
}

func TestProcessSourceFailureAfterRetries(t *testing.T) {
	f := newPipelineFixture(t)
	f.fetcher.failFirst = 10

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, string(model.FailNetwork), res.Reason)
	assert.Equal(t, 3, f.fetcher.calls, "initial attempt plus two retries")
	assert.Equal(t, []int64{1}, f.sources.failures)
	require.Len(t, f.records.finalized, 1)
	assert.Equal(t, model.StatusFailed, f.records.finalized[0].Status)
}

func TestProcessSourceNonRetryableFailsFast(t *testing.T) {
	f := newPipelineFixture(t)
	f.parser.err = model.NewParsingError(false, errors.New("malformed json response"))

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, string(model.FailParsing), res.Reason)
	assert.Empty(t, f.cards.batches)
}

func TestProcessSourceReportsDeactivation(t *testing.T) {
	f := newPipelineFixture(t)
	f.fetcher.failFirst = 10
	f.sources.deactivateOn = 1

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.True(t, res.Deactivated)
}

func TestProcessSourceDropsNamelessRecords(t *testing.T) {
	f := newPipelineFixture(t)
	f.parser.records = []model.RawCardRecord{
		{"name": "Gold Card"},
		{"annual_fee": 900.0}, // no name, dropped
		{"name": "Platinum Card"},
	}

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.CardsUpdated)
	require.Len(t, f.cards.batches, 1)
	assert.Len(t, f.cards.batches[0], 2)
}

func TestProcessSourceDryRunLeavesStateUntouched(t *testing.T) {
	f := newPipelineFixture(t)

	res := f.worker.ProcessSource(context.Background(), testSource(), true, false)

	assert.Equal(t, model.OutcomeWouldProcess, res.Outcome)
	assert.Zero(t, f.parser.calls, "dry run must never call the parser")
	assert.Empty(t, f.records.created)
	assert.Empty(t, f.sources.successes)
	assert.Empty(t, f.cards.batches)
	_, cached := f.cache.GetFingerprint(1)
	assert.False(t, cached, "dry run must not update the fingerprint cache")
}

func TestProcessSourceDryRunNoChange(t *testing.T) {
	f := newPipelineFixture(t)
	f.cache.SaveFingerprint(1, Fingerprint("Gold Card annual fee TK 1,500"))

	res := f.worker.ProcessSource(context.Background(), testSource(), true, false)

	assert.Equal(t, model.OutcomeNoChange, res.Outcome)
	assert.Empty(t, f.sources.noChanges, "dry run must not touch source health")
}

func TestProcessSourceStorageFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.cards.err = errors.New("connection lost")

	res := f.worker.ProcessSource(context.Background(), testSource(), false, false)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, string(model.FailStorage), res.Reason)
	assert.Empty(t, f.sources.successes)
	assert.Equal(t, []int64{1}, f.sources.failures)
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 64)
}
