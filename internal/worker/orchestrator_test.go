package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditmate/card-data-worker/internal/model"
)

func newOrchestratorFixture(t *testing.T, sources ...*model.Source) (*Orchestrator, *pipelineFixture) {
	t.Helper()
	f := newPipelineFixture(t)
	f.sources.sources = sources
	o := &Orchestrator{
		Sources: f.sources,
		Worker:  f.worker,
		Cfg:     f.worker.Cfg,
		Log:     f.worker.Log,
	}
	return o, f
}

func bankSource(id, bankID int64, active bool) *model.Source {
	return &model.Source{ID: id, BankID: bankID, BankName: "Test Bank",
		URL: "https://bank.example/cards", ContentKind: model.KindWebpage, Active: active}
}

func TestRunCrawlAllActiveSources(t *testing.T) {
	o, f := newOrchestratorFixture(t,
		bankSource(1, 10, true),
		bankSource(2, 10, true),
		bankSource(3, 20, false),
	)

	report, err := o.RunCrawl(context.Background(), &model.CrawlTrigger{Target: model.TargetAll})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Succeeded, "inactive sources are not selected for a full run")
	assert.Len(t, report.Results, 2)
	assert.Len(t, f.cards.batches, 2)
}

func TestRunCrawlSingleBank(t *testing.T) {
	o, _ := newOrchestratorFixture(t,
		bankSource(1, 10, true),
		bankSource(2, 20, true),
	)

	report, err := o.RunCrawl(context.Background(),
		&model.CrawlTrigger{Target: model.TargetBank, BankID: 20})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, int64(2), report.Results[0].SourceID)
}

func TestRunCrawlTargetedSourceForcesInactive(t *testing.T) {
	o, _ := newOrchestratorFixture(t, bankSource(7, 10, false))

	report, err := o.RunCrawl(context.Background(),
		&model.CrawlTrigger{Target: model.TargetSource, SourceID: 7})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, model.OutcomeSuccess, report.Results[0].Outcome)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRunCrawlUnknownTarget(t *testing.T) {
	o, _ := newOrchestratorFixture(t)

	_, err := o.RunCrawl(context.Background(), &model.CrawlTrigger{Target: "everything"})
	assert.Error(t, err)
}

func TestRunCrawlIsolatesFailures(t *testing.T) {
	o, f := newOrchestratorFixture(t,
		bankSource(1, 10, true),
		bankSource(2, 10, true),
	)
	// Every parse fails, but each source still gets its own terminal result.
	f.parser.err = model.NewParsingError(false, assert.AnError)

	report, err := o.RunCrawl(context.Background(), &model.CrawlTrigger{Target: model.TargetAll})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed)
	assert.ElementsMatch(t, []int64{1, 2}, f.sources.failures)
}

func TestRunCrawlCanceledContextStopsLaunching(t *testing.T) {
	o, f := newOrchestratorFixture(t,
		bankSource(1, 10, true),
		bankSource(2, 10, true),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.RunCrawl(ctx, &model.CrawlTrigger{Target: model.TargetAll})
	require.NoError(t, err)

	assert.Empty(t, report.Results, "no pipelines start on a canceled context")
	assert.Empty(t, f.records.created)
}

func TestRunCrawlDryRunReport(t *testing.T) {
	o, f := newOrchestratorFixture(t, bankSource(1, 10, true))

	report, err := o.RunCrawl(context.Background(),
		&model.CrawlTrigger{Target: model.TargetAll, DryRun: true})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, model.OutcomeWouldProcess, report.Results[0].Outcome)
	assert.Empty(t, f.records.created)
	assert.Empty(t, f.cards.batches)
}

func TestCrawlReportAdd(t *testing.T) {
	r := &model.CrawlReport{}
	r.Add(&model.SourceResult{Outcome: model.OutcomeSuccess})
	r.Add(&model.SourceResult{Outcome: model.OutcomeNoChange})
	r.Add(&model.SourceResult{Outcome: model.OutcomeFailed})
	r.Add(&model.SourceResult{Outcome: model.OutcomeSkippedInactive})
	r.Add(&model.SourceResult{Outcome: model.OutcomeWouldProcess})

	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 1, r.NoChange)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Len(t, r.Results, 5)
}
