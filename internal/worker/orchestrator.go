package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/creditmate/card-data-worker/internal/persistence"
)

// Orchestrator turns one trigger into one crawl run: it selects the
// target sources and fans them out over a bounded pool of per-source
// pipelines. Sources never block each other beyond the pool limit.
type Orchestrator struct {
	Sources persistence.SourceStorage
	Worker  *CrawlWorker
	Cfg     *config.WorkerConfig
	Log     *slog.Logger
}

// RunCrawl executes one run and returns its aggregated report. A
// canceled context stops launching new pipelines; pipelines already in
// flight finish their terminal bookkeeping.
func (o *Orchestrator) RunCrawl(ctx context.Context, trigger *model.CrawlTrigger) (*model.CrawlReport, error) {
	report := &model.CrawlReport{
		RunID:     uuid.NewString(),
		Trigger:   *trigger,
		StartedAt: time.Now().UTC(),
	}

	sources, forced, err := o.selectSources(ctx, trigger)
	if err != nil {
		return nil, err
	}
	o.Log.Info("starting crawl run.", slog.String("run_id", report.RunID),
		slog.String("target", string(trigger.Target)), slog.Int("sources", len(sources)),
		slog.Bool("dry_run", trigger.DryRun))

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, o.Cfg.MaxConcurrentSources)
	for _, src := range sources {
		if ctx.Err() != nil {
			o.Log.Warn("run interrupted. skipping remaining sources.",
				slog.String("run_id", report.RunID))
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(src *model.Source) {
			defer wg.Done()
			defer func() { <-sem }()
			res := o.Worker.ProcessSource(ctx, src, trigger.DryRun, forced)
			mu.Lock()
			report.Add(res)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()
	o.Log.Info("crawl run finished.", slog.String("run_id", report.RunID),
		slog.Int("succeeded", report.Succeeded), slog.Int("no_change", report.NoChange),
		slog.Int("failed", report.Failed), slog.Int("skipped", report.Skipped),
		slog.String("duration", report.FinishedAt.Sub(report.StartedAt).String()))

	return report, nil
}

// selectSources resolves the trigger target to a source list. Targeting
// a single source by id forces it through even when inactive; the wider
// targets only ever see active sources.
func (o *Orchestrator) selectSources(ctx context.Context, trigger *model.CrawlTrigger) ([]*model.Source, bool, error) {
	switch trigger.Target {
	case model.TargetAll:
		sources, err := o.Sources.ActiveSources(ctx)
		return sources, false, err
	case model.TargetBank:
		sources, err := o.Sources.SourcesByBank(ctx, trigger.BankID)
		return sources, false, err
	case model.TargetSource:
		src, err := o.Sources.SourceByID(ctx, trigger.SourceID)
		if err != nil {
			return nil, false, err
		}
		return []*model.Source{src}, true, nil
	default:
		return nil, false, fmt.Errorf("unknown crawl target: %q", trigger.Target)
	}
}
