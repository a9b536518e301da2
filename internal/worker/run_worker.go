package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/creditmate/card-data-worker/internal/model"
)

// RunWorker consumes crawl triggers and executes runs one at a time.
// Several executors may share the trigger channel when overlapping runs
// are acceptable.
type RunWorker struct {
	TriggerChan  <-chan *model.CrawlTrigger
	ReportChan   chan<- *model.CrawlReport
	PanicChan    chan struct{}
	Orchestrator *Orchestrator
	Log          *slog.Logger
	Wg           *sync.WaitGroup
}

// Run starts the executor. It exits when the trigger channel is closed.
func (w *RunWorker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error("PANIC!", slog.Any("err", r))
			w.PanicChan <- struct{}{}
		}
	}()
	defer w.Wg.Done()
	w.Log.Debug("starting run executor.")

	for trigger := range w.TriggerChan {
		report, err := w.Orchestrator.RunCrawl(ctx, trigger)
		if err != nil {
			w.Log.Error("crawl run failed.", slog.String("target", string(trigger.Target)),
				slog.String("err", err.Error()))
			continue
		}
		w.ReportChan <- report
	}
}
