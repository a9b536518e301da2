package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/creditmate/card-data-worker/internal/persistence"
)

// Scheduler enqueues a full-catalogue crawl on a cron schedule and prunes
// old audit rows after each scheduled run. Manual kafka triggers bypass it.
type Scheduler struct {
	TriggerChan chan<- *model.CrawlTrigger
	Records     persistence.CrawlRecordStorage
	Cfg         *config.SchedulerConfig
	Log         *slog.Logger
	cron        *cron.Cron
}

func NewScheduler(triggerChan chan<- *model.CrawlTrigger, records persistence.CrawlRecordStorage,
	cfg *config.SchedulerConfig, log *slog.Logger) *Scheduler {
	return &Scheduler{
		TriggerChan: triggerChan,
		Records:     records,
		Cfg:         cfg,
		Log:         log,
		cron:        cron.New(),
	}
}

// Start registers the cron entry and starts the cron runner. An empty
// cron spec disables scheduled runs entirely.
func (s *Scheduler) Start() error {
	if s.Cfg.CronSpec == "" {
		s.Log.Info("cron spec is empty. scheduled crawls disabled.")
		return nil
	}
	_, err := s.cron.AddFunc(s.Cfg.CronSpec, s.runScheduled)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.Log.Info("scheduler started.", slog.String("cron_spec", s.Cfg.CronSpec))

	return nil
}

// Stop halts the cron runner and waits for a running entry to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.Log.Info("scheduler stopped.")
}

func (s *Scheduler) runScheduled() {
	s.Log.Info("enqueueing scheduled crawl.")
	s.TriggerChan <- &model.CrawlTrigger{Target: model.TargetAll}
	s.pruneAuditTrail()
}

func (s *Scheduler) pruneAuditTrail() {
	if s.Cfg.AuditRetention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	deleted, err := s.Records.DeleteOlderThan(ctx, s.Cfg.AuditRetention)
	if err != nil {
		s.Log.Error("failed to prune crawl records.", slog.String("err", err.Error()))
		return
	}
	if deleted > 0 {
		s.Log.Info("pruned old crawl records.", slog.Int64("deleted", deleted))
	}
}
