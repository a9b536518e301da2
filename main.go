package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/aws_s3"
	"github.com/creditmate/card-data-worker/internal/broker"
	cacheClient "github.com/creditmate/card-data-worker/internal/cache"
	"github.com/creditmate/card-data-worker/internal/extractor"
	"github.com/creditmate/card-data-worker/internal/fetcher"
	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/creditmate/card-data-worker/internal/parser"
	"github.com/creditmate/card-data-worker/internal/persistence"
	"github.com/creditmate/card-data-worker/internal/scheduler"
	"github.com/creditmate/card-data-worker/internal/validator"
	"github.com/creditmate/card-data-worker/internal/worker"
	"github.com/go-sql-driver/mysql"
	"github.com/lmittmann/tint"
)

var (
	cfg   *config.Config
	log   *slog.Logger
	db    *sql.DB
	s3    aws_s3.BucketClient
	cache cacheClient.FingerprintCache
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	log = setupLogger()
	db = setupDatabase()
	defer closeDatabase()
	s3 = aws_s3.NewS3BucketClient(cfg.S3Settings, log)
	cache = cacheClient.NewMemcachedClient(cfg.CacheSettings, log)
	defer cache.Close()

	sourceRepo := persistence.NewSourceRepository(db, log, cfg.WorkerSettings.FailureThreshold)
	cardRepo := persistence.NewCardRepository(db, log)
	recordRepo := persistence.NewCrawlRecordRepository(db, log)
	log.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env))

	crawlWorker := &worker.CrawlWorker{
		Fetcher:    fetcher.NewDocumentFetcher(cfg.FetcherSettings, log),
		Extractors: extractor.NewRegistry(cfg.ExtractorSettings, log),
		Parser:     parser.NewLLMParser(cfg.ParserSettings, log),
		Validator:  validator.NewRecordValidator(log),
		Sources:    sourceRepo,
		Cards:      cardRepo,
		Records:    recordRepo,
		Cache:      cache,
		S3:         s3,
		Cfg:        cfg.WorkerSettings,
		Log:        log,
	}
	orchestrator := &worker.Orchestrator{
		Sources: sourceRepo,
		Worker:  crawlWorker,
		Cfg:     cfg.WorkerSettings,
		Log:     log,
	}

	triggerChan := make(chan *model.CrawlTrigger, 100)
	reportChan := make(chan *model.CrawlReport, 100)
	panicChan := make(chan struct{}, cfg.WorkerSettings.RunExecutors)

	consumerWg := &sync.WaitGroup{}
	consumerWg.Add(1)
	go broker.NewKafkaConsumer(ctx, consumerWg, triggerChan, log, cfg.KafkaSettings.Consumer)

	workerWg := &sync.WaitGroup{}
	runWorker := &worker.RunWorker{
		TriggerChan:  triggerChan,
		ReportChan:   reportChan,
		PanicChan:    panicChan,
		Orchestrator: orchestrator,
		Log:          log,
		Wg:           workerWg,
	}
	for i := 0; i < cfg.WorkerSettings.RunExecutors; i++ {
		workerWg.Add(1)
		go runWorker.Run(ctx)
	}
	// Restart executors if they panic.
	go func() {
		for range panicChan {
			workerWg.Add(1)
			go runWorker.Run(ctx)
			time.Sleep(3 * time.Minute) // timeout to avoid polluting logs if something unrecoverable happened
		}
	}()

	producerWg := &sync.WaitGroup{}
	producerWg.Add(1)
	go broker.NewKafkaProducer(producerWg, reportChan, log, cfg.KafkaSettings.Producer)

	sched := scheduler.NewScheduler(triggerChan, recordRepo, cfg.SchedulerSettings, log)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Graceful shutdown.
	// 1. Stop both triggerChan senders: the scheduler, then the Kafka Consumer.
	//    Only then close triggerChan here, so neither sender hits a closed channel
	// 2. Wait till Run Executors drain triggerChan. Close reportChan
	// 3. Wait till Producer process all messages from reportChan and write to kafka
	// 4. Stop Kafka Producer. Close database and memcached connections
	<-ctx.Done()
	log.Info("stopping server...")
	sched.Stop()
	consumerWg.Wait()
	close(triggerChan)
	log.Info("close triggerChan.")
	workerWg.Wait()
	close(reportChan)
	log.Info("close reportChan.")
	close(panicChan)
	log.Info("close panicChan.")
	producerWg.Wait()
}

func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     false}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	log.Info("connecting to the database...")
	sqlCfg := mysql.Config{
		User:                 cfg.DbSettings.User,
		Passwd:               cfg.DbSettings.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", cfg.DbSettings.Host, cfg.DbSettings.Port),
		DBName:               cfg.DbSettings.Name,
		AllowNativePasswords: true,
		ParseTime:            true,
	}
	database, err := sql.Open("mysql", sqlCfg.FormatDSN())
	if err != nil {
		log.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		log.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			log.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				log.Error("failed to establish database connection.")
				os.Exit(1)
			}
			log.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	log.Info("connected to the database!")

	return database
}

func closeDatabase() {
	log.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		log.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}
