package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/karust/gogetcrawl/common"
	"github.com/karust/gogetcrawl/commoncrawl"
	"github.com/patrickmn/go-cache"
)

const indexListUrl = "https://index.commoncrawl.org/collinfo.json"

type Index struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Timegate string `json:"timegate"`
	CdxAPI   string `json:"cdx-api"`
}

// ArchiveFetcher retrieves the most recent archived copy of a webpage
// from CommonCrawl. Used only when the bank refuses direct access.
type ArchiveFetcher struct {
	crawler    *commoncrawl.CommonCrawl
	cfg        *config.FetcherConfig
	log        *slog.Logger
	localCache *cache.Cache
}

func NewArchiveFetcher(cfg *config.FetcherConfig, log *slog.Logger) *ArchiveFetcher {
	c, err := commoncrawl.New(cfg.RequestTimeout, cfg.Retries)
	if err != nil {
		log.Error("failed to create common crawl client", slog.String("err", err.Error()))
	}
	return &ArchiveFetcher{
		crawler:    c,
		cfg:        cfg,
		log:        log,
		localCache: cache.New(72*time.Hour, 72*time.Hour), // indexes update every month
	}
}

func (a *ArchiveFetcher) Fetch(_ context.Context, src *model.Source) (*model.FetchResult, error) {
	startTime := time.Now()
	if a.crawler == nil { // due to request limitations, the client may not be initialized at startup
		a.log.Info("connection retry to common crawl.")
		var err error
		a.crawler, err = commoncrawl.New(a.cfg.RequestTimeout, a.cfg.Retries)
		if err != nil {
			a.log.Error("failed to create common crawl client", slog.String("err", err.Error()))
			return nil, model.NewNetworkError(errors.New("connection to common crawl failed"))
		}
	}
	res := &model.FetchResult{
		FinalURL:  src.URL,
		Mechanism: a.crawler.Name(),
	}

	indexList, err := a.getIndexes()
	if err != nil {
		return nil, model.NewNetworkError(err)
	}
	requestCfg := common.RequestConfig{
		URL:     src.URL,
		Filters: []string{"statuscode:200", "mimetype:text/html"},
	}

	for i := 0; i < a.cfg.LastCrawlIndexes && i < len(indexList); i++ {
		p, _ := a.crawler.GetPagesIndex(requestCfg, indexList[i].Id)
		if len(p) == 0 {
			a.log.Debug("no archived pages found", slog.String("url", src.URL),
				slog.String("index", indexList[i].Id))
			continue
		}
		resp, err := a.crawler.GetFile(p[len(p)-1]) // last one is the most recent
		if err != nil {
			a.log.Error("failed to get file", slog.String("err", err.Error()))
			break
		}
		res.Body = resp
		res.StatusCode = http.StatusOK
		break
	}
	if len(res.Body) == 0 {
		a.log.Info("no archived pages found", slog.String("url", src.URL))
		return nil, model.NewNetworkError(errors.New("no archived pages found"))
	}
	res.TimeToFetch = time.Since(startTime).Milliseconds()

	return res, nil
}

func (a *ArchiveFetcher) getIndexes() ([]Index, error) {
	if i, ok := a.localCache.Get("indexes"); ok {
		return i.([]Index), nil
	}

	response, err := common.Get(indexListUrl, a.crawler.MaxTimeout, a.crawler.MaxRetries)
	if err != nil {
		return nil, err
	}

	var indexes []Index
	err = jsoniter.Unmarshal(response, &indexes)
	if err != nil {
		return indexes, err
	}
	a.localCache.Set("indexes", indexes, cache.DefaultExpiration)

	return indexes, nil
}
