package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/gocolly/colly"
)

// Fetcher retrieves the raw bytes of one source document.
type Fetcher interface {
	Fetch(ctx context.Context, src *model.Source) (*model.FetchResult, error)
}

// DocumentFetcher picks the fetch mechanism per source: plain HTTP for
// everything, a headless browser for webpage sources configured with
// render mode, and the web archive as a fallback for webpage sources
// refusing direct access.
type DocumentFetcher struct {
	cfg     *config.FetcherConfig
	log     *slog.Logger
	archive *ArchiveFetcher
}

func NewDocumentFetcher(cfg *config.FetcherConfig, log *slog.Logger) *DocumentFetcher {
	return &DocumentFetcher{
		cfg:     cfg,
		log:     log,
		archive: NewArchiveFetcher(cfg, log),
	}
}

func (f *DocumentFetcher) Fetch(ctx context.Context, src *model.Source) (*model.FetchResult, error) {
	var res *model.FetchResult
	var err error
	if src.ContentKind == model.KindWebpage && model.FetchMechanism(src.RenderMode) == model.HeadlessBrowser {
		res, err = f.fetchWithBrowser(ctx, src)
	} else {
		res, err = f.fetchWithCurl(src)
	}
	if err == nil && src.ContentKind == model.KindWebpage && blockedStatus(res.StatusCode) {
		f.log.Info("direct fetch refused. trying the web archive.",
			slog.String("url", src.URL), slog.Int("status_code", res.StatusCode))
		if archived, archiveErr := f.archive.Fetch(ctx, src); archiveErr == nil {
			return archived, nil
		}
	}
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, &model.StageError{
			Reason:    model.FailNetwork,
			Retryable: res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500,
			Err:       fmt.Errorf("unexpected status code %d from %s", res.StatusCode, src.URL),
		}
	}
	if len(res.Body) == 0 {
		return nil, model.NewNetworkError(fmt.Errorf("empty response body from %s", src.URL))
	}

	return res, nil
}

func blockedStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusUnavailableForLegalReasons
}

func (f *DocumentFetcher) fetchWithCurl(src *model.Source) (*model.FetchResult, error) {
	res := &model.FetchResult{
		FinalURL:  normalizeURL(src.URL),
		Mechanism: model.Curl.String(),
	}

	c := colly.NewCollector()
	c.SetRequestTimeout(f.cfg.FetchTimeout)
	c.UserAgent = f.cfg.UserAgent

	var fetchErr error
	c.OnResponse(func(resp *colly.Response) {
		res.Body = resp.Body
		res.StatusCode = resp.StatusCode
		res.ContentType = resp.Headers.Get("Content-Type")
		res.ETag = resp.Headers.Get("ETag")
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	t := time.Now()
	visitErr := c.Visit(res.FinalURL)
	res.TimeToFetch = time.Since(t).Milliseconds()

	if fetchErr != nil {
		if res.StatusCode == 0 {
			// transport-level failure, no response at all
			return nil, model.NewNetworkError(fetchErr)
		}
		return res, nil // HTTP-level failure, classified by the caller
	}
	if visitErr != nil {
		return nil, model.NewNetworkError(visitErr)
	}
	if res.StatusCode == 0 {
		res.StatusCode = http.StatusOK
	}

	return res, nil
}

func (f *DocumentFetcher) fetchWithBrowser(parent context.Context, src *model.Source) (*model.FetchResult, error) {
	startTime := time.Now()
	res := &model.FetchResult{
		FinalURL:  normalizeURL(src.URL),
		Mechanism: model.HeadlessBrowser.String(),
	}
	responseHeaders := make(map[string]interface{}, 20)

	tCtx, cancelTCtx := context.WithTimeout(parent, f.cfg.FetchTimeout)
	defer cancelTCtx()
	ctx, cancel := chromedp.NewContext(tCtx)
	defer cancel()

	chromedp.ListenTarget(ctx, func(event interface{}) {
		switch ev := event.(type) {
		case *network.EventResponseReceived:
			response := ev.Response
			if response.URL == res.FinalURL {
				res.StatusCode = int(response.Status)
				responseHeaders = response.Headers
			}
		case *network.EventRequestWillBeSent:
			if ev.RedirectResponse != nil {
				res.FinalURL = ev.Request.URL
				f.log.Info("redirected.", slog.String("url", ev.RedirectResponse.URL))
			}
		}
	})

	var html string
	err := chromedp.Run(ctx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(map[string]interface{}{
				"User-Agent": f.cfg.UserAgent,
			}),
			enableLifeCycleEvents(),
			navigateAndWaitFor(res.FinalURL, "networkIdle"),
		},
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, model.NewNetworkError(err)
	}
	if responseHeaders["ETag"] != nil {
		res.ETag, _ = responseHeaders["ETag"].(string)
	}
	res.Body = []byte(html)
	if res.StatusCode == 0 {
		res.StatusCode = http.StatusOK
	}
	res.ContentType = "text/html"
	res.TimeToFetch = time.Since(startTime).Milliseconds()

	return res, nil
}

func normalizeURL(url string) string {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "https://" + url
	}
	return url
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	chromedp.ListenTarget(cctx, lifecycleEventHandler(eventName, ch, cancel))
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lifecycleEventHandler signals ch on the first matching lifecycle event.
// The event can fire again before cancel removes the listener, so the
// close is guarded against running twice.
func lifecycleEventHandler(eventName string, ch chan struct{}, cancel context.CancelFunc) func(interface{}) {
	var once sync.Once
	return func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == eventName {
			once.Do(func() {
				cancel()
				close(ch)
			})
		}
	}
}
