// Package crawler is the crawl engine core: the shared queue/visited/
// skipped tables, the admission pipeline, the bounded worker pool with
// its request-gap throttle, per-URL callback dispatch, and the
// termination decision.
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"arachne/engine/internal/httpx"
	"arachne/engine/internal/ledger"
	"arachne/engine/internal/processor"
	"arachne/engine/internal/ratelimit"
	"arachne/engine/internal/robots"
	"arachne/engine/internal/telemetry/logging"
	"arachne/engine/internal/telemetry/metrics"
	"arachne/engine/internal/telemetry/tracing"
	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// Config carries the crawl budgets and admission knobs.
type Config struct {
	InitialURL *urlx.ParsedURL

	Workers       int
	MaxReqsPerSec float64
	Timeout       time.Duration

	MaxQueueLength       int
	MaxVisitedURLs       int
	MaxSkippedURLs       int
	MaxURLLength         int
	MaxNon200PerBasename int
	MaxDepth             int

	ExternalFileDomains []string
	CrawlDomains        []string
	SingleForeignPage   bool

	IncludeRegex               []*regexp.Regexp
	IgnoreRegex                []*regexp.Regexp
	RegexFilteringOnlyForPages bool

	RemoveQueryParams    bool
	AddRandomQueryParams bool
	CrawlOnlyHTMLFiles   bool
	Transforms           []urlx.TransformRule

	// KeepBodies retains response bodies in the ledger store for
	// analyzers and exporters.
	KeepBodies bool
}

// VisitedCallback runs analyzers for one visited URL. The returned map
// contributes extra output columns.
type VisitedCallback func(v models.VisitedURL, body []byte, headers http.Header) map[string]string

// NoticeKind classifies non-fatal events surfaced to the embedder.
type NoticeKind string

const (
	NoticeParseWarning  NoticeKind = "parse-warning"
	NoticeBasenameGuard NoticeKind = "basename-guard"
	NoticeWorkerPanic   NoticeKind = "worker-panic"
	NoticeRobotsFetch   NoticeKind = "robots-fetch"
)

// Notice is a recoverable event: the crawl continues.
type Notice struct {
	Kind    NoticeKind
	Subject string
	Err     error
}

// Deps wires the collaborators the engine constructs.
type Deps struct {
	Client     *httpx.Client
	Robots     *robots.Oracle
	Processors *processor.Registry
	HTMLInfo   *processor.HTMLProcessor
	Throttle   *ratelimit.Throttle
	Ledger     *ledger.Ledger
	Logger     logging.Logger
	Metrics    metrics.Provider
	Tracer     *tracing.Tracer

	OnVisited VisitedCallback
	OnRow     func(models.VisitedURL)
	OnNotice  func(Notice)
}

// Snapshot is a point-in-time view of crawl progress.
type Snapshot struct {
	Queued  int   `json:"queued"`
	Visited int   `json:"visited"`
	Skipped int   `json:"skipped"`
	Done    int64 `json:"done"`
	Active  int64 `json:"active"`
}

// Crawler drives one crawl. Construct with New, drive with Run; Run may
// be called once.
type Crawler struct {
	cfg    Config
	deps   Deps
	tables *Tables

	basenameMu       sync.Mutex
	non200Basenames  map[string]int
	basenameNotified map[string]bool

	initialMu        sync.Mutex
	initial          *urlx.ParsedURL
	initialUqID      string
	initialConfirmed bool

	terminated atomic.Bool
	failMu     sync.Mutex
	failErr    error

	wake   chan struct{}
	active atomic.Int64
	done   atomic.Int64
	wg     sync.WaitGroup

	mRequests metrics.Counter
	mDuration metrics.Histogram
	mQueue    metrics.Gauge
}

// New validates budgets and builds a crawler.
func New(cfg Config, deps Deps) (*Crawler, error) {
	if cfg.InitialURL == nil {
		return nil, models.ErrMissingStartURL
	}
	if cfg.Workers < 1 {
		return nil, models.ErrInvalidWorkerCount
	}
	if deps.Throttle == nil {
		deps.Throttle = ratelimit.New(cfg.MaxReqsPerSec, nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.New(nil)
	}
	if deps.Processors == nil {
		deps.Processors = processor.NewRegistry(processor.DefaultOptions())
	}
	if deps.HTMLInfo == nil {
		deps.HTMLInfo = processor.NewHTMLProcessor(processor.DefaultOptions())
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.New(0)
	}
	c := &Crawler{
		cfg:              cfg,
		deps:             deps,
		tables:           NewTables(cfg.MaxQueueLength, cfg.MaxVisitedURLs, cfg.MaxSkippedURLs),
		non200Basenames:  make(map[string]int),
		basenameNotified: make(map[string]bool),
		initial:          cfg.InitialURL.WithoutFragment(),
		wake:             make(chan struct{}, 1),
	}
	c.initialUqID = models.UqID(c.initial.String())
	if deps.Metrics != nil {
		c.mRequests = deps.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "arachne", Subsystem: "crawler", Name: "requests_total",
			Help: "Completed requests by status class", Labels: []string{"class"},
		}})
		c.mDuration = deps.Metrics.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "arachne", Subsystem: "crawler", Name: "request_seconds",
			Help: "Request wall time",
		}})
		c.mQueue = deps.Metrics.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "arachne", Subsystem: "crawler", Name: "queue_length",
			Help: "URLs waiting in the queue",
		}})
	}
	return c, nil
}

// Terminate flags the crawl for shutdown: in-flight responses are
// dropped and no new work is scheduled. Safe to call repeatedly and from
// any goroutine.
func (c *Crawler) Terminate() {
	c.terminated.Store(true)
	c.signalWork()
}

// Terminated reports whether shutdown has been requested.
func (c *Crawler) Terminated() bool { return c.terminated.Load() }

// Snapshot returns current table sizes and worker counts.
func (c *Crawler) Snapshot() Snapshot {
	return Snapshot{
		Queued:  c.tables.QueueLen(),
		Visited: c.tables.VisitedLen(),
		Skipped: c.tables.SkippedLen(),
		Done:    c.done.Load(),
		Active:  c.active.Load(),
	}
}

// Visited returns a snapshot of the visited table.
func (c *Crawler) Visited() []models.VisitedURL { return c.tables.VisitedEntries() }

// Skipped returns a snapshot of the skipped table.
func (c *Crawler) Skipped() []models.SkippedURL { return c.tables.SkippedEntries() }

// InitialURL returns the (possibly redirect-adopted) start URL.
func (c *Crawler) InitialURL() *urlx.ParsedURL {
	c.initialMu.Lock()
	defer c.initialMu.Unlock()
	return c.initial
}

// Run drives the crawl to completion: seed, schedule workers up to the
// configured cap under the rate throttle, and stop when the graph is
// exhausted, a capacity limit trips, or shutdown is requested.
func (c *Crawler) Run(ctx context.Context) error {
	seed := c.initial.String()
	ok, err := c.tables.Enqueue(models.Key(seed), models.QueuedURL{URL: seed, UqID: c.initialUqID, Tag: models.TagInit})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("seed %s not admissible", seed)
	}

	sem := make(chan struct{}, c.cfg.Workers)
	for {
		if c.terminated.Load() || ctx.Err() != nil {
			break
		}
		if c.loadFailure() != nil {
			break
		}
		key, entry, got, err := c.tables.Dequeue()
		if err != nil {
			c.fail(err)
			break
		}
		if !got {
			if c.active.Load() == 0 && c.tables.QueueLen() == 0 {
				break
			}
			if total := c.tables.TotalLen(); total >= 2 && c.done.Load() >= int64(total) {
				break
			}
			select {
			case <-c.wake:
			case <-ctx.Done():
			}
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}
		if err := c.deps.Throttle.Wait(ctx); err != nil {
			<-sem
			continue
		}
		c.active.Add(1)
		c.wg.Add(1)
		go func(key string, entry models.QueuedURL) {
			defer func() {
				if r := recover(); r != nil {
					c.notice(NoticeWorkerPanic, entry.URL, fmt.Errorf("worker panic: %v", r))
				}
				c.active.Add(-1)
				<-sem
				c.signalWork()
				c.wg.Done()
			}()
			c.process(ctx, key, entry)
		}(key, entry)
	}
	c.wg.Wait()
	c.terminated.Store(true)
	if err := c.loadFailure(); err != nil {
		return err
	}
	if ctx.Err() != nil && c.done.Load() == 0 {
		return models.ErrCrawlInterrupted
	}
	return nil
}

// process executes steps 2-11 of the worker loop for one dequeued URL.
func (c *Crawler) process(ctx context.Context, key string, entry models.QueuedURL) {
	if c.terminated.Load() {
		// Shutdown won the race with the scheduler; short-circuit before
		// any I/O.
		return
	}
	spanCtx, span := c.deps.Tracer.StartSpan(ctx, "crawler.visit", entry.URL)
	defer span.End()

	parsed, err := urlx.Parse(entry.URL, nil)
	if err != nil {
		c.tables.UpdateVisited(key, models.VisitedURL{URL: entry.URL, UqID: entry.UqID, SourceUqID: entry.SourceUqID, Tag: entry.Tag, Status: models.StatusSendError})
		c.done.Add(1)
		return
	}

	var resp *httpx.Response
	if c.overBasenameThreshold(parsed.BaseName()) {
		// Guarded basename: no network I/O, no rate budget.
		resp = httpx.SkippedResponse(parsed.String())
		c.deps.Throttle.Refund()
	} else {
		resp = c.deps.Client.Do(spanCtx, c.requestFor(parsed))
		if resp.FromCache {
			c.deps.Throttle.Refund()
		}
	}

	if c.terminated.Load() {
		// Shutdown observed while the request was in flight; drop the
		// result.
		return
	}

	contentType := classifyContent(resp.Headers)
	if resp.Skipped {
		contentType = models.ContentTypeOther
	}
	initialHost, _ := c.initialIdentity()
	pageForeign := parsed.Host != initialHost
	crawlScope := !pageForeign || anyDomainMatches(parsed.Host, c.cfg.CrawlDomains)

	extras := make(map[string]string)
	body := resp.Body

	if resp.Status >= 200 && resp.Status < 300 && len(body) > 0 {
		switch contentType {
		case models.ContentTypeHTML:
			if crawlScope {
				body = c.deps.Processors.Rewrite(body, parsed)
				c.extractAndAdmit(body, contentType, parsed, entry, pageForeign)
				if info, err := c.deps.HTMLInfo.ExtractPageInfo(body); err == nil {
					extras["Title"] = info.Title
					extras["Description"] = info.Description
					extras["Keywords"] = info.Keywords
					extras["DOM elements"] = fmt.Sprintf("%d", info.DOMElements)
				}
			}
		case models.ContentTypeStylesheet, models.ContentTypeScript, models.ContentTypeXML:
			c.extractAndAdmit(body, contentType, parsed, entry, pageForeign)
		}
	}

	if contentType == models.ContentTypeRedirect {
		c.handleRedirect(parsed, entry, resp)
	} else {
		c.confirmInitial(entry)
	}

	cacheType, cacheLifetime := parseCacheMeta(resp.Headers)
	visited := models.VisitedURL{
		URL:           parsed.String(),
		UqID:          entry.UqID,
		SourceUqID:    entry.SourceUqID,
		Tag:           entry.Tag,
		Elapsed:       resp.Elapsed,
		Status:        resp.Status,
		Size:          int64(len(resp.Body)),
		ContentType:   contentType,
		CacheType:     cacheType,
		CacheLifetime: cacheLifetime,
	}

	if c.deps.OnVisited != nil {
		for k, v := range c.runVisitedCallback(visited, body, resp.Headers) {
			extras[k] = v
		}
	}
	if len(extras) > 0 {
		visited.Extras = extras
	}

	c.tables.UpdateVisited(key, visited)
	c.countNon200(parsed, resp.Status)
	if c.deps.Ledger != nil {
		storedBody := body
		if !c.cfg.KeepBodies {
			storedBody = nil
		}
		if err := c.deps.Ledger.Append(visited, storedBody, resp.Headers); err != nil {
			c.notice(NoticeParseWarning, visited.URL, fmt.Errorf("ledger append: %w", err))
		}
	}
	if c.deps.OnRow != nil {
		c.deps.OnRow(visited)
	}
	c.observe(resp)
	c.deps.Logger.InfoCtx(spanCtx, "visited",
		"url", visited.URL, "status", visited.Status, "type", contentType.String(),
		"elapsed", visited.Elapsed, "size", visited.Size)
	c.done.Add(1)
}

// runVisitedCallback isolates analyzer panics: they are logged and do
// not abort the crawl.
func (c *Crawler) runVisitedCallback(v models.VisitedURL, body []byte, headers http.Header) (extras map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			c.notice(NoticeWorkerPanic, v.URL, fmt.Errorf("visited callback panic: %v", r))
			extras = nil
		}
	}()
	return c.deps.OnVisited(v, body, headers)
}

func (c *Crawler) extractAndAdmit(body []byte, ct models.ContentType, parsed *urlx.ParsedURL, entry models.QueuedURL, pageForeign bool) {
	set, err := c.deps.Processors.FindURLs(body, ct, parsed)
	if err != nil {
		c.notice(NoticeParseWarning, parsed.String(), err)
	}
	if set == nil {
		return
	}
	for _, f := range set.URLs() {
		c.admit(f, entry.UqID, pageForeign)
	}
}

// handleRedirect resolves the Location target and feeds it back through
// admission. A first-response redirect to another host on the same
// second-level domain adopts the target as the new initial URL.
func (c *Crawler) handleRedirect(parsed *urlx.ParsedURL, entry models.QueuedURL, resp *httpx.Response) {
	location := resp.Headers.Get("Location")
	if location == "" {
		return
	}
	target, err := urlx.Parse(location, parsed)
	if err != nil {
		c.notice(NoticeParseWarning, parsed.String(), fmt.Errorf("unresolvable redirect %q: %w", location, err))
		return
	}
	target = target.WithoutFragment()

	c.initialMu.Lock()
	if !c.initialConfirmed && entry.UqID == c.initialUqID {
		if target.Host != c.initial.Host && target.Domain2ndLevel == c.initial.Domain2ndLevel {
			c.initial = target
		}
		c.initialConfirmed = true
	}
	c.initialMu.Unlock()

	c.admit(models.FoundURL{URL: target.String(), SourceURL: parsed.String(), Tag: models.TagRedirect}, entry.UqID, false)
}

func (c *Crawler) confirmInitial(entry models.QueuedURL) {
	if entry.UqID != c.initialUqID {
		return
	}
	c.initialMu.Lock()
	c.initialConfirmed = true
	c.initialMu.Unlock()
}

func (c *Crawler) initialIdentity() (host, domain2nd string) {
	c.initialMu.Lock()
	defer c.initialMu.Unlock()
	return c.initial.Host, c.initial.Domain2ndLevel
}

// requestFor builds the HTTP request for one URL. Basic auth rides along
// only for hosts sharing the initial URL's second-level domain; fonts
// carry an Origin header for CORS.
func (c *Crawler) requestFor(p *urlx.ParsedURL) httpx.Request {
	initialHost, initialDomain := c.initialIdentity()
	req := httpx.Request{
		Host:         p.Host,
		Port:         p.Port,
		Scheme:       p.Scheme,
		Path:         p.FullURL(false, false),
		Method:       http.MethodGet,
		UseBasicAuth: p.Domain2ndLevel == initialDomain,
	}
	if p.IsFont() {
		req.Origin = p.Scheme + "://" + initialHost
	}
	return req
}

func (c *Crawler) observe(resp *httpx.Response) {
	if c.mRequests == nil {
		return
	}
	c.mRequests.Inc(1, statusClass(resp))
	if !resp.FromCache && !resp.Skipped {
		c.mDuration.Observe(resp.Elapsed.Seconds())
	}
	c.mQueue.Set(float64(c.tables.QueueLen()))
}

func statusClass(resp *httpx.Response) string {
	switch {
	case resp.Skipped:
		return "skipped"
	case resp.FromCache:
		return "cache"
	case resp.Status < 0:
		return "transport-error"
	case resp.Status < 300:
		return "2xx"
	case resp.Status < 400:
		return "3xx"
	case resp.Status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func (c *Crawler) notice(kind NoticeKind, subject string, err error) {
	if c.deps.OnNotice != nil {
		c.deps.OnNotice(Notice{Kind: kind, Subject: subject, Err: err})
	}
}

// fail records the first fatal error and requests shutdown.
func (c *Crawler) fail(err error) {
	c.failMu.Lock()
	if c.failErr == nil {
		c.failErr = err
	}
	c.failMu.Unlock()
	c.Terminate()
}

func (c *Crawler) loadFailure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failErr
}

func (c *Crawler) signalWork() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
