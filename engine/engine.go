// Package engine composes the crawl subsystems behind a single facade:
// configuration in, a driven crawl with callbacks and sinks, and the
// visit ledger out.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"arachne/engine/exporter"
	"arachne/engine/internal/crawler"
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
	"arachne/engine/output"
)

// VisitedCallback runs analyzers for each visited URL exactly once. The
// returned map is merged into the extra output columns.
type VisitedCallback func(v models.VisitedURL, body []byte, headers http.Header) map[string]string

// DoneCallback fires exactly once when the crawl ends, regardless of the
// termination reason.
type DoneCallback func()

// Snapshot is a unified view of crawl progress.
type Snapshot struct {
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
	Queued    int           `json:"queued"`
	Visited   int           `json:"visited"`
	Skipped   int           `json:"skipped"`
	Done      int64         `json:"done"`
	Active    int64         `json:"active"`
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithLogger injects the base slog logger.
func WithLogger(base *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.New(base) }
}

// WithSink replaces the per-URL output sink.
func WithSink(s output.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithVisitedCallback installs the analyzer fan-out callback.
func WithVisitedCallback(cb VisitedCallback) Option {
	return func(e *Engine) { e.visited = cb }
}

// Engine is the crawl facade. Construct with New, drive with Run.
type Engine struct {
	cfg     Config
	logger  logging.Logger
	sink    output.Sink
	visited VisitedCallback

	metricsProvider metrics.Provider
	tracer          *tracing.Tracer
	throttle        *ratelimit.Throttle
	ledger          *ledger.Ledger
	cr              *crawler.Crawler
	watcher         *configWatcher

	startedAt time.Time
	running   atomic.Bool
	doneOnce  sync.Once
	closeOnce sync.Once
}

// New validates cfg and assembles the engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, logger: logging.New(nil), startedAt: time.Now()}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}

	initial, err := urlx.Parse(cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	forced, err := cfg.forcedIPs()
	if err != nil {
		return nil, err
	}
	cacheDir := cfg.HTTPCacheDir
	if cacheDir == "off" {
		cacheDir = ""
	}
	cache, err := httpx.NewCache(cacheDir, cfg.HTTPCacheCompression)
	if err != nil {
		return nil, err
	}
	authUser, authPass := cfg.basicAuth()
	client, err := httpx.NewClient(httpx.ClientConfig{
		Timeout:        cfg.Timeout,
		UserAgent:      cfg.FinalUserAgent(),
		Accept:         cfg.Accept,
		AcceptEncoding: cfg.AcceptEncoding,
		BasicAuthUser:  authUser,
		BasicAuthPass:  authPass,
		Proxy:          cfg.Proxy,
		ForcedIPs:      forced,
		Cache:          cache,
	})
	if err != nil {
		return nil, err
	}

	oracle := robots.New(Signature, cfg.FinalUserAgent(), cfg.IgnoreRobotsTxt, func(n robots.FetchNotice) {
		e.logger.WarnCtx(context.Background(), "robots.txt unavailable; treating as allow-all",
			"host", n.Host, "port", n.Port, "err", n.Err)
	})

	var store ledger.Store
	keepBodies := cfg.MarkdownExportDir != "" || cfg.ResultStorage == "disk"
	switch cfg.ResultStorage {
	case "disk":
		dir := cfg.ResultStorageDir
		if dir == "" {
			dir = "."
		}
		boltStore, err := ledger.NewBoltStore(filepath.Join(dir, "arachne-results.db"))
		if err != nil {
			return nil, err
		}
		store = boltStore
	default:
		if keepBodies {
			store = ledger.NewMemoryStore()
		}
	}
	e.ledger = ledger.New(store)

	if cfg.MetricsEnabled {
		e.metricsProvider = metrics.Select(cfg.MetricsBackend)
	}
	e.tracer = tracing.New(cfg.TracingSamplePercent)
	e.throttle = ratelimit.New(cfg.MaxReqsPerSec, nil)

	includeRx, err := cfg.compileRegex(cfg.IncludeRegex)
	if err != nil {
		return nil, err
	}
	ignoreRx, err := cfg.compileRegex(cfg.IgnoreRegex)
	if err != nil {
		return nil, err
	}
	transforms, err := cfg.transforms()
	if err != nil {
		return nil, err
	}

	cr, err := crawler.New(crawler.Config{
		InitialURL:                 initial,
		Workers:                    cfg.Workers,
		MaxReqsPerSec:              cfg.MaxReqsPerSec,
		Timeout:                    cfg.Timeout,
		MaxQueueLength:             cfg.MaxQueueLength,
		MaxVisitedURLs:             cfg.MaxVisitedURLs,
		MaxSkippedURLs:             cfg.MaxSkippedURLs,
		MaxURLLength:               cfg.MaxURLLength,
		MaxNon200PerBasename:       cfg.MaxNon200ResponsesPerBasename,
		MaxDepth:                   cfg.MaxDepth,
		ExternalFileDomains:        cfg.AllowedDomainsForExternalFiles,
		CrawlDomains:               cfg.AllowedDomainsForCrawling,
		SingleForeignPage:          cfg.SingleForeignPage,
		IncludeRegex:               includeRx,
		IgnoreRegex:                ignoreRx,
		RegexFilteringOnlyForPages: cfg.RegexFilteringOnlyForPages,
		RemoveQueryParams:          cfg.RemoveQueryParams,
		AddRandomQueryParams:       cfg.AddRandomQueryParams,
		CrawlOnlyHTMLFiles:         cfg.CrawlOnlyHTMLFiles,
		Transforms:                 transforms,
		KeepBodies:                 keepBodies,
	}, crawler.Deps{
		Client:     client,
		Robots:     oracle,
		Processors: processor.NewRegistry(processor.DefaultOptions()),
		HTMLInfo:   processor.NewHTMLProcessor(processor.DefaultOptions()),
		Throttle:   e.throttle,
		Ledger:     e.ledger,
		Logger:     e.logger,
		Metrics:    e.metricsProvider,
		Tracer:     e.tracer,
		OnVisited:  e.dispatchVisited,
		OnRow:      e.writeRow,
		OnNotice:   e.logNotice,
	})
	if err != nil {
		return nil, err
	}
	e.cr = cr
	return e, nil
}

// Run drives the crawl and fires done exactly once when it ends, whether
// the graph was exhausted, a limit tripped, or Terminate was called.
func (e *Engine) Run(ctx context.Context, done DoneCallback) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine for %s already ran", e.cfg.URL)
	}
	defer func() {
		e.cr.Terminate()
		if done != nil {
			e.doneOnce.Do(done)
		}
		if e.sink != nil {
			_ = e.sink.Flush()
		}
	}()
	return e.cr.Run(ctx)
}

// Terminate requests shutdown: in-flight responses are dropped and the
// done callback still fires exactly once.
func (e *Engine) Terminate() { e.cr.Terminate() }

// Terminated reports whether shutdown has been requested.
func (e *Engine) Terminated() bool { return e.cr.Terminated() }

// Snapshot returns a progress view.
func (e *Engine) Snapshot() Snapshot {
	cs := e.cr.Snapshot()
	return Snapshot{
		StartedAt: e.startedAt,
		Uptime:    time.Since(e.startedAt),
		Queued:    cs.Queued,
		Visited:   cs.Visited,
		Skipped:   cs.Skipped,
		Done:      cs.Done,
		Active:    cs.Active,
	}
}

// Visited returns a snapshot of the visited table.
func (e *Engine) Visited() []models.VisitedURL { return e.cr.Visited() }

// Skipped returns a snapshot of the skipped table.
func (e *Engine) Skipped() []models.SkippedURL { return e.cr.Skipped() }

// InitialURL returns the (possibly redirect-adopted) canonical start URL.
func (e *Engine) InitialURL() string { return e.cr.InitialURL().String() }

// ResultSource exposes the visit ledger to exporters.
func (e *Engine) ResultSource() exporter.Source { return e.ledger }

// MetricsHandler returns the Prometheus exposition handler, or nil when
// metrics are disabled or another backend is active.
func (e *Engine) MetricsHandler() http.Handler {
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// Close releases the ledger store, the tracer and the config watcher.
// Idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.watcher != nil {
			e.watcher.stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.tracer.Shutdown(ctx)
		err = e.ledger.Close()
	})
	return err
}

func (e *Engine) dispatchVisited(v models.VisitedURL, body []byte, headers http.Header) map[string]string {
	if e.visited == nil {
		return nil
	}
	return e.visited(v, body, headers)
}

func (e *Engine) writeRow(v models.VisitedURL) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Write(v); err != nil {
		e.logger.ErrorCtx(context.Background(), "output sink write failed", "url", v.URL, "err", err)
	}
}

func (e *Engine) logNotice(n crawler.Notice) {
	e.logger.WarnCtx(context.Background(), string(n.Kind), "subject", n.Subject, "err", n.Err)
}
