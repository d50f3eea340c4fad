package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arachne/engine"
	"arachne/engine/exporter"
	"arachne/engine/models"
	"arachne/engine/output"
)

// stringList is a repeatable flag value.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	// Optional .env bootstrap so credentials stay out of argv.
	_ = godotenv.Load()

	cfg := engine.Defaults()
	if auth := os.Getenv("ARACHNE_HTTP_AUTH"); auth != "" {
		cfg.HTTPAuth = auth
	}
	if proxy := os.Getenv("ARACHNE_PROXY"); proxy != "" {
		cfg.Proxy = proxy
	}

	var (
		externalDomains stringList
		crawlDomains    stringList
		includeRegex    stringList
		ignoreRegex     stringList
		transformRules  stringList
		resolves        stringList

		timeoutSec    int
		configPath    string
		watchConfig   bool
		outputFormat  string
		metricsListen string
		snapshotEvery time.Duration
		showVersion   bool
	)

	flag.StringVar(&cfg.URL, "url", "", "Seed URL to crawl (required)")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Maximum concurrent in-flight requests")
	flag.Float64Var(&cfg.MaxReqsPerSec, "max-reqs-per-sec", cfg.MaxReqsPerSec, "Process-wide request rate cap")
	flag.IntVar(&timeoutSec, "timeout", int(cfg.Timeout/time.Second), "Per-request timeout in seconds")
	flag.IntVar(&cfg.MaxQueueLength, "max-queue-length", cfg.MaxQueueLength, "Queue table capacity")
	flag.IntVar(&cfg.MaxVisitedURLs, "max-visited-urls", cfg.MaxVisitedURLs, "Visited table capacity")
	flag.IntVar(&cfg.MaxSkippedURLs, "max-skipped-urls", cfg.MaxSkippedURLs, "Skipped table capacity")
	flag.IntVar(&cfg.MaxURLLength, "max-url-length", cfg.MaxURLLength, "Maximum admitted URL length")
	flag.IntVar(&cfg.MaxNon200ResponsesPerBasename, "max-non200-responses-per-basename", cfg.MaxNon200ResponsesPerBasename, "Non-200 responses tolerated per URL basename")
	flag.StringVar(&cfg.MemoryLimit, "memory-limit", "", "Soft memory limit, e.g. 512M or 2G")
	flag.Var(&externalDomains, "allowed-domain-for-external-files", "Foreign domain whose static files may be fetched (repeatable, * wildcards)")
	flag.Var(&crawlDomains, "allowed-domain-for-crawling", "Foreign domain whose pages may be crawled (repeatable, * wildcards)")
	flag.BoolVar(&cfg.SingleForeignPage, "single-foreign-page", false, "Crawl only the linked page and its assets on allowed foreign domains")
	flag.IntVar(&cfg.MaxDepth, "max-depth", 0, "Maximum URL path depth (0 = unlimited)")
	flag.Var(&includeRegex, "include-regex", "Admit only URLs matching this regex (repeatable)")
	flag.Var(&ignoreRegex, "ignore-regex", "Reject URLs matching this regex (repeatable)")
	flag.BoolVar(&cfg.RegexFilteringOnlyForPages, "regex-filtering-only-for-pages", false, "Static files bypass the include/ignore regex filters")
	flag.BoolVar(&cfg.IgnoreRobotsTxt, "ignore-robots-txt", false, "Do not consult robots.txt")
	flag.BoolVar(&cfg.RemoveQueryParams, "remove-query-params", false, "Strip query strings before enqueueing")
	flag.BoolVar(&cfg.AddRandomQueryParams, "add-random-query-params", false, "Append cache-busting query params to every URL")
	flag.Var(&transformRules, "transform-url", "URL rewrite rule \"from -> to\" (repeatable, /regex/ form supported)")
	flag.BoolVar(&cfg.CrawlOnlyHTMLFiles, "crawl-only-html-files", false, "Fetch only HTML-like URLs (sitemaps excepted)")
	flag.StringVar(&cfg.UserAgent, "user-agent", "", "User-Agent override (trailing ! suppresses the crawler signature)")
	flag.StringVar(&cfg.Device, "device", cfg.Device, "Default User-Agent device: desktop, mobile or tablet")
	flag.StringVar(&cfg.AcceptEncoding, "accept-encoding", cfg.AcceptEncoding, "Accept-Encoding request header")
	flag.StringVar(&cfg.Proxy, "proxy", cfg.Proxy, "Proxy host:port or socks5://host:port")
	flag.StringVar(&cfg.HTTPAuth, "http-auth", cfg.HTTPAuth, "HTTP basic auth user:pass (same-domain hosts only)")
	flag.Var(&resolves, "resolve", "Forced DNS mapping host:port:ip (repeatable)")
	flag.StringVar(&cfg.HTTPCacheDir, "http-cache-dir", cfg.HTTPCacheDir, "HTTP response cache directory (off disables)")
	flag.BoolVar(&cfg.HTTPCacheCompression, "http-cache-compression", false, "Compress HTTP cache entries")
	flag.StringVar(&cfg.ResultStorage, "result-storage", cfg.ResultStorage, "Result body storage: memory or disk")
	flag.StringVar(&cfg.ResultStorageDir, "result-storage-dir", "", "Directory for disk result storage")
	flag.StringVar(&cfg.MarkdownExportDir, "markdown-export-dir", "", "Export visited HTML pages as markdown into this directory")
	flag.StringVar(&configPath, "config", "", "YAML config overlay file (its keys override command-line options)")
	flag.BoolVar(&watchConfig, "watch-config", false, "Hot-reload tunable options from the config file during the crawl")
	flag.StringVar(&outputFormat, "output", "table", "Per-URL output format: table or jsonl")
	flag.BoolVar(&cfg.MetricsEnabled, "metrics", false, "Enable metrics collection")
	flag.StringVar(&cfg.MetricsBackend, "metrics-backend", cfg.MetricsBackend, "Metrics backend: prom, otel or noop")
	flag.StringVar(&metricsListen, "metrics-listen", "", "Expose Prometheus metrics on this address (e.g. :2112)")
	flag.Float64Var(&cfg.TracingSamplePercent, "tracing-sample-percent", 0, "Percent of visits to trace")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 0, "Interval between progress snapshots on stderr (0 = disabled)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.CommandLine.Init("arachne", flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	if showVersion {
		fmt.Printf("arachne %s\n", engine.Version)
		os.Exit(2)
	}

	cfg.Timeout = time.Duration(timeoutSec) * time.Second
	if configPath != "" {
		// The overlay wins over command-line options for the keys it sets.
		if err := cfg.LoadFile(configPath); err != nil {
			fatalf("load config: %v", err)
		}
	}
	cfg.AllowedDomainsForExternalFiles = append(cfg.AllowedDomainsForExternalFiles, externalDomains...)
	cfg.AllowedDomainsForCrawling = append(cfg.AllowedDomainsForCrawling, crawlDomains...)
	cfg.IncludeRegex = append(cfg.IncludeRegex, includeRegex...)
	cfg.IgnoreRegex = append(cfg.IgnoreRegex, ignoreRegex...)
	cfg.TransformURL = append(cfg.TransformURL, transformRules...)
	cfg.Resolve = append(cfg.Resolve, resolves...)

	if err := cfg.Validate(); err != nil {
		fatalf("invalid options: %v", err)
	}
	if cfg.MemoryLimit != "" {
		limit, err := engine.ParseMemoryLimit(cfg.MemoryLimit)
		if err != nil {
			fatalf("invalid options: %v", err)
		}
		debug.SetMemoryLimit(limit)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var sink output.Sink
	switch outputFormat {
	case "table":
		sink = output.NewTableSink(os.Stdout)
	case "jsonl":
		sink = output.NewJSONLSink(os.Stdout)
	default:
		fatalf("invalid options: unknown output format %q", outputFormat)
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger), engine.WithSink(sink))
	if err != nil {
		fatalf("create engine: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if watchConfig && configPath != "" {
		if err := eng.WatchConfig(configPath); err != nil {
			logger.Warn("config watcher unavailable", "err", err)
		}
	}
	if cfg.MetricsEnabled && metricsListen != "" {
		if handler := eng.MetricsHandler(); handler != nil {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", handler)
				if err := http.ListenAndServe(metricsListen, mux); err != nil {
					logger.Warn("metrics listener failed", "err", err)
				}
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := false
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		interrupted = true
		log.Println("signal received; terminating crawl...")
		eng.Terminate()
		cancel()
		// second signal forces exit
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	var snapshotTicker *time.Ticker
	stopSnapshots := make(chan struct{})
	if snapshotEvery > 0 {
		snapshotTicker = time.NewTicker(snapshotEvery)
		defer snapshotTicker.Stop()
		go func() {
			for {
				select {
				case <-snapshotTicker.C:
					snap := eng.Snapshot()
					fmt.Fprintf(os.Stderr, "queued=%d visited=%d skipped=%d done=%d active=%d\n",
						snap.Queued, snap.Visited, snap.Skipped, snap.Done, snap.Active)
				case <-stopSnapshots:
					return
				}
			}
		}()
	}

	runErr := eng.Run(ctx, func() {
		logger.Info("crawl finished", "initial_url", eng.InitialURL())
	})
	close(stopSnapshots)

	snap := eng.Snapshot()
	fmt.Fprintf(os.Stderr, "\nvisited=%d skipped=%d elapsed=%s\n", snap.Visited, snap.Skipped, snap.Uptime.Round(time.Millisecond))

	if errors.Is(runErr, models.ErrCrawlInterrupted) {
		fmt.Fprintln(os.Stderr, "crawl interrupted; partial results above")
		os.Exit(1)
	}
	if runErr != nil {
		fatalf("crawl failed: %v", runErr)
	}
	if interrupted {
		fmt.Fprintln(os.Stderr, "crawl interrupted; partial results above")
		os.Exit(1)
	}

	if cfg.MarkdownExportDir != "" {
		res, err := (&exporter.MarkdownExporter{Dir: cfg.MarkdownExportDir}).Export(eng.ResultSource())
		if err != nil {
			fatalf("markdown export: %v", err)
		}
		for _, failure := range res.Failures {
			logger.Warn("markdown export", "err", failure)
		}
		logger.Info("markdown export finished", "pages", res.Exported, "dir", cfg.MarkdownExportDir)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
