package crawler

import (
	"fmt"
	"math/rand"
	"strings"

	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// domainMatches implements the scope wildcard grammar: `*` matches any
// host, `*.suffix` matches by suffix, `prefix.*` by prefix, and a `*`
// inside a pattern matches any label run.
func domainMatches(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)
	switch {
	case pattern == "":
		return false
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:] // keep the dot
		return strings.HasSuffix(host, suffix) || host == pattern[2:]
	case strings.HasSuffix(pattern, ".*"):
		prefix := pattern[:len(pattern)-1] // keep the dot
		return strings.HasPrefix(host, prefix) || host == pattern[:len(pattern)-2]
	case strings.Contains(pattern, "*"):
		parts := strings.SplitN(pattern, "*", 2)
		if len(host) < len(parts[0])+len(parts[1]) {
			return false
		}
		return strings.HasPrefix(host, parts[0]) && strings.HasSuffix(host, parts[1])
	default:
		return host == pattern
	}
}

func anyDomainMatches(host string, patterns []string) bool {
	for _, p := range patterns {
		if domainMatches(host, p) {
			return true
		}
	}
	return false
}

// admit runs one candidate through the ordered admission pipeline and
// enqueues it when every filter passes. sourceForeign marks candidates
// discovered on a foreign (allowed-for-crawling) page; under
// single-foreign-page mode such a page contributes only static files on
// foreign hosts, while its candidates on the initial host pass as usual.
func (c *Crawler) admit(f models.FoundURL, sourceUqID string, sourceForeign bool) {
	// Step 1: requestable resource check; anything unparsable or
	// non-http(s) can never be fetched.
	var base *urlx.ParsedURL
	if f.SourceURL != "" {
		if b, err := urlx.Parse(f.SourceURL, nil); err == nil {
			base = b
		}
	}
	parsed, err := urlx.Parse(f.URL, base)
	if err != nil {
		return
	}
	parsed = parsed.WithoutFragment()

	// Step 2: basename-loop guard.
	if c.overBasenameThreshold(parsed.BaseName()) {
		return
	}

	// Step 3: scope.
	initialHost, _ := c.initialIdentity()
	foreign := parsed.Host != initialHost
	if foreign {
		isAsset := parsed.IsStaticFile()
		allowedAsset := isAsset && anyDomainMatches(parsed.Host, c.cfg.ExternalFileDomains)
		allowedPage := anyDomainMatches(parsed.Host, c.cfg.CrawlDomains)
		if !allowedAsset && !allowedPage {
			c.recordSkip(parsed, models.SkipNotAllowedHost, sourceUqID, f.Tag)
			return
		}
		if sourceForeign && c.cfg.SingleForeignPage && !isAsset {
			c.recordSkip(parsed, models.SkipNotAllowedHost, sourceUqID, f.Tag)
			return
		}
	}

	// Depth limit.
	if c.cfg.MaxDepth > 0 && parsed.Depth() > c.cfg.MaxDepth {
		c.recordSkip(parsed, models.SkipExceedsMaxDepth, sourceUqID, f.Tag)
		return
	}

	// Step 4: robots, pages only; assets bypass inside the oracle too.
	if !parsed.IsStaticFile() && c.deps.Robots != nil && !c.deps.Robots.IsAllowed(parsed) {
		c.recordSkip(parsed, models.SkipRobotsTxt, sourceUqID, f.Tag)
		return
	}

	// Step 5: final absolute URL shaping.
	if c.cfg.RemoveQueryParams {
		parsed = parsed.WithoutQuery()
	}
	if c.cfg.AddRandomQueryParams {
		parsed = withRandomQueryParams(parsed)
	}
	if len(c.cfg.Transforms) > 0 {
		transformed := urlx.ApplyTransforms(parsed.String(), c.cfg.Transforms)
		if t, err := urlx.Parse(transformed, nil); err == nil {
			parsed = t
		}
	}

	// Step 6: include/ignore regex.
	if !c.passesRegexFilters(parsed) {
		return
	}

	// Step 7: queue suitability.
	canonical := parsed.String()
	if c.cfg.MaxURLLength > 0 && len(canonical) > c.cfg.MaxURLLength {
		c.notice(NoticeParseWarning, canonical, fmt.Errorf("%w (%d > %d)", models.ErrURLTooLong, len(canonical), c.cfg.MaxURLLength))
		return
	}
	if c.cfg.MaxVisitedURLs > 0 && c.tables.TotalLen() >= c.cfg.MaxVisitedURLs {
		return
	}
	if c.cfg.CrawlOnlyHTMLFiles && !parsed.IsHTMLLike() && !parsed.IsXML() {
		return
	}

	key := models.Key(canonical)
	entry := models.QueuedURL{URL: canonical, UqID: models.UqID(canonical), SourceUqID: sourceUqID, Tag: f.Tag}
	admitted, err := c.tables.Enqueue(key, entry)
	if err != nil {
		c.fail(err)
		return
	}
	if admitted {
		c.signalWork()
	}
}

// passesRegexFilters applies include and ignore patterns. Static files
// bypass entirely when filtering is scoped to pages.
func (c *Crawler) passesRegexFilters(p *urlx.ParsedURL) bool {
	if c.cfg.RegexFilteringOnlyForPages && p.IsStaticFile() {
		return true
	}
	target := p.String()
	if len(c.cfg.IncludeRegex) > 0 {
		matched := false
		for _, rx := range c.cfg.IncludeRegex {
			if rx.MatchString(target) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, rx := range c.cfg.IgnoreRegex {
		if rx.MatchString(target) {
			return false
		}
	}
	return true
}

func (c *Crawler) recordSkip(p *urlx.ParsedURL, reason models.SkipReason, sourceUqID string, tag models.SourceTag) {
	canonical := p.String()
	key := models.Key(canonical)
	err := c.tables.Skip(key, models.SkippedURL{
		URL:        canonical,
		Reason:     reason,
		UqID:       models.UqID(canonical),
		SourceUqID: sourceUqID,
		Tag:        tag,
	})
	if err != nil {
		c.fail(err)
	}
}

// overBasenameThreshold checks the non-200 basename counter and emits the
// one-time notice when a basename first crosses the threshold.
func (c *Crawler) overBasenameThreshold(baseName string) bool {
	if baseName == "" || c.cfg.MaxNon200PerBasename <= 0 {
		return false
	}
	c.basenameMu.Lock()
	defer c.basenameMu.Unlock()
	if c.non200Basenames[baseName] < c.cfg.MaxNon200PerBasename {
		return false
	}
	if !c.basenameNotified[baseName] {
		c.basenameNotified[baseName] = true
		c.notice(NoticeBasenameGuard, baseName,
			fmt.Errorf("basename %q exceeded %d non-200 responses; further URLs dropped", baseName, c.cfg.MaxNon200PerBasename))
	}
	return true
}

// countNon200 records a non-200 response for loop detection. Directory
// index basenames are deliberately not tracked.
func (c *Crawler) countNon200(p *urlx.ParsedURL, status int) {
	if status == 200 {
		return
	}
	baseName := p.BaseName()
	switch baseName {
	case "", "index", "index.html", "index.htm":
		return
	}
	c.basenameMu.Lock()
	c.non200Basenames[baseName]++
	c.basenameMu.Unlock()
}

var randomParamNames = []string{"crawlbust", "nocache", "rnd"}

func withRandomQueryParams(p *urlx.ParsedURL) *urlx.ParsedURL {
	var b strings.Builder
	if p.Query != "" {
		b.WriteString(p.Query)
	}
	for _, name := range randomParamNames {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%d", name, rand.Intn(1_000_000))
	}
	return p.WithQuery(b.String())
}
