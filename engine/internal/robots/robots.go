// Package robots answers "may this path be fetched" from per-(host, port)
// memoized robots.txt disallow lists. Only Disallow lines in blocks for
// `*` and the crawler's own signature are honored; Allow, Crawl-delay and
// sitemap directives are ignored.
package robots

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"arachne/engine/internal/urlx"
)

const fetchTimeout = 3 * time.Second

// assetPattern short-circuits asset URLs to allowed without consulting
// the oracle at all.
var assetPattern = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|avif|svg|ico|bmp|tiff?|css|m?js|woff2?|ttf|otf|eot|mp[34]|webm|ogg|wav|avi|mov|pdf|zip|gz|rar|7z)$`)

// rules is one host:port parse result. A nil *rules in the cache is the
// sentinel: fetch pending or failed, treat as allow-all.
type rules struct {
	disallows []string
}

// FetchNotice reports a robots.txt that could not be retrieved; the host
// is treated as allow-all.
type FetchNotice struct {
	Host string
	Port int
	Err  error
}

// Oracle memoizes robots.txt per (host, port).
type Oracle struct {
	signature string
	userAgent string
	ignore    bool
	client    *http.Client
	notify    func(FetchNotice)

	mu    sync.Mutex
	cache map[string]*rules
}

// New builds an oracle. signature is the crawler's own name matched
// against User-agent blocks; userAgent is sent on the robots.txt fetch.
// notify may be nil.
func New(signature, userAgent string, ignore bool, notify func(FetchNotice)) *Oracle {
	return &Oracle{
		signature: strings.ToLower(signature),
		userAgent: userAgent,
		ignore:    ignore,
		client:    &http.Client{Timeout: fetchTimeout},
		notify:    notify,
		cache:     make(map[string]*rules),
	}
}

// IsAllowed reports whether the URL's path may be fetched. Asset URLs
// bypass the check; so does everything when robots handling is off.
func (o *Oracle) IsAllowed(u *urlx.ParsedURL) bool {
	if o.ignore {
		return true
	}
	if assetPattern.MatchString(u.Path) {
		return true
	}
	r := o.rulesFor(u.Host, u.Port, !u.IsDefaultPort())
	if r == nil {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, prefix := range r.disallows {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// rulesFor returns cached rules, fetching on first query. The cache is
// seeded with a nil sentinel before the fetch so concurrent queries for
// the same host do not stampede /robots.txt; they see allow-all until
// the parse lands.
func (o *Oracle) rulesFor(host string, port int, explicitPort bool) *rules {
	key := fmt.Sprintf("%s:%d", host, port)
	o.mu.Lock()
	if cached, ok := o.cache[key]; ok {
		o.mu.Unlock()
		return cached
	}
	o.cache[key] = nil
	o.mu.Unlock()

	r := o.fetch(host, port, explicitPort)
	o.mu.Lock()
	o.cache[key] = r
	o.mu.Unlock()
	return r
}

func (o *Oracle) fetch(host string, port int, explicitPort bool) *rules {
	var candidates []string
	if explicitPort {
		scheme := "http"
		if port == 443 {
			scheme = "https"
		}
		candidates = []string{fmt.Sprintf("%s://%s:%d/robots.txt", scheme, host, port)}
	} else {
		candidates = []string{
			"https://" + host + "/robots.txt",
			"http://" + host + "/robots.txt",
		}
	}
	var lastErr error
	for _, robotsURL := range candidates {
		body, err := o.get(robotsURL)
		if err != nil {
			lastErr = err
			continue
		}
		return parse(body, o.signature)
	}
	if o.notify != nil {
		o.notify(FetchNotice{Host: host, Port: port, Err: lastErr})
	}
	return nil
}

func (o *Oracle) get(robotsURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", o.userAgent)
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots.txt status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 512*1024))
}

// parse collects Disallow paths from blocks whose User-agent is `*` or
// matches the crawler signature. Everything else is ignored.
func parse(body []byte, signature string) *rules {
	r := &rules{}
	active := false
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			agent := strings.TrimSpace(lower[len("user-agent:"):])
			active = agent == "*" || (signature != "" && strings.Contains(agent, signature))
		case active && strings.HasPrefix(lower, "disallow:"):
			path := strings.TrimSpace(line[len("disallow:"):])
			if path != "" {
				r.disallows = append(r.disallows, strings.ToLower(path))
			}
		}
	}
	return r
}
