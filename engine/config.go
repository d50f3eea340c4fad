package engine

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// Version is the crawler release; it rides in the User-Agent signature.
const Version = "1.2.0"

// Signature is the crawler's own name, matched against robots.txt
// User-agent blocks and appended to the outgoing User-Agent.
const Signature = "arachne"

// Device selects a default User-Agent when none is given.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

var deviceUserAgents = map[string]string{
	DeviceDesktop: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	DeviceMobile:  "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	DeviceTablet:  "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
}

// Config is the public configuration surface of the engine facade. YAML
// tags allow an overlay file to mirror the CLI options.
type Config struct {
	URL string `yaml:"url"`

	Workers       int     `yaml:"workers"`
	MaxReqsPerSec float64 `yaml:"max_reqs_per_sec"`
	// Timeout is parsed from the YAML overlay's "timeout" key in
	// time.ParseDuration syntax.
	Timeout time.Duration `yaml:"-"`

	MaxQueueLength                int `yaml:"max_queue_length"`
	MaxVisitedURLs                int `yaml:"max_visited_urls"`
	MaxSkippedURLs                int `yaml:"max_skipped_urls"`
	MaxURLLength                  int `yaml:"max_url_length"`
	MaxNon200ResponsesPerBasename int `yaml:"max_non200_responses_per_basename"`
	MaxDepth                      int `yaml:"max_depth"`

	AllowedDomainsForExternalFiles []string `yaml:"allowed_domains_for_external_files"`
	AllowedDomainsForCrawling      []string `yaml:"allowed_domains_for_crawling"`
	SingleForeignPage              bool     `yaml:"single_foreign_page"`

	IncludeRegex               []string `yaml:"include_regex"`
	IgnoreRegex                []string `yaml:"ignore_regex"`
	RegexFilteringOnlyForPages bool     `yaml:"regex_filtering_only_for_pages"`

	IgnoreRobotsTxt      bool     `yaml:"ignore_robots_txt"`
	RemoveQueryParams    bool     `yaml:"remove_query_params"`
	AddRandomQueryParams bool     `yaml:"add_random_query_params"`
	CrawlOnlyHTMLFiles   bool     `yaml:"crawl_only_html_files"`
	TransformURL         []string `yaml:"transform_url"`

	UserAgent      string   `yaml:"user_agent"`
	Device         string   `yaml:"device"`
	Accept         string   `yaml:"accept"`
	AcceptEncoding string   `yaml:"accept_encoding"`
	Proxy          string   `yaml:"proxy"`
	HTTPAuth       string   `yaml:"http_auth"`
	Resolve        []string `yaml:"resolve"`

	HTTPCacheDir         string `yaml:"http_cache_dir"`
	HTTPCacheCompression bool   `yaml:"http_cache_compression"`

	ResultStorage     string `yaml:"result_storage"`
	ResultStorageDir  string `yaml:"result_storage_dir"`
	MarkdownExportDir string `yaml:"markdown_export_dir"`
	MemoryLimit       string `yaml:"memory_limit"`

	MetricsEnabled       bool    `yaml:"metrics_enabled"`
	MetricsBackend       string  `yaml:"metrics_backend"`
	TracingSamplePercent float64 `yaml:"tracing_sample_percent"`
}

// Defaults returns a Config with reasonable defaults; only URL is
// mandatory on top of it.
func Defaults() Config {
	return Config{
		Workers:                       3,
		MaxReqsPerSec:                 10,
		Timeout:                       10 * time.Second,
		MaxQueueLength:                9000,
		MaxVisitedURLs:                10000,
		MaxSkippedURLs:                10000,
		MaxURLLength:                  2083,
		MaxNon200ResponsesPerBasename: 5,
		Device:                        DeviceDesktop,
		AcceptEncoding:                "gzip, deflate",
		HTTPCacheDir:                  "off",
		ResultStorage:                 "memory",
		MetricsBackend:                "prom",
	}
}

// LoadFile overlays YAML settings from path onto c.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	var aux struct {
		Timeout string `yaml:"timeout"`
	}
	if err := yaml.Unmarshal(raw, &aux); err == nil && aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("config file %s: timeout: %w", path, err)
		}
		c.Timeout = d
	}
	return nil
}

// Validate checks option values; failures are ConfigErrors that prevent
// the crawl from starting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return models.ErrMissingStartURL
	}
	if _, err := urlx.Parse(c.URL, nil); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidStartURL, err)
	}
	if c.Workers < 1 {
		return models.ErrInvalidWorkerCount
	}
	for _, pattern := range append(append([]string{}, c.IncludeRegex...), c.IgnoreRegex...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: %q: %v", models.ErrInvalidRegex, pattern, err)
		}
	}
	for _, rule := range c.TransformURL {
		if _, err := urlx.ParseTransform(rule); err != nil {
			return err
		}
	}
	for _, entry := range c.Resolve {
		if _, _, err := parseResolve(entry); err != nil {
			return err
		}
	}
	if c.HTTPAuth != "" && !strings.Contains(c.HTTPAuth, ":") {
		return fmt.Errorf("http auth: expected user:pass")
	}
	switch c.Device {
	case "", DeviceDesktop, DeviceMobile, DeviceTablet:
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}
	switch c.ResultStorage {
	case "", "memory", "disk":
	default:
		return fmt.Errorf("unknown result storage %q", c.ResultStorage)
	}
	if c.MemoryLimit != "" {
		if _, err := ParseMemoryLimit(c.MemoryLimit); err != nil {
			return err
		}
	}
	return nil
}

// FinalUserAgent assembles the outgoing User-Agent: the explicit value
// or the device default, with the crawler signature appended unless the
// value ends with the `!` suppression sentinel (which is trimmed).
func (c *Config) FinalUserAgent() string {
	ua := c.UserAgent
	if ua == "" {
		device := c.Device
		if device == "" {
			device = DeviceDesktop
		}
		ua = deviceUserAgents[device]
	}
	if strings.HasSuffix(ua, "!") {
		return strings.TrimSuffix(ua, "!")
	}
	return ua + " " + Signature + "/" + Version
}

// ParseMemoryLimit parses sizes like 512M or 2G into bytes.
func ParseMemoryLimit(v string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(v))
	if s == "" {
		return 0, fmt.Errorf("empty memory limit")
	}
	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case 'G':
		multiplier = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid memory limit %q", v)
	}
	return n * multiplier, nil
}

// parseResolve parses a host:port:ip mapping.
func parseResolve(entry string) (hostPort, ip string, err error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("resolve %q: expected host:port:ip", entry)
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return "", "", fmt.Errorf("resolve %q: bad port", entry)
	}
	return parts[0] + ":" + parts[1], parts[2], nil
}

func (c *Config) forcedIPs() (map[string]string, error) {
	if len(c.Resolve) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(c.Resolve))
	for _, entry := range c.Resolve {
		hostPort, ip, err := parseResolve(entry)
		if err != nil {
			return nil, err
		}
		out[hostPort] = ip
	}
	return out, nil
}

func (c *Config) compileRegex(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		rx, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", models.ErrInvalidRegex, p, err)
		}
		out = append(out, rx)
	}
	return out, nil
}

func (c *Config) transforms() ([]urlx.TransformRule, error) {
	out := make([]urlx.TransformRule, 0, len(c.TransformURL))
	for _, spec := range c.TransformURL {
		rule, err := urlx.ParseTransform(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func (c *Config) basicAuth() (user, pass string) {
	if c.HTTPAuth == "" {
		return "", ""
	}
	parts := strings.SplitN(c.HTTPAuth, ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
