// Package httpx is the crawl engine's HTTP client: single-attempt GETs
// with strict timeouts, forced IP resolution, proxy and basic-auth
// support, and a fingerprint-keyed response cache. Transport failures are
// never surfaced as errors; they synthesize responses with negative
// status codes so the ledger can record them like any other visit.
package httpx

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/proxy"

	"arachne/engine/models"
)

// Request identifies one fetch. The caller decides whether basic auth and
// the Origin header apply (same-2nd-level-domain rule, CORS-sensitive
// assets).
type Request struct {
	Host         string
	Port         int
	Scheme       string
	Path         string
	Method       string
	Origin       string
	UseBasicAuth bool
}

// Response is the uniform fetch outcome.
type Response struct {
	URL       string
	Status    int
	Body      []byte
	Headers   http.Header
	Elapsed   time.Duration
	FromCache bool
	Skipped   bool
}

// ClientConfig carries the transport knobs shared by every request.
type ClientConfig struct {
	Timeout        time.Duration
	UserAgent      string
	Accept         string
	AcceptEncoding string
	BasicAuthUser  string
	BasicAuthPass  string
	// Proxy is host:port (CONNECT) or socks5://host:port.
	Proxy string
	// ForcedIPs maps "host:port" to the IP to dial instead of resolving.
	// Host header and TLS SNI keep the original host.
	ForcedIPs map[string]string
	// MaxBodySize caps read bodies; <=0 means no cap.
	MaxBodySize int64
	Cache       *Cache
}

type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient builds a client whose connect timeout is Timeout+1s and whose
// overall deadline is Timeout+2s.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: cfg.Timeout + time.Second}
	dialCtx := forcedIPDialContext(dialer, cfg.ForcedIPs)

	transport := &http.Transport{
		DialContext:           dialCtx,
		ResponseHeaderTimeout: cfg.Timeout,
		TLSClientConfig:       &tls.Config{},
		MaxIdleConnsPerHost:   8,
	}
	if cfg.Proxy != "" {
		if err := applyProxy(transport, cfg.Proxy); err != nil {
			return nil, err
		}
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout + 2*time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects are crawl candidates, never followed here.
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func forcedIPDialContext(dialer *net.Dialer, forced map[string]string) func(context.Context, string, string) (net.Conn, error) {
	if len(forced) == 0 {
		return dialer.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if host, port, err := net.SplitHostPort(addr); err == nil {
			if ip, ok := forced[net.JoinHostPort(host, port)]; ok {
				addr = net.JoinHostPort(ip, port)
			}
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

func applyProxy(transport *http.Transport, rawProxy string) error {
	if strings.HasPrefix(rawProxy, "socks5://") {
		socksDialer, err := proxy.SOCKS5("tcp", strings.TrimPrefix(rawProxy, "socks5://"), nil, nil)
		if err != nil {
			return fmt.Errorf("socks5 proxy: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := socksDialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return socksDialer.Dial(network, addr)
		}
		return nil
	}
	if strings.Contains(rawProxy, "://") && !strings.HasPrefix(rawProxy, "http://") && !strings.HasPrefix(rawProxy, "https://") {
		return fmt.Errorf("%w: %s", models.ErrUnsupportedTransport, rawProxy)
	}
	proxyURL := rawProxy
	if !strings.Contains(proxyURL, "://") {
		proxyURL = "http://" + proxyURL
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("proxy address: %w", err)
	}
	transport.Proxy = http.ProxyURL(parsed)
	return nil
}

// URLFor renders the request target. Spaces in the path are re-encoded.
func (r Request) URLFor() string {
	path := strings.ReplaceAll(r.Path, " ", "%20")
	hostPort := r.Host
	if !(r.Scheme == "http" && r.Port == 80) && !(r.Scheme == "https" && r.Port == 443) && r.Port != 0 {
		hostPort = net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	}
	return r.Scheme + "://" + hostPort + path
}

// SkippedResponse synthesizes a response for a URL dropped by the
// basename-loop guard: no network I/O happened, no budget consumed.
func SkippedResponse(targetURL string) *Response {
	return &Response{URL: targetURL, Status: models.StatusSendError, Skipped: true, Headers: http.Header{}}
}

// Do performs one GET (or the requested method) with a single attempt.
// It always returns a response; transport failures yield the negative
// status codes of models.
func (c *Client) Do(ctx context.Context, r Request) *Response {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	targetURL := r.URLFor()

	if c.cfg.Cache != nil {
		if cached, ok := c.cfg.Cache.Get(c.fingerprint(r)); ok {
			cached.URL = targetURL
			cached.FromCache = true
			return cached
		}
	}

	start := time.Now()
	resp := c.issue(ctx, r, targetURL)
	resp.Elapsed = time.Since(start)

	if c.cfg.Cache != nil && !resp.Skipped {
		c.cfg.Cache.Put(c.fingerprint(r), resp)
	}
	return resp
}

func (c *Client) issue(ctx context.Context, r Request, targetURL string) *Response {
	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, nil)
	if err != nil {
		return &Response{URL: targetURL, Status: models.StatusSendError, Headers: http.Header{}}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.Accept != "" {
		req.Header.Set("Accept", c.cfg.Accept)
	}
	if c.cfg.AcceptEncoding != "" {
		req.Header.Set("Accept-Encoding", c.cfg.AcceptEncoding)
	}
	if r.Origin != "" {
		req.Header.Set("Origin", r.Origin)
	}
	if r.UseBasicAuth && c.cfg.BasicAuthUser != "" {
		req.SetBasicAuth(c.cfg.BasicAuthUser, c.cfg.BasicAuthPass)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return &Response{URL: targetURL, Status: classifyTransportError(err), Headers: http.Header{}}
	}
	defer func() { _ = httpResp.Body.Close() }()

	var reader io.Reader = httpResp.Body
	if c.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(httpResp.Body, c.cfg.MaxBodySize)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return &Response{URL: targetURL, Status: classifyTransportError(err), Headers: httpResp.Header, Body: body}
	}
	// A manually-set Accept-Encoding disables the transport's transparent
	// decompression, so unwrap the common encodings here.
	body = decodeBody(body, httpResp.Header.Get("Content-Encoding"))
	return &Response{URL: targetURL, Status: httpResp.StatusCode, Body: body, Headers: httpResp.Header}
}

func decodeBody(body []byte, encoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body
		}
		defer func() { _ = gz.Close() }()
		if decoded, err := io.ReadAll(gz); err == nil {
			return decoded
		}
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer func() { _ = fr.Close() }()
		if decoded, err := io.ReadAll(fr); err == nil {
			return decoded
		}
	}
	return body
}

// classifyTransportError maps transport failures onto the synthetic
// status codes: -1 connect, -2 timeout, -3 reset, -4 send.
func classifyTransportError(err error) int {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.StatusTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return models.StatusTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return models.StatusServerReset
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return models.StatusConnectionFail
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return models.StatusConnectionFail
	}
	return models.StatusSendError
}

func (c *Client) fingerprint(r Request) string {
	parts := []string{
		r.Host, strconv.Itoa(r.Port), r.Scheme, r.Path, r.Method,
		c.cfg.UserAgent, c.cfg.Accept, c.cfg.AcceptEncoding, r.Origin,
	}
	return models.Key(strings.Join(parts, "\n"))
}
