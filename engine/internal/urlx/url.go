// Package urlx implements the parsed URL value used across the crawl
// engine: scheme/host/port decomposition, relative resolution, canonical
// full-URL rendering, and the path heuristics (basename, depth, static
// file detection) the admission pipeline depends on.
package urlx

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// htmlExtensions are path extensions that still denote an HTML page.
var htmlExtensions = map[string]struct{}{
	"htm": {}, "html": {}, "shtml": {}, "php": {}, "phtml": {}, "ashx": {},
	"xhtml": {}, "asp": {}, "aspx": {}, "jsp": {}, "jspx": {}, "do": {},
	"cfm": {}, "cgi": {}, "pl": {}, "rb": {}, "erb": {}, "gsp": {},
}

var imageExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "avif": {},
	"svg": {}, "ico": {}, "bmp": {}, "tif": {}, "tiff": {},
}

var fontExtensions = map[string]struct{}{
	"woff": {}, "woff2": {}, "ttf": {}, "otf": {}, "eot": {},
}

// ParsedURL is a decomposed URL. Logically immutable: helpers that change
// anything return a copy.
type ParsedURL struct {
	Scheme         string
	Host           string
	Port           int
	Path           string
	Query          string
	Fragment       string
	Extension      string
	Domain2ndLevel string
	Raw            string
}

// Parse decomposes raw, resolving it against base when provided. Relative
// forms (./x, bare x/y, /x, //host/x) follow RFC 3986 reference
// resolution; absolute URLs stand alone.
func Parse(raw string, base *ParsedURL) (*ParsedURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty URL")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	if base != nil {
		baseURL, err := url.Parse(base.String())
		if err != nil {
			return nil, fmt.Errorf("parse base %q: %w", base.Raw, err)
		}
		ref = baseURL.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %q", ref.Scheme, raw)
	}
	if ref.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}

	p := &ParsedURL{
		Scheme:   strings.ToLower(ref.Scheme),
		Host:     strings.ToLower(ref.Hostname()),
		Path:     ref.EscapedPath(),
		Query:    ref.RawQuery,
		Fragment: ref.Fragment,
		Raw:      raw,
	}
	if p.Path == "" {
		p.Path = "/"
	}
	if portStr := ref.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port in %q", raw)
		}
		p.Port = port
	} else {
		p.Port = defaultPort(p.Scheme)
	}
	p.Extension = extensionOf(p.Path)
	p.Domain2ndLevel = secondLevelDomain(p.Host)
	return p, nil
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

func extensionOf(path string) string {
	last := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		last = path[i+1:]
	}
	dot := strings.LastIndexByte(last, '.')
	if dot <= 0 || dot == len(last)-1 {
		return ""
	}
	return strings.ToLower(last[dot+1:])
}

// secondLevelDomain returns the rightmost label.tld slice of a host, or
// the host itself for single-label and IP-like hosts.
func secondLevelDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) < 2 || net.ParseIP(host) != nil {
		return host
	}
	return labels[len(labels)-2] + "." + labels[len(labels)-1]
}

// IsDefaultPort reports whether the port is the scheme default (80/443).
func (p *ParsedURL) IsDefaultPort() bool { return p.Port == defaultPort(p.Scheme) }

// String renders the canonical full URL: scheme + host + port when
// non-default + path + query. The fragment is always excluded; this string
// is the table equality key.
func (p *ParsedURL) String() string { return p.FullURL(true, false) }

// FullURL renders the URL with optional scheme+host prefix and fragment.
func (p *ParsedURL) FullURL(includeSchemeHost, includeFragment bool) string {
	var b strings.Builder
	if includeSchemeHost {
		b.WriteString(p.Scheme)
		b.WriteString("://")
		b.WriteString(p.Host)
		if !p.IsDefaultPort() {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(p.Port))
		}
	}
	b.WriteString(p.Path)
	if p.Query != "" {
		b.WriteByte('?')
		b.WriteString(p.Query)
	}
	if includeFragment && p.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(p.Fragment)
	}
	return b.String()
}

// WithoutFragment returns a copy with the fragment dropped.
func (p *ParsedURL) WithoutFragment() *ParsedURL {
	cp := *p
	cp.Fragment = ""
	return &cp
}

// WithoutQuery returns a copy with the query dropped.
func (p *ParsedURL) WithoutQuery() *ParsedURL {
	cp := *p
	cp.Query = ""
	return &cp
}

// WithQuery returns a copy carrying the given raw query.
func (p *ParsedURL) WithQuery(rawQuery string) *ParsedURL {
	cp := *p
	cp.Query = rawQuery
	return &cp
}

// IsImage reports whether the path extension denotes an image.
func (p *ParsedURL) IsImage() bool {
	_, ok := imageExtensions[p.Extension]
	return ok
}

// IsFont reports whether the path extension denotes a web font.
func (p *ParsedURL) IsFont() bool {
	_, ok := fontExtensions[p.Extension]
	return ok
}

// IsCSS reports whether the path denotes a stylesheet.
func (p *ParsedURL) IsCSS() bool { return p.Extension == "css" }

// IsXML reports whether the path denotes an XML document (sitemaps).
func (p *ParsedURL) IsXML() bool { return p.Extension == "xml" }

// IsHTMLLike reports whether the URL plausibly serves an HTML page: no
// extension, or an extension from the HTML set.
func (p *ParsedURL) IsHTMLLike() bool {
	if p.Extension == "" {
		return true
	}
	_, ok := htmlExtensions[p.Extension]
	return ok
}

// IsStaticFile reports whether the URL points at a static asset: a
// non-numeric extension outside the HTML set, or an image/CSS heuristic
// match.
func (p *ParsedURL) IsStaticFile() bool {
	if p.IsImage() || p.IsCSS() {
		return true
	}
	if p.Extension == "" {
		return false
	}
	if _, html := htmlExtensions[p.Extension]; html {
		return false
	}
	if _, err := strconv.Atoi(p.Extension); err == nil {
		return false
	}
	return true
}

// BaseName returns the last non-empty path segment (trailing slash
// ignored), with "?query" appended when the query itself contains a slash
// or an encoded one (dynamic image endpoints). Empty for the root path.
func (p *ParsedURL) BaseName() string {
	trimmed := strings.TrimRight(p.Path, "/")
	if trimmed == "" {
		return ""
	}
	base := trimmed
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		base = trimmed[i+1:]
	}
	if p.Query != "" && (strings.Contains(p.Query, "/") || strings.Contains(strings.ToUpper(p.Query), "%2F")) {
		base += "?" + p.Query
	}
	return base
}

// Depth returns the slash count of the path with the trailing slash
// removed, minus the number of ".." segments, clamped at zero.
func (p *ParsedURL) Depth() int {
	trimmed := strings.TrimRight(p.Path, "/")
	depth := strings.Count(trimmed, "/")
	for _, seg := range strings.Split(strings.Trim(p.Path, "/"), "/") {
		if seg == ".." {
			depth--
		}
	}
	if depth < 0 {
		return 0
	}
	return depth
}

// ChangeDepth returns a copy whose directory depth is shifted by delta.
// Negative delta removes the deepest directory levels above the basename;
// non-negative delta leaves the path untouched.
func (p *ParsedURL) ChangeDepth(delta int) *ParsedURL {
	cp := *p
	if delta >= 0 {
		return &cp
	}
	trimmed := strings.TrimPrefix(p.Path, "/")
	trailingSlash := strings.HasSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	segs := strings.Split(trimmed, "/")
	if len(segs) < 2 {
		return &cp
	}
	base := segs[len(segs)-1]
	dirs := segs[:len(segs)-1]
	drop := -delta
	if drop > len(dirs) {
		drop = len(dirs)
	}
	dirs = dirs[:len(dirs)-drop]
	parts := append(append([]string{}, dirs...), base)
	cp.Path = "/" + strings.Join(parts, "/")
	if trailingSlash {
		cp.Path += "/"
	}
	cp.Extension = extensionOf(cp.Path)
	return &cp
}
