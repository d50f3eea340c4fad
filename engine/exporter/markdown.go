// Package exporter holds post-crawl exporters that consume the visit
// ledger once the crawl has terminated.
package exporter

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"arachne/engine/models"
)

// Source is the slice of the ledger an exporter needs.
type Source interface {
	ForEach(fn func(models.VisitedURL) bool)
	Body(uqID string) ([]byte, http.Header, bool, error)
}

// MarkdownExporter converts stored HTML bodies to markdown files under
// an output directory. Per-page failures are collected, not fatal.
type MarkdownExporter struct {
	Dir string
}

// Result summarizes one export run.
type Result struct {
	Exported int
	Failures []error
}

// Export writes one .md file per visited HTML page with a stored body.
func (e *MarkdownExporter) Export(src Source) (Result, error) {
	if e.Dir == "" {
		return Result{}, fmt.Errorf("markdown export directory not set")
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return Result{}, err
	}
	conv := converter.NewConverter(converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	))

	var res Result
	src.ForEach(func(v models.VisitedURL) bool {
		if v.ContentType != models.ContentTypeHTML || v.Status != http.StatusOK {
			return true
		}
		body, _, ok, err := src.Body(v.UqID)
		if err != nil || !ok {
			return true
		}
		markdown, err := conv.ConvertString(string(body))
		if err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("convert %s: %w", v.URL, err))
			return true
		}
		name := fileNameFor(v.URL, v.UqID)
		if err := os.WriteFile(filepath.Join(e.Dir, name), []byte(markdown), 0o644); err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("write %s: %w", name, err))
			return true
		}
		res.Exported++
		return true
	})
	return res, nil
}

// fileNameFor flattens a URL path into a safe markdown file name.
func fileNameFor(rawURL, uqID string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return uqID + ".md"
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		p = "index"
	}
	p = strings.ReplaceAll(p, "/", "__")
	var b strings.Builder
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String() + "-" + uqID + ".md"
}
