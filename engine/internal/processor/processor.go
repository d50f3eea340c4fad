// Package processor contains the pluggable content processors that turn
// fetched bodies into candidate URLs: HTML, CSS, JS manifests and XML
// sitemaps. The engine holds an ordered registry and merges the output of
// every processor that accepts a body's content type.
package processor

import (
	"arachne/engine/internal/found"
	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// Processor extracts candidate URLs from one body.
type Processor interface {
	Name() string
	Accepts(ct models.ContentType) bool
	FindURLs(body []byte, src *urlx.ParsedURL) (*found.Set, error)
}

// Rewriter mutates a body before URL extraction. Used for framework
// fixups during offline export; the default registry carries none.
type Rewriter interface {
	Rewrite(body []byte, src *urlx.ParsedURL) []byte
}

// Registry is an ordered list of processors.
type Registry struct {
	processors []Processor
	rewriters  []Rewriter
}

// NewRegistry returns a registry with the default processor set.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		processors: []Processor{
			NewHTMLProcessor(opts),
			NewCSSProcessor(opts),
			NewJSProcessor(),
			NewXMLProcessor(),
		},
	}
}

// Options gates asset-type extraction.
type Options struct {
	Images  bool
	Fonts   bool
	Styles  bool
	Scripts bool
}

// DefaultOptions enables every asset type.
func DefaultOptions() Options {
	return Options{Images: true, Fonts: true, Styles: true, Scripts: true}
}

// AddRewriter appends a pre-parse body rewriter.
func (r *Registry) AddRewriter(rw Rewriter) {
	if rw != nil {
		r.rewriters = append(r.rewriters, rw)
	}
}

// Rewrite runs every registered rewriter in order.
func (r *Registry) Rewrite(body []byte, src *urlx.ParsedURL) []byte {
	for _, rw := range r.rewriters {
		body = rw.Rewrite(body, src)
	}
	return body
}

// FindURLs merges the output of every processor accepting ct. A failing
// processor contributes nothing; the first error is returned alongside
// whatever the others produced so the caller can record a parse warning.
func (r *Registry) FindURLs(body []byte, ct models.ContentType, src *urlx.ParsedURL) (*found.Set, error) {
	set := found.NewSet()
	var firstErr error
	for _, p := range r.processors {
		if !p.Accepts(ct) {
			continue
		}
		urls, err := p.FindURLs(body, src)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		set.AddAll(urls)
	}
	return set, firstErr
}
