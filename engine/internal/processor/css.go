package processor

import (
	"regexp"
	"strings"

	"arachne/engine/internal/found"
	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// cssURLPattern matches url(...) values in stylesheet text.
var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

type CSSProcessor struct {
	opts Options
}

func NewCSSProcessor(opts Options) *CSSProcessor { return &CSSProcessor{opts: opts} }

func (p *CSSProcessor) Name() string { return "css" }

func (p *CSSProcessor) Accepts(ct models.ContentType) bool { return ct == models.ContentTypeStylesheet }

func (p *CSSProcessor) FindURLs(body []byte, src *urlx.ParsedURL) (*found.Set, error) {
	set := found.NewSet()
	source := src.String()
	for _, u := range cssURLs(string(body)) {
		lower := strings.ToLower(u)
		switch {
		case hasAnySuffix(lower, ".woff", ".woff2", ".ttf", ".otf", ".eot"):
			if !p.opts.Fonts {
				continue
			}
		case hasAnySuffix(lower, ".css"):
			if !p.opts.Styles {
				continue
			}
		default:
			if !p.opts.Images {
				continue
			}
		}
		set.Add(u, source, models.TagCSSUrl)
	}
	return set, nil
}

func cssURLs(text string) []string {
	var out []string
	for _, m := range cssURLPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
