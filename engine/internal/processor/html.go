package processor

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"arachne/engine/internal/found"
	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// inlineScriptSrcPattern matches `.src = "…"` assignments inside inline
// script bodies (lazy loaders assigning script URLs at runtime).
var inlineScriptSrcPattern = regexp.MustCompile(`\.src\s*=\s*["']([^"']+?\.js[^"']*)["']`)

// frameworkPseudoTags are component tags that never map to DOM elements;
// they are stripped before extraction so their attribute soup does not
// produce false candidates.
var frameworkPseudoTags = regexp.MustCompile(`</?(?:ng-[a-z0-9-]+|v-[a-z0-9-]+|x-[a-z0-9-]+:[a-z0-9-]+)[^>]*>`)

// linkRelAccepted lists rel values of <link> whose href is fetchable.
var linkRelAccepted = map[string]struct{}{
	"stylesheet": {}, "icon": {}, "shortcut icon": {}, "apple-touch-icon": {},
	"manifest": {}, "preload": {}, "prefetch": {}, "modulepreload": {},
	"mask-icon": {}, "alternate icon": {},
}

// PageInfo carries the per-page SEO facts the worker loop reports.
type PageInfo struct {
	Title       string
	Description string
	Keywords    string
	DOMElements int
}

type HTMLProcessor struct {
	opts Options
}

func NewHTMLProcessor(opts Options) *HTMLProcessor { return &HTMLProcessor{opts: opts} }

func (p *HTMLProcessor) Name() string { return "html" }

func (p *HTMLProcessor) Accepts(ct models.ContentType) bool { return ct == models.ContentTypeHTML }

func (p *HTMLProcessor) FindURLs(body []byte, src *urlx.ParsedURL) (*found.Set, error) {
	body = frameworkPseudoTags.ReplaceAll(body, nil)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	set := found.NewSet()
	source := src.String()

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if strings.HasPrefix(strings.TrimSpace(href), "#") {
			return
		}
		set.Add(href, source, models.TagAHref)
	})

	if p.opts.Images {
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			set.Add(s.AttrOr("src", ""), source, models.TagImgSrc)
		})
		doc.Find("img[srcset], img[imagesrcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
			srcset := s.AttrOr("srcset", s.AttrOr("imagesrcset", ""))
			for _, candidate := range splitSrcSet(srcset) {
				set.Add(candidate, source, models.TagImgSrcSet)
			}
		})
		doc.Find("input[src]").Each(func(_ int, s *goquery.Selection) {
			set.Add(s.AttrOr("src", ""), source, models.TagInputSrc)
		})
	}

	doc.Find("source[src]").Each(func(_ int, s *goquery.Selection) {
		set.Add(s.AttrOr("src", ""), source, models.TagSourceSrc)
	})
	doc.Find("video[src]").Each(func(_ int, s *goquery.Selection) {
		set.Add(s.AttrOr("src", ""), source, models.TagVideoSrc)
	})
	doc.Find("audio[src]").Each(func(_ int, s *goquery.Selection) {
		set.Add(s.AttrOr("src", ""), source, models.TagAudioSrc)
	})

	if p.opts.Scripts {
		doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
			set.Add(s.AttrOr("src", ""), source, models.TagScriptSrc)
		})
		doc.Find("script:not([src])").Each(func(_ int, s *goquery.Selection) {
			for _, m := range inlineScriptSrcPattern.FindAllStringSubmatch(s.Text(), -1) {
				set.Add(m[1], source, models.TagInlineScriptSrc)
			}
		})
	}

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(strings.TrimSpace(s.AttrOr("rel", "")))
		if _, ok := linkRelAccepted[rel]; !ok {
			return
		}
		if !p.opts.Styles && rel == "stylesheet" {
			return
		}
		set.Add(s.AttrOr("href", ""), source, models.TagLinkHref)
	})

	// url(...) occurrences inside inline style attributes and <style> blocks.
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		for _, u := range cssURLs(s.AttrOr("style", "")) {
			if p.allowsAsset(u) {
				set.Add(u, source, models.TagCSSUrl)
			}
		}
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		for _, u := range cssURLs(s.Text()) {
			if p.allowsAsset(u) {
				set.Add(u, source, models.TagCSSUrl)
			}
		}
	})

	return set, nil
}

// ExtractPageInfo pulls title, meta description/keywords and the DOM
// element count from an HTML body.
func (p *HTMLProcessor) ExtractPageInfo(body []byte) (PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageInfo{}, err
	}
	info := PageInfo{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", "")),
		Keywords:    strings.TrimSpace(doc.Find("meta[name='keywords']").AttrOr("content", "")),
		DOMElements: doc.Find("*").Length(),
	}
	return info, nil
}

func (p *HTMLProcessor) allowsAsset(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	switch {
	case hasAnySuffix(lower, ".woff", ".woff2", ".ttf", ".otf", ".eot"):
		return p.opts.Fonts
	case hasAnySuffix(lower, ".css"):
		return p.opts.Styles
	default:
		return p.opts.Images
	}
}

// splitSrcSet breaks a comma-delimited srcset candidate list into its URL
// tokens, dropping the density/width descriptors.
func splitSrcSet(srcset string) []string {
	var out []string
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func hasAnySuffix(s string, suffixes ...string) bool {
	base := s
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	for _, suf := range suffixes {
		if strings.HasSuffix(base, suf) {
			return true
		}
	}
	return false
}
