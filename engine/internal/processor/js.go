package processor

import (
	"regexp"
	"strings"

	"arachne/engine/internal/found"
	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// jsPathLiteral matches quoted .js path literals inside manifest files.
var jsPathLiteral = regexp.MustCompile(`["']([A-Za-z0-9_/.\-\[\]@%]+?\.js)["']`)

// JSProcessor performs conservative extraction for Next.js build
// manifests only (_next/*manifest*.js). General-purpose JS parsing is
// deliberately out of reach.
type JSProcessor struct{}

func NewJSProcessor() *JSProcessor { return &JSProcessor{} }

func (p *JSProcessor) Name() string { return "js" }

func (p *JSProcessor) Accepts(ct models.ContentType) bool { return ct == models.ContentTypeScript }

func (p *JSProcessor) FindURLs(body []byte, src *urlx.ParsedURL) (*found.Set, error) {
	set := found.NewSet()
	if !isNextManifest(src) {
		return set, nil
	}
	baseDir := manifestBaseDir(src.Path)
	source := src.String()
	for _, m := range jsPathLiteral.FindAllStringSubmatch(string(body), -1) {
		ref := m[1]
		if strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "http") {
			set.Add(ref, source, models.TagJSUrl)
			continue
		}
		set.Add(baseDir+ref, source, models.TagJSUrl)
	}
	return set, nil
}

func isNextManifest(src *urlx.ParsedURL) bool {
	return strings.Contains(src.Path, "/_next/") && strings.Contains(strings.ToLower(src.BaseName()), "manifest")
}

// manifestBaseDir anchors relative refs to the _next static root rather
// than the manifest's own directory, matching how build manifests list
// chunk paths.
func manifestBaseDir(path string) string {
	if i := strings.Index(path, "/_next/"); i >= 0 {
		return path[:i+len("/_next/")]
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i+1]
	}
	return "/"
}
