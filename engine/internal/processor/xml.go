package processor

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"arachne/engine/internal/found"
	"arachne/engine/internal/urlx"
	"arachne/engine/models"
)

// XMLProcessor treats XML bodies as sitemaps or sitemap indexes and
// enumerates their <loc> entries. Unrecognized XML yields nothing.
type XMLProcessor struct{}

func NewXMLProcessor() *XMLProcessor { return &XMLProcessor{} }

func (p *XMLProcessor) Name() string { return "xml" }

func (p *XMLProcessor) Accepts(ct models.ContentType) bool { return ct == models.ContentTypeXML }

func (p *XMLProcessor) FindURLs(body []byte, src *urlx.ParsedURL) (*found.Set, error) {
	set := found.NewSet()
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false

	recognized := false
	inLoc := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !recognized {
				return set, nil
			}
			return set, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch strings.ToLower(t.Name.Local) {
			case "urlset", "sitemapindex":
				recognized = true
			case "loc":
				inLoc = recognized
			}
		case xml.EndElement:
			if strings.ToLower(t.Name.Local) == "loc" {
				inLoc = false
			}
		case xml.CharData:
			if inLoc {
				set.Add(strings.TrimSpace(string(t)), src.String(), models.TagSitemap)
			}
		}
	}
	return set, nil
}
