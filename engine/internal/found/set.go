// Package found collects candidate URLs discovered by content processors,
// de-duplicating by md5 of the normalized URL and annotating each entry
// with the construct that yielded it.
package found

import (
	"strings"

	"arachne/engine/models"
)

// pseudoSchemes are link targets that can never become HTTP requests.
var pseudoSchemes = []string{
	"mailto:", "data:", "javascript:", "tel:", "sms:", "callto:",
	"skype:", "whatsapp:", "viber:", "geo:", "maps:", "fb:", "intent:",
	"market:", "itms:", "itms-apps:", "about:", "chrome:", "blob:",
}

// Set is a de-duplicating collector of FoundURLs. First insert wins.
type Set struct {
	order []models.FoundURL
	keys  map[string]struct{}
}

func NewSet() *Set {
	return &Set{keys: make(map[string]struct{})}
}

// Normalize prepares a raw attribute value for parsing: entity unescape of
// ampersands, quote/whitespace trimming, and percent-encoding of embedded
// spaces.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&#38;", "&")
	s = strings.ReplaceAll(s, " ", "%20")
	return s
}

// rejected reports whether a raw value can never be a crawlable URL:
// anchor-only references, non-HTTP pseudo-schemes, and file URLs.
func rejected(raw string) bool {
	if raw == "" || strings.HasPrefix(raw, "#") {
		return true
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "file://") {
		return true
	}
	for _, scheme := range pseudoSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Add normalizes raw and inserts it unless it is rejected or already
// present. Rejected items are silently dropped.
func (s *Set) Add(raw, sourceURL string, tag models.SourceTag) {
	norm := Normalize(raw)
	if rejected(norm) {
		return
	}
	key := models.Key(norm)
	if _, dup := s.keys[key]; dup {
		return
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, models.FoundURL{URL: norm, SourceURL: sourceURL, Tag: tag})
}

// AddAll merges another set, preserving first-wins semantics.
func (s *Set) AddAll(other *Set) {
	if other == nil {
		return
	}
	for _, f := range other.order {
		s.Add(f.URL, f.SourceURL, f.Tag)
	}
}

// URLs returns the collected entries in insertion order.
func (s *Set) URLs() []models.FoundURL { return s.order }

// Len returns the number of collected entries.
func (s *Set) Len() int { return len(s.order) }
