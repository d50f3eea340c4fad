package crawler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"arachne/engine/models"
)

// parseCacheMeta derives the cache classification and remaining freshness
// lifetime from response headers. Either value may be unavailable.
func parseCacheMeta(headers http.Header) (models.CacheType, *int64) {
	cacheControl := strings.ToLower(headers.Get("Cache-Control"))
	cacheType := models.CacheTypeUnknown
	switch {
	case strings.Contains(cacheControl, "no-store"):
		cacheType = models.CacheTypeNoStore
	case strings.Contains(cacheControl, "no-cache"):
		cacheType = models.CacheTypeNoCache
	case strings.Contains(cacheControl, "immutable"):
		cacheType = models.CacheTypeImmutable
	case strings.Contains(cacheControl, "private"):
		cacheType = models.CacheTypePrivate
	case strings.Contains(cacheControl, "public"):
		cacheType = models.CacheTypePublic
	case headers.Get("Expires") != "":
		cacheType = models.CacheTypeExpires
	}
	return cacheType, cacheLifetime(headers, cacheControl)
}

func cacheLifetime(headers http.Header, cacheControl string) *int64 {
	if maxAge, ok := directiveValue(cacheControl, "max-age"); ok {
		lifetime := maxAge
		if age, err := strconv.ParseInt(headers.Get("Age"), 10, 64); err == nil {
			lifetime -= age
		}
		return &lifetime
	}
	expires := headers.Get("Expires")
	if expires == "" {
		return nil
	}
	expiresAt, err := http.ParseTime(expires)
	if err != nil {
		return nil
	}
	reference := time.Now()
	if serverDate, err := http.ParseTime(headers.Get("Date")); err == nil {
		reference = serverDate
	}
	lifetime := int64(expiresAt.Sub(reference) / time.Second)
	return &lifetime
}

func directiveValue(cacheControl, name string) (int64, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, name+"=") {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimPrefix(directive, name+"="), 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// classifyContent maps the Content-Type header onto the closed enum;
// a Location header wins and classifies the response as a redirect.
func classifyContent(headers http.Header) models.ContentType {
	if headers.Get("Location") != "" {
		return models.ContentTypeRedirect
	}
	ct := strings.ToLower(headers.Get("Content-Type"))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml"):
		return models.ContentTypeHTML
	case strings.Contains(ct, "javascript") || ct == "text/js":
		return models.ContentTypeScript
	case strings.Contains(ct, "text/css"):
		return models.ContentTypeStylesheet
	case strings.HasPrefix(ct, "image/"):
		return models.ContentTypeImage
	case strings.HasPrefix(ct, "audio/"):
		return models.ContentTypeAudio
	case strings.HasPrefix(ct, "video/"):
		return models.ContentTypeVideo
	case strings.HasPrefix(ct, "font/") || strings.Contains(ct, "font-woff") || strings.Contains(ct, "ms-fontobject"):
		return models.ContentTypeFont
	case strings.Contains(ct, "json"):
		return models.ContentTypeJSON
	case strings.Contains(ct, "xml"):
		return models.ContentTypeXML
	case strings.Contains(ct, "pdf") || strings.Contains(ct, "msword") || strings.Contains(ct, "officedocument") || strings.Contains(ct, "opendocument"):
		return models.ContentTypeDocument
	default:
		return models.ContentTypeOther
	}
}
