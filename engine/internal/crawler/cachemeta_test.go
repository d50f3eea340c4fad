package crawler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arachne/engine/models"
)

func TestParseCacheMetaDirectives(t *testing.T) {
	cases := []struct {
		cacheControl string
		want         models.CacheType
	}{
		{"no-store", models.CacheTypeNoStore},
		{"no-cache, must-revalidate", models.CacheTypeNoCache},
		{"public, max-age=3600", models.CacheTypePublic},
		{"private, max-age=60", models.CacheTypePrivate},
		{"max-age=31536000, immutable", models.CacheTypeImmutable},
	}
	for _, tc := range cases {
		h := http.Header{}
		h.Set("Cache-Control", tc.cacheControl)
		ct, _ := parseCacheMeta(h)
		assert.Equal(t, tc.want, ct, tc.cacheControl)
	}
}

func TestParseCacheMetaMaxAgeMinusAge(t *testing.T) {
	h := http.Header{}
	h.Set("Cache-Control", "public, max-age=3600")
	h.Set("Age", "600")
	_, lifetime := parseCacheMeta(h)
	require.NotNil(t, lifetime)
	assert.EqualValues(t, 3000, *lifetime)
}

func TestParseCacheMetaExpiresFallback(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	h := http.Header{}
	h.Set("Date", now.Format(http.TimeFormat))
	h.Set("Expires", now.Add(90*time.Second).Format(http.TimeFormat))
	ct, lifetime := parseCacheMeta(h)
	assert.Equal(t, models.CacheTypeExpires, ct)
	require.NotNil(t, lifetime)
	assert.EqualValues(t, 90, *lifetime)
}

func TestParseCacheMetaUnavailable(t *testing.T) {
	ct, lifetime := parseCacheMeta(http.Header{})
	assert.Equal(t, models.CacheTypeUnknown, ct)
	assert.Nil(t, lifetime)
}

func TestClassifyContent(t *testing.T) {
	mk := func(kv ...string) http.Header {
		h := http.Header{}
		for i := 0; i < len(kv); i += 2 {
			h.Set(kv[i], kv[i+1])
		}
		return h
	}
	assert.Equal(t, models.ContentTypeHTML, classifyContent(mk("Content-Type", "text/html; charset=utf-8")))
	assert.Equal(t, models.ContentTypeScript, classifyContent(mk("Content-Type", "application/javascript")))
	assert.Equal(t, models.ContentTypeStylesheet, classifyContent(mk("Content-Type", "text/css")))
	assert.Equal(t, models.ContentTypeImage, classifyContent(mk("Content-Type", "image/png")))
	assert.Equal(t, models.ContentTypeAudio, classifyContent(mk("Content-Type", "audio/mpeg")))
	assert.Equal(t, models.ContentTypeVideo, classifyContent(mk("Content-Type", "video/mp4")))
	assert.Equal(t, models.ContentTypeFont, classifyContent(mk("Content-Type", "font/woff2")))
	assert.Equal(t, models.ContentTypeJSON, classifyContent(mk("Content-Type", "application/json")))
	assert.Equal(t, models.ContentTypeXML, classifyContent(mk("Content-Type", "application/xml")))
	assert.Equal(t, models.ContentTypeDocument, classifyContent(mk("Content-Type", "application/pdf")))
	assert.Equal(t, models.ContentTypeOther, classifyContent(mk("Content-Type", "application/octet-stream")))
	// Location wins regardless of content type.
	assert.Equal(t, models.ContentTypeRedirect, classifyContent(mk("Content-Type", "text/html", "Location", "/x")))
}
