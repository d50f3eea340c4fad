package urlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string, base *ParsedURL) *ParsedURL {
	t.Helper()
	p, err := Parse(raw, base)
	require.NoError(t, err)
	return p
}

func TestParseAbsolute(t *testing.T) {
	p := mustParse(t, "https://Example.COM/dir/page.html?a=1#frag", nil)
	assert.Equal(t, "https", p.Scheme)
	assert.Equal(t, "example.com", p.Host)
	assert.Equal(t, 443, p.Port)
	assert.Equal(t, "/dir/page.html", p.Path)
	assert.Equal(t, "a=1", p.Query)
	assert.Equal(t, "frag", p.Fragment)
	assert.Equal(t, "html", p.Extension)
	assert.Equal(t, "example.com", p.Domain2ndLevel)
}

func TestParseDefaults(t *testing.T) {
	p := mustParse(t, "http://host.test", nil)
	assert.Equal(t, 80, p.Port)
	assert.Equal(t, "/", p.Path)
	assert.True(t, p.IsDefaultPort())

	p = mustParse(t, "http://host.test:8080/", nil)
	assert.Equal(t, 8080, p.Port)
	assert.False(t, p.IsDefaultPort())
}

func TestParseRejectsNonHTTP(t *testing.T) {
	for _, raw := range []string{"mailto:x@y.z", "ftp://host/x", "javascript:void(0)", "file:///etc/passwd"} {
		_, err := Parse(raw, nil)
		assert.Error(t, err, raw)
	}
}

func TestSecondLevelDomain(t *testing.T) {
	assert.Equal(t, "example.com", mustParse(t, "http://www.sub.example.com/", nil).Domain2ndLevel)
	assert.Equal(t, "localhost", mustParse(t, "http://localhost/", nil).Domain2ndLevel)
}

func TestRelativeResolution(t *testing.T) {
	base := mustParse(t, "http://host.test/a/b/page.html?q=1", nil)

	cases := []struct {
		raw  string
		want string
	}{
		{"./x.html", "http://host.test/a/b/x.html"},
		{"x/y.html", "http://host.test/a/b/x/y.html"},
		{"/x.html", "http://host.test/x.html"},
		{"//cdn.test/img.png", "http://cdn.test/img.png"},
		{"https://other.test/z", "https://other.test/z"},
		{"../up.html", "http://host.test/a/up.html"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			p := mustParse(t, tc.raw, base)
			assert.Equal(t, tc.want, p.String())
		})
	}
}

func TestRelativeToDirectoryBase(t *testing.T) {
	base := mustParse(t, "http://host.test/a/b/", nil)
	assert.Equal(t, "http://host.test/a/b/x.html", mustParse(t, "x.html", base).String())
}

func TestCanonicalRoundTrip(t *testing.T) {
	for _, raw := range []string{
		"http://host.test/",
		"https://host.test/a/b?x=1&y=2",
		"http://host.test:8080/p.php?q=%2Fv",
	} {
		p := mustParse(t, raw, nil)
		again := mustParse(t, p.String(), nil)
		assert.Equal(t, p.String(), again.String())
	}
}

func TestFullURLVariants(t *testing.T) {
	p := mustParse(t, "https://host.test:443/a?x=1#top", nil)
	assert.Equal(t, "https://host.test/a?x=1", p.FullURL(true, false))
	assert.Equal(t, "https://host.test/a?x=1#top", p.FullURL(true, true))
	assert.Equal(t, "/a?x=1", p.FullURL(false, false))
}

func TestStaticFileHeuristics(t *testing.T) {
	assert.True(t, mustParse(t, "http://h.test/i.png", nil).IsStaticFile())
	assert.True(t, mustParse(t, "http://h.test/s.css", nil).IsStaticFile())
	assert.True(t, mustParse(t, "http://h.test/app.js", nil).IsStaticFile())
	assert.True(t, mustParse(t, "http://h.test/f.woff2", nil).IsStaticFile())
	assert.False(t, mustParse(t, "http://h.test/page.html", nil).IsStaticFile())
	assert.False(t, mustParse(t, "http://h.test/index.php", nil).IsStaticFile())
	assert.False(t, mustParse(t, "http://h.test/plain", nil).IsStaticFile())
	// Numeric pseudo-extensions are not static files.
	assert.False(t, mustParse(t, "http://h.test/v1.2", nil).IsStaticFile())
}

func TestIsHTMLLike(t *testing.T) {
	assert.True(t, mustParse(t, "http://h.test/", nil).IsHTMLLike())
	assert.True(t, mustParse(t, "http://h.test/a.aspx", nil).IsHTMLLike())
	assert.False(t, mustParse(t, "http://h.test/a.pdf", nil).IsHTMLLike())
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "", mustParse(t, "http://h.test/", nil).BaseName())
	assert.Equal(t, "page.html", mustParse(t, "http://h.test/a/page.html", nil).BaseName())
	assert.Equal(t, "dir", mustParse(t, "http://h.test/a/dir/", nil).BaseName())
	// Query with a path-like value folds into the basename.
	assert.Equal(t, "img?src=/a/b.png", mustParse(t, "http://h.test/img?src=/a/b.png", nil).BaseName())
	assert.Equal(t, "img?src=%2Fa", mustParse(t, "http://h.test/img?src=%2Fa", nil).BaseName())
	assert.Equal(t, "img", mustParse(t, "http://h.test/img?w=10", nil).BaseName())
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, mustParse(t, "http://h.test/", nil).Depth())
	assert.Equal(t, 1, mustParse(t, "http://h.test/a", nil).Depth())
	assert.Equal(t, 2, mustParse(t, "http://h.test/a/b", nil).Depth())
	assert.Equal(t, 2, mustParse(t, "http://h.test/a/b/", nil).Depth())
}

func TestChangeDepth(t *testing.T) {
	p := mustParse(t, "http://h.test/a/b/c/file.jpg", nil)
	up := p.ChangeDepth(-1)
	assert.Equal(t, "/a/b/file.jpg", up.Path)
	floor := p.ChangeDepth(-10)
	assert.Equal(t, "/file.jpg", floor.Path)
	same := p.ChangeDepth(0)
	assert.Equal(t, p.Path, same.Path)
}
