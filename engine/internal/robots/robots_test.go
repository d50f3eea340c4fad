package robots

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arachne/engine/internal/urlx"
)

func parseURL(t *testing.T, raw string) *urlx.ParsedURL {
	t.Helper()
	p, err := urlx.Parse(raw, nil)
	require.NoError(t, err)
	return p
}

func robotsServer(t *testing.T, body string, status int, fetches *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt64(fetches, 1)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
		w.WriteHeader(200)
	}))
}

func TestParse(t *testing.T) {
	body := []byte(`
# comment
User-agent: *
Disallow: /private/
Allow: /private/ok
Crawl-delay: 10

User-agent: googlebot
Disallow: /google-only/

User-agent: arachne
Disallow: /no-arachne/
`)
	r := parse(body, "arachne")
	assert.Equal(t, []string{"/private/", "/no-arachne/"}, r.disallows)
}

func TestParseEmptyDisallowIgnored(t *testing.T) {
	r := parse([]byte("User-agent: *\nDisallow:\n"), "arachne")
	assert.Empty(t, r.disallows)
}

func TestIsAllowedDisallowPrefix(t *testing.T) {
	var fetches int64
	srv := robotsServer(t, "User-agent: *\nDisallow: /private/\n", 200, &fetches)
	defer srv.Close()

	o := New("arachne", "test-agent", false, nil)
	private := parseURL(t, srv.URL+"/private/p")
	public := parseURL(t, srv.URL+"/public/q")

	assert.False(t, o.IsAllowed(private))
	assert.True(t, o.IsAllowed(public))
	// Case-insensitive prefix match.
	assert.False(t, o.IsAllowed(parseURL(t, srv.URL+"/Private/Other")))
}

func TestSingleFetchPerHostPort(t *testing.T) {
	var fetches int64
	srv := robotsServer(t, "User-agent: *\nDisallow: /x/\n", 200, &fetches)
	defer srv.Close()

	o := New("arachne", "test-agent", false, nil)
	for i := 0; i < 5; i++ {
		o.IsAllowed(parseURL(t, srv.URL+"/page"))
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&fetches))
}

func TestFetchFailureAllowsAllWithNotice(t *testing.T) {
	var fetches int64
	srv := robotsServer(t, "nope", 404, &fetches)
	defer srv.Close()

	var notices []FetchNotice
	o := New("arachne", "test-agent", false, func(n FetchNotice) { notices = append(notices, n) })
	assert.True(t, o.IsAllowed(parseURL(t, srv.URL+"/anything")))
	assert.True(t, o.IsAllowed(parseURL(t, srv.URL+"/else")))
	assert.Len(t, notices, 1)
	assert.EqualValues(t, 1, atomic.LoadInt64(&fetches))
}

func TestIgnoreRobots(t *testing.T) {
	var fetches int64
	srv := robotsServer(t, "User-agent: *\nDisallow: /\n", 200, &fetches)
	defer srv.Close()

	o := New("arachne", "test-agent", true, nil)
	assert.True(t, o.IsAllowed(parseURL(t, srv.URL+"/anything")))
	assert.EqualValues(t, 0, atomic.LoadInt64(&fetches))
}

func TestAssetsBypass(t *testing.T) {
	var fetches int64
	srv := robotsServer(t, "User-agent: *\nDisallow: /\n", 200, &fetches)
	defer srv.Close()

	o := New("arachne", "test-agent", false, nil)
	assert.True(t, o.IsAllowed(parseURL(t, srv.URL+"/img/logo.png")))
	assert.True(t, o.IsAllowed(parseURL(t, srv.URL+"/css/site.css")))
	assert.EqualValues(t, 0, atomic.LoadInt64(&fetches))
}
