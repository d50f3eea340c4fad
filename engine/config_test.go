package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arachne/engine/models"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.URL = "http://host.test/"
	return cfg
}

func TestValidateRequiresURL(t *testing.T) {
	cfg := Defaults()
	assert.ErrorIs(t, cfg.Validate(), models.ErrMissingStartURL)

	cfg.URL = "not a url at all\x00"
	assert.ErrorIs(t, cfg.Validate(), models.ErrInvalidStartURL)

	cfg.URL = "ftp://host.test/"
	assert.ErrorIs(t, cfg.Validate(), models.ErrInvalidStartURL)
}

func TestValidateWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Workers = 0
	assert.ErrorIs(t, cfg.Validate(), models.ErrInvalidWorkerCount)
}

func TestValidateRegex(t *testing.T) {
	cfg := validConfig()
	cfg.IncludeRegex = []string{"("}
	assert.ErrorIs(t, cfg.Validate(), models.ErrInvalidRegex)

	cfg = validConfig()
	cfg.IgnoreRegex = []string{"ok", "[\\"}
	assert.ErrorIs(t, cfg.Validate(), models.ErrInvalidRegex)
}

func TestValidateMisc(t *testing.T) {
	cfg := validConfig()
	cfg.Device = "watch"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.ResultStorage = "cloud"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.HTTPAuth = "nopass"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Resolve = []string{"host.test:80"}
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.TransformURL = []string{"broken rule"}
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.MemoryLimit = "lots"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestFinalUserAgent(t *testing.T) {
	cfg := validConfig()
	ua := cfg.FinalUserAgent()
	assert.Contains(t, ua, "Mozilla/5.0")
	assert.True(t, strings.HasSuffix(ua, Signature+"/"+Version))

	cfg.UserAgent = "custom-agent/1.0"
	assert.Equal(t, "custom-agent/1.0 "+Signature+"/"+Version, cfg.FinalUserAgent())

	cfg.UserAgent = "stealth-agent/2.0!"
	assert.Equal(t, "stealth-agent/2.0", cfg.FinalUserAgent())

	cfg.UserAgent = ""
	cfg.Device = DeviceMobile
	assert.Contains(t, cfg.FinalUserAgent(), "iPhone")
}

func TestParseMemoryLimit(t *testing.T) {
	cases := map[string]int64{
		"512M": 512 << 20,
		"2G":   2 << 30,
		"100K": 100 << 10,
		"1024": 1024,
	}
	for in, want := range cases {
		got, err := ParseMemoryLimit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "M", "-5M", "abc"} {
		_, err := ParseMemoryLimit(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arachne.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: http://host.test/
workers: 7
max_reqs_per_sec: 2.5
timeout: 5s
ignore_robots_txt: true
allowed_domains_for_external_files:
  - cdn.example
`), 0o644))

	cfg := Defaults()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, "http://host.test/", cfg.URL)
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, 2.5, cfg.MaxReqsPerSec)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.IgnoreRobotsTxt)
	assert.Equal(t, []string{"cdn.example"}, cfg.AllowedDomainsForExternalFiles)
	// Untouched defaults survive the overlay.
	assert.Equal(t, 9000, cfg.MaxQueueLength)
}

func TestForcedIPs(t *testing.T) {
	cfg := validConfig()
	cfg.Resolve = []string{"cdn.example:80:127.0.0.1", "api.example:443:10.0.0.5"}
	forced, err := cfg.forcedIPs()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", forced["cdn.example:80"])
	assert.Equal(t, "10.0.0.5", forced["api.example:443"])
}

func TestBasicAuthSplit(t *testing.T) {
	cfg := validConfig()
	cfg.HTTPAuth = "user:pa:ss"
	u, p := cfg.basicAuth()
	assert.Equal(t, "user", u)
	assert.Equal(t, "pa:ss", p)
}
