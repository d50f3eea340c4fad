package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arachne/engine/models"
)

func TestTableSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewTableSink(&buf)
	require.NoError(t, s.Write(models.VisitedURL{
		URL: "http://h.test/", Status: 200, Size: 2048, Elapsed: 12 * time.Millisecond,
		ContentType: models.ContentTypeHTML, Extras: map[string]string{"Title": "Home"},
	}))
	require.NoError(t, s.Write(models.VisitedURL{
		URL: "http://h.test/x", Status: models.StatusTimeout, ContentType: models.ContentTypeOther,
	}))

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3, "header plus two rows")
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "200")
	assert.Contains(t, lines[1], "2.0 kB")
	assert.Contains(t, lines[1], "Title=Home")
	assert.Contains(t, lines[2], "ERR-TO")
}

func TestJSONLSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLSink(&buf)
	require.NoError(t, s.Write(models.VisitedURL{URL: "http://h.test/", Status: 200}))
	require.NoError(t, s.Write(models.VisitedURL{URL: "http://h.test/a", Status: 404}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	var v models.VisitedURL
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &v))
	assert.Equal(t, 404, v.Status)
}
