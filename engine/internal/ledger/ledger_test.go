package ledger

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arachne/engine/models"
)

func TestLedgerAppendOrder(t *testing.T) {
	l := New(nil)
	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, l.Append(models.VisitedURL{URL: u, UqID: models.UqID(u)}, nil, nil))
	}
	assert.Equal(t, 3, l.Len())
	entries := l.Entries()
	assert.Equal(t, "a", entries[0].URL)
	assert.Equal(t, "c", entries[2].URL)

	var seen []string
	l.ForEach(func(v models.VisitedURL) bool {
		seen = append(seen, v.URL)
		return len(seen) < 2
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestLedgerWithoutStore(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Append(models.VisitedURL{UqID: "x"}, []byte("body"), nil))
	body, _, ok, err := l.Body("x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, body)
}

func storeContract(t *testing.T, store Store) {
	t.Helper()
	headers := http.Header{"Content-Type": []string{"text/html"}}
	require.NoError(t, store.PutBody("abcd1234", []byte("<html></html>"), headers))

	body, gotHeaders, ok, err := store.Body("abcd1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("<html></html>"), body)
	assert.Equal(t, "text/html", gotHeaders.Get("Content-Type"))

	_, _, ok, err = store.Body("missing0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	storeContract(t, store)
}

func TestBoltStore(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	storeContract(t, store)
}
