package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arachne/engine/models"
)

func queued(url string) (string, models.QueuedURL) {
	return models.Key(url), models.QueuedURL{URL: url, UqID: models.UqID(url), Tag: models.TagAHref}
}

func TestEnqueueDedup(t *testing.T) {
	tbl := NewTables(10, 10, 10)
	key, q := queued("http://h.test/a")

	ok, err := tbl.Enqueue(key, q)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tbl.Enqueue(key, q)
	require.NoError(t, err)
	assert.False(t, ok, "second enqueue of same key is a no-op")
	assert.Equal(t, 1, tbl.QueueLen())
}

func TestEnqueueRejectsVisited(t *testing.T) {
	tbl := NewTables(10, 10, 10)
	key, q := queued("http://h.test/a")
	_, err := tbl.Enqueue(key, q)
	require.NoError(t, err)
	_, _, got, err := tbl.Dequeue()
	require.NoError(t, err)
	require.True(t, got)

	ok, err := tbl.Enqueue(key, q)
	require.NoError(t, err)
	assert.False(t, ok, "visited URLs are never re-queued")
}

func TestQueueCapacity(t *testing.T) {
	tbl := NewTables(2, 10, 10)
	for _, u := range []string{"http://h.test/1", "http://h.test/2"} {
		key, q := queued(u)
		_, err := tbl.Enqueue(key, q)
		require.NoError(t, err)
	}
	key, q := queued("http://h.test/3")
	_, err := tbl.Enqueue(key, q)
	require.ErrorIs(t, err, models.ErrCapacityExhausted)
	assert.Contains(t, err.Error(), "maxQueueLength")
}

func TestVisitedCapacityOnDequeue(t *testing.T) {
	tbl := NewTables(10, 1, 10)
	for _, u := range []string{"http://h.test/1", "http://h.test/2"} {
		key, q := queued(u)
		_, err := tbl.Enqueue(key, q)
		require.NoError(t, err)
	}
	_, _, got, err := tbl.Dequeue()
	require.NoError(t, err)
	require.True(t, got)

	_, _, _, err = tbl.Dequeue()
	require.ErrorIs(t, err, models.ErrCapacityExhausted)
	assert.Contains(t, err.Error(), "maxVisitedUrls")
}

func TestDequeueMovesToVisited(t *testing.T) {
	tbl := NewTables(10, 10, 10)
	key, q := queued("http://h.test/a")
	_, err := tbl.Enqueue(key, q)
	require.NoError(t, err)

	gotKey, gotEntry, got, err := tbl.Dequeue()
	require.NoError(t, err)
	require.True(t, got)
	assert.Equal(t, key, gotKey)
	assert.Equal(t, q.URL, gotEntry.URL)
	assert.Equal(t, 0, tbl.QueueLen())
	assert.Equal(t, 1, tbl.VisitedLen())
	assert.True(t, tbl.Contains(key))

	_, _, got, err = tbl.Dequeue()
	require.NoError(t, err)
	assert.False(t, got)
}

func TestSkipFirstReasonWins(t *testing.T) {
	tbl := NewTables(10, 10, 10)
	key := models.Key("http://other.test/x")
	s := models.SkippedURL{URL: "http://other.test/x", Reason: models.SkipNotAllowedHost, UqID: models.UqID("http://other.test/x")}
	require.NoError(t, tbl.Skip(key, s))
	s.Reason = models.SkipRobotsTxt
	require.NoError(t, tbl.Skip(key, s))

	entries := tbl.SkippedEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.SkipNotAllowedHost, entries[0].Reason)
}

func TestSkippedCapacity(t *testing.T) {
	tbl := NewTables(10, 10, 1)
	require.NoError(t, tbl.Skip("k1", models.SkippedURL{URL: "u1"}))
	err := tbl.Skip("k2", models.SkippedURL{URL: "u2"})
	require.ErrorIs(t, err, models.ErrCapacityExhausted)
	assert.Contains(t, err.Error(), "maxSkippedUrls")
}

func TestUpdateVisited(t *testing.T) {
	tbl := NewTables(10, 10, 10)
	key, q := queued("http://h.test/a")
	_, _ = tbl.Enqueue(key, q)
	_, _, _, _ = tbl.Dequeue()

	tbl.UpdateVisited(key, models.VisitedURL{URL: q.URL, UqID: q.UqID, Status: 200, Size: 10})
	entries := tbl.VisitedEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, 200, entries[0].Status)
}
