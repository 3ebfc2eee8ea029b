package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/chronicle/internal/history"
)

func TestStatus_EmptyHistory(t *testing.T) {
	s := newTestSession(t)
	cmd := &StatusCommand{globals: &GlobalFlags{}, version: "dev"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithSession(s))
	})

	assert.Contains(t, output, "Chronicle Status")
	assert.Contains(t, output, "Version:       dev")
	assert.Contains(t, output, "URLs:          0 (0 archived)")
	assert.Contains(t, output, "Visits:        0 (0 archived)")
	assert.Contains(t, output, "Archive after: 90 days")
	assert.Contains(t, output, "Archival:      running")
	for _, name := range []string{"history", "archived", "thumbnails", "text"} {
		assert.Regexp(t, `\s+`+name+`\s+open`, output)
	}
}

func TestStatus_WithData(t *testing.T) {
	s := newTestSession(t, "http://marked.com/")
	visit(s, "http://a.com/", "A", history.Typed, epoch.Add(-time.Hour))
	visit(s, "http://a.com/", "A", history.Link, epoch)
	visit(s, "http://old.com/", "", history.Typed, epoch.Add(-100*day))
	s.backend.ArchiveHistoryBefore(epoch.Add(-90 * day))
	s.backend.SetFavIcon("http://a.com/", "http://a.com/favicon.ico", []byte("png"))

	cmd := &StatusCommand{globals: &GlobalFlags{JSON: true}, version: "dev"}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithSession(s))
	})

	var out statusJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, "dev", out.Version)
	assert.Equal(t, int64(1), out.URLs)
	assert.Equal(t, int64(2), out.Visits)
	assert.Equal(t, int64(1), out.ArchivedURLs)
	assert.Equal(t, int64(1), out.ArchivedVisits)
	assert.Equal(t, int64(1), out.FavIcons)
	assert.Equal(t, 1, out.Bookmarks)
	assert.Equal(t, 90, out.ArchiveDays)
	assert.Equal(t, epoch.Add(-100*day).Format(time.RFC3339), out.FirstRecordedTime)
	assert.Len(t, out.Partitions, 4)
}

func TestStatus_OnDiskSizes(t *testing.T) {
	s := newTestSessionAt(t, t.TempDir())
	visit(s, "http://a.com/", "A", history.Typed, epoch)
	s.backend.Commit()

	cmd := &StatusCommand{globals: &GlobalFlags{JSON: true}, version: "dev"}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithSession(s))
	})

	var out statusJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	require.Equal(t, "history", out.Partitions[0].Name)
	assert.Greater(t, out.Partitions[0].SizeBytes, int64(0))
}
