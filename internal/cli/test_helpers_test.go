package cli

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	goflags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/chronicle/internal/backend"
	"github.com/runnerr0/chronicle/internal/bookmarks"
	"github.com/runnerr0/chronicle/internal/config"
	"github.com/runnerr0/chronicle/internal/dispatch"
	"github.com/runnerr0/chronicle/internal/history"
)

var (
	epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	day   = 24 * time.Hour
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// newTestSession opens an in-memory session on a manual clock at |epoch|.
func newTestSession(t *testing.T, bookmarked ...string) *session {
	return newTestSessionAt(t, backend.InMemory, bookmarked...)
}

// newTestSessionAt opens a session with partitions in |dir|.
func newTestSessionAt(t *testing.T, dir string, bookmarked ...string) *session {
	t.Helper()
	cfg := config.DefaultConfig()
	loop := dispatch.NewLoop(dispatch.NewManualClock(epoch))

	s, err := newSession(cfg, backendOptions(cfg, dir), loop, bookmarks.NewModel(bookmarked...))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// visit records a visit to |url| at |at|.
func visit(s *session, url, title string, tr history.PageTransition, at time.Time) {
	s.backend.AddPage(history.PageInfo{URL: url, Transition: tr, Time: at})
	if title != "" {
		s.backend.SetPageTitle(url, title)
	}
	s.settle()
}

// parseOnly parses |args| without executing the matched command.
func parseOnly(args ...string) (*GlobalFlags, *commands, error) {
	parser, globals, cmds := buildParser("test")
	parser.CommandHandler = func(goflags.Commander, []string) error { return nil }
	_, err := parser.ParseArgs(args)
	return globals, cmds, err
}
