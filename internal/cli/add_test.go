package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/chronicle/internal/history"
)

func TestAddCommand_BasicVisit(t *testing.T) {
	s := newTestSession(t)
	cmd := &AddCommand{URL: "https://example.com/page", Title: "Example Page", Transition: "typed", globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithSession(s))
	})

	assert.Contains(t, output, "Recorded visit")
	assert.Contains(t, output, "URL: https://example.com/page")
	assert.Contains(t, output, "Title: Example Page")
	assert.Contains(t, output, "Transition: typed|chain_start|chain_end")
	assert.Contains(t, output, "Body: no")

	r := s.backend.QueryURL("https://example.com/page", true)
	require.True(t, r.Success)
	assert.Equal(t, 1, r.Row.VisitCount)
	assert.Equal(t, 1, r.Row.TypedCount)
	assert.True(t, r.Row.LastVisit.Equal(epoch))
}

func TestAddCommand_WithInlineBody(t *testing.T) {
	s := newTestSession(t)
	cmd := &AddCommand{
		URL:        "https://example.com/article",
		Title:      "Article",
		Body:       "unmistakable prose",
		Transition: "link",
		globals:    &GlobalFlags{JSON: true},
	}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithSession(s))
	})

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, "Article", out["title"])
	assert.Equal(t, true, out["body"])
	assert.Equal(t, "link|chain_start|chain_end", out["transition"])

	results := s.backend.QueryHistory("unmistakable", history.QueryOptions{})
	require.Len(t, results.Results, 1)
	assert.Equal(t, "https://example.com/article", results.Results[0].URL)
}

func TestAddCommand_WithBodyFile(t *testing.T) {
	s := newTestSession(t)
	bodyPath := filepath.Join(t.TempDir(), "body.txt")
	require.NoError(t, os.WriteFile(bodyPath, []byte("content from a file"), 0644))

	cmd := &AddCommand{URL: "https://example.com/f", BodyFile: bodyPath, Transition: "typed", globals: &GlobalFlags{}}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithSession(s))
	})
	assert.Contains(t, output, "Body: yes")

	assert.Len(t, s.backend.QueryHistory("file", history.QueryOptions{}).Results, 1)
}

func TestAddCommand_Rejections(t *testing.T) {
	s := newTestSession(t)
	cases := []struct {
		name string
		cmd  AddCommand
		want string
	}{
		{"invalid url", AddCommand{URL: "not a url", Transition: "typed"}, "invalid URL: not a url"},
		{"body and file", AddCommand{URL: "http://a.com/", Body: "x", BodyFile: "y", Transition: "typed"},
			"--body and --body-file are mutually exclusive"},
		{"transition", AddCommand{URL: "http://a.com/", Transition: "teleport"}, `unknown transition "teleport"`},
		{"missing file", AddCommand{URL: "http://a.com/", BodyFile: "/nonexistent/body.txt", Transition: "typed"},
			"reading body file"},
		{"denylisted", AddCommand{URL: "https://www.chase.com/login", Transition: "typed"}, "not recorded"},
		{"unrecordable", AddCommand{URL: "javascript:void(0)", Transition: "typed"}, "not recorded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := tc.cmd
			cmd.globals = &GlobalFlags{}
			err := cmd.executeWithSession(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	n, err := s.backend.HistoryDB().CountURLs()
	require.NoError(t, err)
	assert.Zero(t, n)
}
