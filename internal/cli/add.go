package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/chronicle/internal/history"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for add command")
	}

	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s)
}

// executeWithSession runs the add logic against a provided session (used by tests).
func (c *AddCommand) executeWithSession(s *session) error {
	if !history.IsValidURL(c.URL) {
		return fmt.Errorf("invalid URL: %s", c.URL)
	}

	// Body and body-file are mutually exclusive
	if c.Body != "" && c.BodyFile != "" {
		return fmt.Errorf("--body and --body-file are mutually exclusive")
	}

	transition, ok := history.ParseCoreTransition(c.Transition)
	if !ok {
		return fmt.Errorf("unknown transition %q", c.Transition)
	}

	// Read body from file if specified
	body := c.Body
	if c.BodyFile != "" {
		data, err := os.ReadFile(c.BodyFile)
		if err != nil {
			return fmt.Errorf("reading body file: %w", err)
		}
		body = string(data)
	}

	s.backend.AddPage(history.PageInfo{
		URL:        c.URL,
		Transition: transition,
		Time:       s.now(),
	})
	if c.Title != "" {
		s.backend.SetPageTitle(c.URL, c.Title)
	}
	if body != "" {
		s.backend.SetPageContents(c.URL, body)
	}
	s.settle()

	// AddPage quietly drops what it won't record; say so explicitly.
	result := s.backend.QueryURL(c.URL, true)
	if !result.Success || len(result.Visits) == 0 {
		return fmt.Errorf("not recorded: %s is unrecordable or denylisted", c.URL)
	}
	visit := result.Visits[len(result.Visits)-1]

	// Output confirmation
	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"url":         result.Row.URL,
			"title":       result.Row.Title,
			"visit_time":  visit.VisitTime.UTC().Format(time.RFC3339Nano),
			"transition":  visit.Transition.String(),
			"visit_count": result.Row.VisitCount,
			"body":        body != "",
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	hasBody := "no"
	if body != "" {
		hasBody = "yes"
	}

	fmt.Printf("Recorded visit %d (%s)\n", visit.ID, visit.VisitTime.Format(time.RFC3339))
	fmt.Printf("  URL: %s\n", result.Row.URL)
	fmt.Printf("  Title: %s\n", result.Row.Title)
	fmt.Printf("  Transition: %s\n", visit.Transition)
	fmt.Printf("  Visits: %d\n", result.Row.VisitCount)
	fmt.Printf("  Body: %s\n", hasBody)

	return nil
}
