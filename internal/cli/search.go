package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/chronicle/internal/history"
)

// Execute implements the go-flags Commander interface for SearchCommand.
func (c *SearchCommand) Execute(args []string) error {
	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	return c.executeWithSession(s, args)
}

// executeWithSession runs the search against a provided session (for testing).
func (c *SearchCommand) executeWithSession(s *session, args []string) error {
	query := strings.Join(args, " ")

	opts := history.QueryOptions{
		MaxCount:            c.Limit,
		MostRecentVisitOnly: c.Unique,
	}
	if c.Limit < 0 {
		return fmt.Errorf("invalid --limit value %d", c.Limit)
	}

	now := s.now()
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		opts.BeginTime = now.Add(-dur)
	}
	if c.Until != "" {
		dur, err := parseDuration(c.Until)
		if err != nil {
			return fmt.Errorf("invalid --until value %q: %w", c.Until, err)
		}
		opts.EndTime = now.Add(-dur)
	}

	results := s.backend.QueryHistory(query, opts)

	if c.globals != nil && c.globals.JSON {
		return c.printJSON(query, results)
	}
	c.printHuman(query, results)
	return nil
}

func (c *SearchCommand) rangeText() string {
	if c.Since == "" {
		return "all time"
	}
	return "since " + c.Since
}

func (c *SearchCommand) printHuman(query string, results history.QueryResults) {
	if results.Size() == 0 {
		if query != "" {
			fmt.Printf("No results found for %q (%s)\n", query, c.rangeText())
		} else {
			fmt.Printf("No results found (%s)\n", c.rangeText())
		}
		return
	}

	resultWord := "results"
	if results.Size() == 1 {
		resultWord = "result"
	}
	if query != "" {
		fmt.Printf("Found %d %s for %q (%s)\n\n", results.Size(), resultWord, query, c.rangeText())
	} else {
		fmt.Printf("Found %d %s (%s)\n\n", results.Size(), resultWord, c.rangeText())
	}

	for i, r := range results.Results {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Printf("%d. %s\n", i+1, title)
		fmt.Printf("   %s\n", r.URL)

		meta := r.VisitTime.Local().Format("2006-01-02 15:04")
		meta += fmt.Sprintf(" · %d visits", r.VisitCount)
		fmt.Printf("   %s\n", meta)
		if r.Snippet != "" {
			fmt.Printf("   %s\n", r.Snippet)
		}

		if i < results.Size()-1 {
			fmt.Println()
		}
	}
	if results.ReachedBeginning {
		fmt.Println()
		fmt.Println("(reached the beginning of history)")
	}
}

type jsonResult struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	VisitTime  string `json:"visit_time"`
	VisitCount int    `json:"visit_count"`
	TypedCount int    `json:"typed_count"`
	Snippet    string `json:"snippet,omitempty"`
}

type jsonSearchOutput struct {
	Count            int          `json:"count"`
	Query            string       `json:"query"`
	ReachedBeginning bool         `json:"reached_beginning"`
	Results          []jsonResult `json:"results"`
}

func (c *SearchCommand) printJSON(query string, results history.QueryResults) error {
	out := jsonSearchOutput{
		Count:            results.Size(),
		Query:            query,
		ReachedBeginning: results.ReachedBeginning,
		Results:          make([]jsonResult, results.Size()),
	}

	for i, r := range results.Results {
		out.Results[i] = jsonResult{
			URL:        r.URL,
			Title:      r.Title,
			VisitTime:  r.VisitTime.UTC().Format(time.RFC3339),
			VisitCount: r.VisitCount,
			TypedCount: r.TypedCount,
			Snippet:    r.Snippet,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
