package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// Execute implements the go-flags Commander interface for BookmarkCommand.
func (c *BookmarkCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for bookmark command")
	}

	s, err := openSession(c.globals)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := c.executeWithSession(s); err != nil {
		return err
	}
	return s.bookmarks.Save()
}

// executeWithSession updates the bookmarks of a provided session, without
// saving them (for testing).
func (c *BookmarkCommand) executeWithSession(s *session) error {
	var changed bool
	if c.Remove {
		if changed = len(s.bookmarks.Remove(c.URL)) != 0; changed {
			// A URL without visits was only kept for its bookmark.
			s.backend.URLsNoLongerBookmarked([]string{c.URL})
		}
	} else {
		changed = s.bookmarks.Add(c.URL, c.Title, s.now())
	}
	s.settle()

	if c.globals != nil && c.globals.JSON {
		out := map[string]interface{}{
			"url":        c.URL,
			"bookmarked": !c.Remove,
			"changed":    changed,
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	switch {
	case !changed && c.Remove:
		fmt.Printf("Not bookmarked: %s\n", c.URL)
	case !changed:
		fmt.Printf("Already bookmarked: %s\n", c.URL)
	case c.Remove:
		fmt.Printf("Removed bookmark %s\n", c.URL)
	default:
		fmt.Printf("Bookmarked %s\n", c.URL)
	}
	return nil
}
